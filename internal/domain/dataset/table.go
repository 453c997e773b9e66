// Package dataset manages tabular values exposed by a session: row
// selection, column projection, type inference and column summaries.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// ErrNotTable is returned when a value is neither a list of records nor a
// map of equal-length columns.
var ErrNotTable = errors.New("value is not a table")

var decoder = sonic.Config{UseNumber: true}.Froze()

// Table is row-oriented ([]map[string]any) or columnar (map[string][]any)
// data. Operations return new tables in the same orientation.
type Table struct {
	rows     []map[string]any
	columns  map[string][]any
	names    []string
	columnar bool
}

// FromRows wraps a list of records. Column order is the sorted union of keys.
func FromRows(rows []map[string]any) *Table {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	return &Table{rows: rows, names: sortedNames(seen)}
}

// FromColumns wraps columnar data. All columns must have the same length.
func FromColumns(columns map[string][]any) (*Table, error) {
	seen := make(map[string]struct{}, len(columns))
	n := -1
	for k, v := range columns {
		if n >= 0 && len(v) != n {
			return nil, fmt.Errorf("%w: column %q has %d values, expected %d", ErrNotTable, k, len(v), n)
		}
		n = len(v)
		seen[k] = struct{}{}
	}
	return &Table{columns: columns, names: sortedNames(seen), columnar: true}, nil
}

// FromValue converts a decoded JSON value into a table.
func FromValue(v any) (*Table, error) {
	switch data := v.(type) {
	case []map[string]any:
		return FromRows(data), nil
	case map[string][]any:
		return FromColumns(data)
	case []any:
		rows := make([]map[string]any, len(data))
		for i, item := range data {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: row %d is %T", ErrNotTable, i, item)
			}
			rows[i] = rec
		}
		return FromRows(rows), nil
	case map[string]any:
		cols := make(map[string][]any, len(data))
		for k, item := range data {
			col, ok := item.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: column %q is %T", ErrNotTable, k, item)
			}
			cols[k] = col
		}
		return FromColumns(cols)
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotTable, v)
	}
}

// Parse decodes JSON into a table.
func Parse(raw []byte) (*Table, error) {
	var v any
	if err := decoder.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return FromValue(v)
}

// IsTable reports whether v can be wrapped as a table.
func IsTable(v any) bool {
	_, err := FromValue(v)
	return err == nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Columnar reports the table's orientation.
func (t *Table) Columnar() bool { return t.columnar }

// Columns returns the column names.
func (t *Table) Columns() []string { return append([]string(nil), t.names...) }

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int { return len(t.names) }

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if !t.columnar {
		return len(t.rows)
	}
	for _, col := range t.columns {
		return len(col)
	}
	return 0
}

// Data returns the underlying []map[string]any or map[string][]any.
func (t *Table) Data() any {
	if t.columnar {
		return t.columns
	}
	return t.rows
}

// RowHeaders returns the row header columns. Plain tables have none.
func (t *Table) RowHeaders() []string {
	return []string{}
}

// SelectRows keeps the rows at indices, in the given order.
func (t *Table) SelectRows(indices []int) (*Table, error) {
	n := t.NumRows()
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, protocol.Protocolf("row index %d out of range [0, %d)", i, n)
		}
	}
	if !t.columnar {
		rows := make([]map[string]any, len(indices))
		for j, i := range indices {
			rows[j] = t.rows[i]
		}
		return &Table{rows: rows, names: t.names}, nil
	}
	cols := make(map[string][]any, len(t.columns))
	for k, col := range t.columns {
		out := make([]any, len(indices))
		for j, i := range indices {
			out[j] = col[i]
		}
		cols[k] = out
	}
	return &Table{columns: cols, names: t.names, columnar: true}, nil
}

// SelectColumns projects the table onto names. Unknown names are ignored.
func (t *Table) SelectColumns(names []string) *Table {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	var kept []string
	for _, n := range t.names {
		if _, ok := keep[n]; ok {
			kept = append(kept, n)
		}
	}

	if t.columnar {
		cols := make(map[string][]any, len(kept))
		for _, n := range kept {
			cols[n] = t.columns[n]
		}
		return &Table{columns: cols, names: kept, columnar: true}
	}
	rows := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		out := make(map[string]any, len(kept))
		for _, n := range kept {
			if v, ok := r[n]; ok {
				out[n] = v
			}
		}
		rows[i] = out
	}
	return &Table{rows: rows, names: kept}
}

// Limit keeps the first n rows.
func (t *Table) Limit(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n > t.NumRows() {
		n = t.NumRows()
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	out, _ := t.SelectRows(indices)
	return out
}

// Column returns the values of one column, nil for missing cells.
func (t *Table) Column(name string) ([]any, bool) {
	if t.columnar {
		col, ok := t.columns[name]
		return col, ok
	}
	found := false
	for _, n := range t.names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[name]
	}
	return out, true
}

// FieldTypes returns the inferred type of every column.
func (t *Table) FieldTypes() map[string]string {
	types := make(map[string]string, len(t.names))
	for _, n := range t.names {
		col, _ := t.Column(n)
		types[n] = InferType(col)
	}
	return types
}

// Metadata describes the table for the datasets op.
func (t *Table) Metadata(name, source string, variableName *string) protocol.DataTable {
	cols := make([]protocol.DataTableColumn, len(t.names))
	types := t.FieldTypes()
	for i, n := range t.names {
		cols[i] = protocol.DataTableColumn{Name: n, Type: types[n]}
	}
	return protocol.DataTable{
		Name:         name,
		Source:       source,
		VariableName: variableName,
		NumRows:      t.NumRows(),
		NumColumns:   t.NumColumns(),
		Columns:      cols,
	}
}

// MarshalJSON encodes the underlying data.
func (t *Table) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(t.Data())
}
