package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

func rowTable() *Table {
	return FromRows([]map[string]any{
		{"A": 1, "B": "a"},
		{"A": 2, "B": "b"},
		{"A": 3, "B": "c"},
	})
}

func columnTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := FromColumns(map[string][]any{"A": {1, 2, 3}, "B": {"a", "b", "c"}})
	require.NoError(t, err)
	return tbl
}

func TestRowTable(t *testing.T) {
	tbl := rowTable()

	t.Run("select rows", func(t *testing.T) {
		out, err := tbl.SelectRows([]int{0, 2})
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"A": 1, "B": "a"}, {"A": 3, "B": "c"}}, out.Data())
	})

	t.Run("select no rows", func(t *testing.T) {
		out, err := tbl.SelectRows([]int{})
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{}, out.Data())
	})

	t.Run("select rows out of range", func(t *testing.T) {
		_, err := tbl.SelectRows([]int{3})
		assert.ErrorIs(t, err, protocol.ErrProtocol)
	})

	t.Run("select columns", func(t *testing.T) {
		out := tbl.SelectColumns([]string{"A"})
		assert.Equal(t, []map[string]any{{"A": 1}, {"A": 2}, {"A": 3}}, out.Data())
	})

	t.Run("limit", func(t *testing.T) {
		assert.Equal(t, []map[string]any{{"A": 1, "B": "a"}}, tbl.Limit(1).Data())
		assert.Equal(t, 3, tbl.Limit(10).NumRows())
	})

	t.Run("row headers", func(t *testing.T) {
		assert.Empty(t, tbl.RowHeaders())
	})
}

func TestColumnarTable(t *testing.T) {
	tbl := columnTable(t)

	out, err := tbl.SelectRows([]int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, map[string][]any{"A": {1, 3}, "B": {"a", "c"}}, out.Data())

	empty, err := tbl.SelectRows(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string][]any{"A": {}, "B": {}}, empty.Data())

	assert.Equal(t, map[string][]any{"A": {1, 2, 3}}, tbl.SelectColumns([]string{"A"}).Data())
	assert.Equal(t, map[string][]any{"A": {1}, "B": {"a"}}, tbl.Limit(1).Data())
	assert.True(t, tbl.Columnar())
}

func TestFromColumnsRejectsRagged(t *testing.T) {
	_, err := FromColumns(map[string][]any{"A": {1, 2}, "B": {1}})
	assert.ErrorIs(t, err, ErrNotTable)
}

func TestIsTable(t *testing.T) {
	assert.True(t, IsTable([]any{map[string]any{"a": 1}}))
	assert.True(t, IsTable(map[string]any{"a": []any{1}}))
	assert.False(t, IsTable("not a dataframe"))
	assert.False(t, IsTable([]any{1, 2}))
}

func TestParse(t *testing.T) {
	tbl, err := Parse([]byte(`[{"x": 1, "y": 2.5}, {"x": 2, "y": null}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, []string{"x", "y"}, tbl.Columns())
	assert.Equal(t, map[string]string{"x": protocol.ColumnInteger, "y": protocol.ColumnNumber}, tbl.FieldTypes())

	_, err = Parse([]byte(`"scalar"`))
	assert.ErrorIs(t, err, ErrNotTable)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   string
	}{
		{"booleans", []any{true, false, nil}, protocol.ColumnBoolean},
		{"integers", []any{1, int64(2), json.Number("3")}, protocol.ColumnInteger},
		{"mixed numbers", []any{1, 2.5}, protocol.ColumnNumber},
		{"strings", []any{"a", "b"}, protocol.ColumnString},
		{"dates", []any{"2024-01-02", "2024-03-04T05:06:07Z"}, protocol.ColumnDate},
		{"dates and strings", []any{"2024-01-02", "later"}, protocol.ColumnString},
		{"all null", []any{nil, nil}, protocol.ColumnUnknown},
		{"mixed kinds", []any{1, "a"}, protocol.ColumnUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.values))
		})
	}
}

func TestNumericSummary(t *testing.T) {
	tbl, err := FromColumns(map[string][]any{"n": {1.0, 2.0, 3.0, 4.0, nil}})
	require.NoError(t, err)

	s, err := tbl.Summary("n")
	require.NoError(t, err)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 1, s.Nulls)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	require.NotNil(t, s.Mean)
	assert.InDelta(t, 2.5, *s.Mean, 1e-9)
	require.NotNil(t, s.Std)
	assert.InDelta(t, 1.2909944, *s.Std, 1e-6)
	require.NotNil(t, s.Median)
	require.NotNil(t, s.P5)
	require.NotNil(t, s.P95)
	assert.LessOrEqual(t, *s.P5, *s.P25)
	assert.LessOrEqual(t, *s.P75, *s.P95)
}

func TestBooleanAndStringSummary(t *testing.T) {
	tbl := FromRows([]map[string]any{
		{"flag": true, "name": "b"},
		{"flag": false, "name": "a"},
		{"flag": true, "name": "b"},
	})

	flags, err := tbl.Summary("flag")
	require.NoError(t, err)
	require.NotNil(t, flags.True)
	assert.Equal(t, 2, *flags.True)
	assert.Equal(t, 1, *flags.False)

	names, err := tbl.Summary("name")
	require.NoError(t, err)
	require.NotNil(t, names.Unique)
	assert.Equal(t, 2, *names.Unique)
	assert.Equal(t, "a", names.Min)
	assert.Equal(t, "b", names.Max)

	_, err = tbl.Summary("missing")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("people", "", "df", rowTable())
	reg.Register("cols", "duckdb", "", columnTable(t))

	tables := reg.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "cols", tables[0].Name)
	assert.Nil(t, tables[0].VariableName)
	assert.Equal(t, "people", tables[1].Name)
	assert.Equal(t, SourceMemory, tables[1].Source)
	require.NotNil(t, tables[1].VariableName)
	assert.Equal(t, "df", *tables[1].VariableName)
	assert.Equal(t, 3, tables[1].NumRows)
	assert.Equal(t, []protocol.DataTableColumn{{Name: "A", Type: protocol.ColumnInteger}, {Name: "B", Type: protocol.ColumnString}}, tables[1].Columns)

	preview := reg.Preview("", "people", "A")
	assert.Empty(t, preview.Error)
	require.NotNil(t, preview.Summary)
	assert.Equal(t, 3, preview.Summary.Total)

	assert.NotEmpty(t, reg.Preview(SourceMemory, "cols", "A").Error)
	assert.NotEmpty(t, reg.Preview("", "nope", "A").Error)

	reg.Remove("people")
	_, err := reg.Get("", "people")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}
