package dataset

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// SourceMemory is the source of tables registered by the kernel.
const SourceMemory = "memory"

type entry struct {
	table    *Table
	source   string
	variable *string
}

// Registry holds the tables known to one session.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]entry)}
}

// Register adds or replaces a table. An empty variable name is stored as null.
func (r *Registry) Register(name, source, variable string, t *Table) {
	if source == "" {
		source = SourceMemory
	}
	var v *string
	if variable != "" {
		v = &variable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[name] = entry{table: t, source: source, variable: v}
}

// Remove drops a table.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, name)
}

// Get returns a table registered under name from source. An empty source
// matches any.
func (r *Registry) Get(source, name string) (*Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[name]
	if !ok || (source != "" && e.source != source) {
		return nil, protocol.NotFoundf("table %q not found", name)
	}
	return e.table, nil
}

// Tables describes every registered table, sorted by name.
func (r *Registry) Tables() []protocol.DataTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.DataTable, 0, len(r.tables))
	for name, e := range r.tables {
		out = append(out, e.table.Metadata(name, e.source, e.variable))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Preview summarizes one column, reporting failures in the payload.
func (r *Registry) Preview(source, tableName, columnName string) protocol.DataColumnPreview {
	preview := protocol.DataColumnPreview{TableName: tableName, ColumnName: columnName}
	t, err := r.Get(source, tableName)
	if err != nil {
		preview.Error = err.Error()
		return preview
	}
	summary, err := t.Summary(columnName)
	if err != nil {
		preview.Error = err.Error()
		return preview
	}
	preview.Summary = &summary
	return preview
}
