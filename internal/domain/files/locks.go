package files

import (
	"sync"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// lockTable tracks paths held by in-flight mutations. display renders a held
// path for conflict messages.
type lockTable struct {
	mu      sync.Mutex
	held    map[string]struct{}
	display func(string) string
}

func newLockTable(display func(string) string) *lockTable {
	return &lockTable{held: make(map[string]struct{}), display: display}
}

// acquire takes every path or none. A path already held is a ConflictError.
func (t *lockTable) acquire(paths ...string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range paths {
		if _, busy := t.held[p]; busy {
			return nil, protocol.Conflictf("%q is being modified by another request", t.display(p))
		}
	}
	for _, p := range paths {
		t.held[p] = struct{}{}
	}
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, p := range paths {
			delete(t.held, p)
		}
	}, nil
}
