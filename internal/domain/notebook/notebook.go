// Package notebook implements the cell model: the in-memory notebook
// snapshot, its file formats and the session-owned Document that applies
// run, save, delete and config requests.
package notebook

import (
	"math/rand"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// MarimoVersion is written into generated notebook headers.
const MarimoVersion = "0.8.22"

// DefaultCellName is the name of an anonymous cell.
const DefaultCellName = "_"

// Cell is a named, independently executable unit of code.
type Cell struct {
	ID     id.CellID
	Code   string
	Name   string
	Config protocol.CellConfig
}

// Notebook is an immutable-by-convention snapshot of a notebook.
type Notebook struct {
	Cells         []Cell
	App           protocol.AppConfig
	Layout        *protocol.Layout
	GeneratedWith string
}

// Clone returns a deep copy of the snapshot.
func (nb Notebook) Clone() Notebook {
	out := nb
	out.Cells = make([]Cell, len(nb.Cells))
	for i, c := range nb.Cells {
		out.Cells[i] = c
		if c.Config.Column != nil {
			col := *c.Config.Column
			out.Cells[i].Config.Column = &col
		}
	}
	if nb.Layout != nil {
		l := *nb.Layout
		l.Data = append([]byte(nil), nb.Layout.Data...)
		out.Layout = &l
	}
	return out
}

// Index returns the position of the cell, or -1.
func (nb Notebook) Index(cellID id.CellID) int {
	for i, c := range nb.Cells {
		if c.ID == cellID {
			return i
		}
	}
	return -1
}

// Get returns the cell with the given id.
func (nb Notebook) Get(cellID id.CellID) (Cell, bool) {
	if i := nb.Index(cellID); i >= 0 {
		return nb.Cells[i], true
	}
	return Cell{}, false
}

// IDs returns the cell ids in order.
func (nb Notebook) IDs() []id.CellID {
	out := make([]id.CellID, len(nb.Cells))
	for i, c := range nb.Cells {
		out[i] = c.ID
	}
	return out
}

// KernelReady renders the snapshot as the kernel-ready op payload.
func (nb Notebook) KernelReady(resumed bool, uiValues map[string]protocol.Value) protocol.KernelReady {
	kr := protocol.KernelReady{
		CellIDs:   nb.IDs(),
		Codes:     make([]string, len(nb.Cells)),
		Names:     make([]string, len(nb.Cells)),
		Configs:   make([]protocol.CellConfig, len(nb.Cells)),
		Layout:    nb.Layout,
		Resumed:   resumed,
		UIValues:  uiValues,
		AppConfig: nb.App,
	}
	for i, c := range nb.Cells {
		kr.Codes[i] = c.Code
		kr.Names[i] = c.Name
		kr.Configs[i] = c.Config
	}
	return kr
}

// Kind is the on-disk notebook format.
type Kind int

const (
	KindPython Kind = iota
	KindMarkdown
)

// KindForPath selects the format from the file extension.
func KindForPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".qmd":
		return KindMarkdown
	}
	return KindPython
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// IDGenerator mints short cell ids for cells recovered from disk. A fixed
// seed makes reloads of the same file produce the same ids.
type IDGenerator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seen map[id.CellID]bool
}

// NewIDGenerator creates a generator with the given seed.
func NewIDGenerator(seed int64) *IDGenerator {
	return &IDGenerator{rng: rand.New(rand.NewSource(seed)), seen: make(map[id.CellID]bool)}
}

// Reserve marks ids as taken.
func (g *IDGenerator) Reserve(ids ...id.CellID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cid := range ids {
		g.seen[cid] = true
	}
}

// Next returns a fresh four-letter id.
func (g *IDGenerator) Next() id.CellID {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		var b [4]byte
		for i := range b {
			b[i] = idAlphabet[g.rng.Intn(len(idAlphabet))]
		}
		cid := id.CellID(b[:])
		if !g.seen[cid] {
			g.seen[cid] = true
			return cid
		}
	}
}
