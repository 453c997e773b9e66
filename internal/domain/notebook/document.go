package notebook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/format"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

// idSeed makes cell ids recovered from the same file stable across opens.
const idSeed = 42

// WriteEvent describes a completed notebook write.
type WriteEvent struct {
	Path         string
	Data         []byte
	LinesAdded   int
	LinesRemoved int
}

// Options configures a Document.
type Options struct {
	Logger  *zap.Logger
	OnWrite func(WriteEvent)
}

// Document is the session-owned cell model. Every mutation runs under one
// mutex, which totally orders saves against runs, deletes and config updates.
type Document struct {
	mu      sync.Mutex
	path    string
	nb      Notebook
	deleted map[id.CellID]struct{}
	ids     *IDGenerator
	saved   []byte
	log     *zap.Logger
	onWrite func(WriteEvent)
}

// Open loads the notebook at path. A missing file yields an empty notebook
// that is created on first save; an empty path yields an unnamed notebook.
func Open(path string, opts Options) (*Document, error) {
	d := newDocument(path, opts)
	if path == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}

	nb, err := d.parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse notebook %s: %w", filepath.Base(path), err)
	}
	if nb.App.LayoutFile != "" {
		layout, err := ReadLayout(path, nb.App.LayoutFile)
		if err != nil {
			d.log.Warn("layout not loaded", zap.String("layout_file", nb.App.LayoutFile), zap.Error(err))
		}
		nb.Layout = layout
	}
	d.nb = nb
	d.saved = data
	return d, nil
}

// New wraps an in-memory snapshot, used for exports and tests.
func New(nb Notebook, path string, opts Options) *Document {
	d := newDocument(path, opts)
	d.nb = nb.Clone()
	d.ids.Reserve(nb.IDs()...)
	return d
}

func newDocument(path string, opts Options) *Document {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Document{
		path:    path,
		deleted: make(map[id.CellID]struct{}),
		ids:     NewIDGenerator(idSeed),
		log:     log,
		onWrite: opts.OnWrite,
	}
}

func (d *Document) parse(data []byte) (Notebook, error) {
	if KindForPath(d.path) == KindMarkdown {
		return ParseMarkdown(data, d.ids)
	}
	return Parse(data, d.ids)
}

func (d *Document) render(nb Notebook) ([]byte, error) {
	if KindForPath(d.path) == KindMarkdown {
		title := strings.TrimSuffix(filepath.Base(d.path), filepath.Ext(d.path))
		return GenerateMarkdown(nb, title)
	}
	return Generate(nb), nil
}

// Path returns the absolute notebook path, empty when unnamed.
func (d *Document) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Snapshot returns a copy of the current notebook.
func (d *Document) Snapshot() Notebook {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nb.Clone()
}

func (d *Document) checkLive(cellID id.CellID) error {
	if _, gone := d.deleted[cellID]; gone {
		return protocol.NotFoundf("cell %q was deleted", cellID)
	}
	return nil
}

// Run updates each cell's code, inserting ids not yet in the notebook, and
// hands every cell to enqueue in request order while the lock is held.
// A deleted id fails the whole call before anything changes.
func (d *Document) Run(pairs []protocol.Pair[id.CellID, string], enqueue func(Cell)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range pairs {
		if err := d.checkLive(p.Key); err != nil {
			return err
		}
	}
	for _, p := range pairs {
		i := d.nb.Index(p.Key)
		if i < 0 {
			d.nb.Cells = append(d.nb.Cells, Cell{ID: p.Key, Name: DefaultCellName})
			d.ids.Reserve(p.Key)
			i = len(d.nb.Cells) - 1
		}
		d.nb.Cells[i].Code = p.Value
		if enqueue != nil {
			enqueue(d.nb.Cells[i])
		}
	}
	return nil
}

// Save persists a full snapshot to target. The file is rendered in memory,
// written through a temp file and renamed; the in-memory snapshot changes
// only after the rename succeeds. Saving to a different path than the
// document's is refused: use Rename.
func (d *Document) Save(cells []protocol.SavedCell, target string, layout *protocol.Layout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range cells {
		if err := d.checkLive(c.ID); err != nil {
			return err
		}
	}
	if target == "" {
		return protocol.Protocolf("filename is required")
	}
	if d.path != "" && filepath.Clean(target) != filepath.Clean(d.path) {
		return protocol.Protocolf("save cannot rename %q to %q", filepath.Base(d.path), filepath.Base(target))
	}

	next := d.nb.Clone()
	next.Cells = make([]Cell, len(cells))
	for i, c := range cells {
		next.Cells[i] = Cell{ID: c.ID, Code: c.Code, Name: c.Name, Config: c.Config}
		if next.Cells[i].Name == "" {
			next.Cells[i].Name = DefaultCellName
		}
	}
	undo := func() {}
	if layout != nil {
		rel, restore, err := WriteLayout(target, *layout)
		if err != nil {
			return err
		}
		undo = restore
		next.App.LayoutFile = rel
		l := *layout
		next.Layout = &l
	} else {
		next.App.LayoutFile = ""
		next.Layout = nil
	}

	if err := d.commit(target, next); err != nil {
		undo()
		return err
	}
	d.path = target
	d.ids.Reserve(next.IDs()...)
	return nil
}

// commit renders next, writes it unless the file already holds the same
// bytes, then swaps the in-memory snapshot.
func (d *Document) commit(target string, next Notebook) error {
	prevPath := d.path
	d.path = target
	data, err := d.render(next)
	d.path = prevPath
	if err != nil {
		return protocol.BackendExecution(err, "render notebook")
	}

	current, readErr := os.ReadFile(target)
	if readErr == nil && bytes.Equal(current, data) {
		d.nb = next
		d.saved = data
		return nil
	}

	if err := paths.WriteAtomic(target, data, 0o644); err != nil {
		return protocol.BackendExecution(err, "save notebook")
	}
	added, removed := lineDelta(string(current), string(data))
	d.log.Info("notebook saved",
		zap.String("path", target),
		zap.Int("cells", len(next.Cells)),
		zap.Int("lines_added", added),
		zap.Int("lines_removed", removed))

	d.nb = next
	d.saved = data
	if d.onWrite != nil {
		d.onWrite(WriteEvent{Path: target, Data: data, LinesAdded: added, LinesRemoved: removed})
	}
	return nil
}

// lineDelta counts inserted and deleted lines between two renderings.
func lineDelta(before, after string) (int, int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	var added, removed int
	for _, diff := range diffs {
		n := strings.Count(diff.Text, "\n")
		if n == 0 && diff.Text != "" {
			n = 1
		}
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

// Delete removes a cell. Later references to it resolve to NotFoundError.
func (d *Document) Delete(cellID id.CellID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLive(cellID); err != nil {
		return err
	}
	i := d.nb.Index(cellID)
	if i < 0 {
		return protocol.NotFoundf("cell %q not found", cellID)
	}
	d.nb.Cells = append(d.nb.Cells[:i:i], d.nb.Cells[i+1:]...)
	d.deleted[cellID] = struct{}{}
	return nil
}

// Format formats the given cells without touching the notebook. Cells that
// fail to format are omitted from the result.
func (d *Document) Format(codes map[id.CellID]string, lineLength int) (map[id.CellID]string, error) {
	d.mu.Lock()
	for cellID := range codes {
		if err := d.checkLive(cellID); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	d.mu.Unlock()

	formatted, failed := format.Cells(codes, lineLength)
	for cellID, err := range failed {
		d.log.Debug("cell not formatted", zap.String("cell_id", cellID.String()), zap.Error(err))
	}
	return formatted, nil
}

// SaveCellConfig replaces the config of each listed cell and persists the
// notebook when it has a path.
func (d *Document) SaveCellConfig(configs map[id.CellID]protocol.CellConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for cellID := range configs {
		if err := d.checkLive(cellID); err != nil {
			return err
		}
		if d.nb.Index(cellID) < 0 {
			return protocol.NotFoundf("cell %q not found", cellID)
		}
	}
	next := d.nb.Clone()
	for cellID, cfg := range configs {
		next.Cells[next.Index(cellID)].Config = cfg
	}
	return d.persist(next)
}

// SaveAppConfig replaces the notebook-level config and persists the notebook
// when it has a path.
func (d *Document) SaveAppConfig(cfg protocol.AppConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.nb.Clone()
	next.App = cfg
	return d.persist(next)
}

func (d *Document) persist(next Notebook) error {
	if d.path == "" {
		d.nb = next
		return nil
	}
	return d.commit(d.path, next)
}

// Rename rebinds the document to target, moving the file when it exists.
// An existing target is a ConflictError.
func (d *Document) Rename(target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if filepath.Clean(target) == filepath.Clean(d.path) {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		return protocol.Conflictf("%q already exists", filepath.Base(target))
	}

	if d.path != "" {
		if _, err := os.Stat(d.path); err == nil {
			if KindForPath(d.path) != KindForPath(target) {
				return d.convert(target)
			}
			if err := os.Rename(d.path, target); err != nil {
				return protocol.BackendExecution(err, "rename notebook")
			}
			d.log.Info("notebook renamed", zap.String("from", d.path), zap.String("to", target))
			d.path = target
			return nil
		}
	}
	d.path = target
	return nil
}

// convert writes the notebook in target's format and removes the old file.
func (d *Document) convert(target string) error {
	old := d.path
	if err := d.commit(target, d.nb); err != nil {
		return err
	}
	if err := os.Remove(old); err != nil {
		d.log.Warn("old notebook not removed", zap.String("path", old), zap.Error(err))
	}
	d.path = target
	return nil
}

// ReadCode returns the notebook file contents, or the rendering of the
// in-memory notebook when it has not been written yet.
func (d *Document) ReadCode() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.path != "" {
		data, err := os.ReadFile(d.path)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", protocol.BackendExecution(err, "read notebook")
		}
	}
	data, err := d.render(d.nb)
	if err != nil {
		return "", protocol.BackendExecution(err, "render notebook")
	}
	return string(data), nil
}

// Render returns the notebook rendered in the document's format.
func (d *Document) Render() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.render(d.nb)
}

// Reload re-reads the file after an external change. It reports false when
// the file still holds what this document last wrote. Cells whose code is
// unchanged keep their ids.
func (d *Document) Reload() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return false, fmt.Errorf("read notebook: %w", err)
	}
	if bytes.Equal(data, d.saved) {
		return false, nil
	}
	nb, err := d.parse(data)
	if err != nil {
		return false, err
	}

	byCode := make(map[string][]id.CellID)
	for _, c := range d.nb.Cells {
		byCode[c.Code] = append(byCode[c.Code], c.ID)
	}
	for i, c := range nb.Cells {
		if prev := byCode[c.Code]; len(prev) > 0 {
			nb.Cells[i].ID = prev[0]
			byCode[c.Code] = prev[1:]
		}
	}
	nb.Layout = d.nb.Layout
	d.nb = nb
	d.saved = data
	return true, nil
}
