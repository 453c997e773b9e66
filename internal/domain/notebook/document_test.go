package notebook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

func saved(pairs ...string) []protocol.SavedCell {
	var cells []protocol.SavedCell
	for i := 0; i+1 < len(pairs); i += 2 {
		cells = append(cells, protocol.SavedCell{ID: id.CellID(pairs[i]), Code: pairs[i+1], Name: DefaultCellName})
	}
	return cells
}

func run(pairs ...string) []protocol.Pair[id.CellID, string] {
	var out []protocol.Pair[id.CellID, string]
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, protocol.Pair[id.CellID, string]{Key: id.CellID(pairs[i]), Value: pairs[i+1]})
	}
	return out
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, path, doc.Path())
	assert.Empty(t, doc.Snapshot().Cells)
}

func TestOpenExistingNotebook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	writeFile(t, path, string(Generate(sampleNotebook())))

	doc, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, codes(sampleNotebook()), codes(doc.Snapshot()))

	again, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, doc.Snapshot().IDs(), again.Snapshot().IDs())
}

func TestOpenRejectsPlainPython(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.py")
	writeFile(t, path, "print(1)\n")

	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrNotNotebook)
}

func TestRunInsertsAndUpdates(t *testing.T) {
	doc := New(Notebook{Cells: []Cell{{ID: "c1", Code: "a = 1", Name: DefaultCellName}}}, "", Options{})

	var order []id.CellID
	err := doc.Run(run("c1", "a = 2", "c2", "b = a"), func(c Cell) { order = append(order, c.ID) })
	require.NoError(t, err)

	assert.Equal(t, []id.CellID{"c1", "c2"}, order)
	assert.Equal(t, []string{"a = 2", "b = a"}, codes(doc.Snapshot()))
}

func TestSaveWritesAndSkipsIdenticalBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	var writes []WriteEvent
	doc, err := Open(path, Options{OnWrite: func(e WriteEvent) { writes = append(writes, e) }})
	require.NoError(t, err)

	require.NoError(t, doc.Save(saved("c1", "x = 1", "c2", "y = x"), path, nil))
	require.Len(t, writes, 1)
	assert.Equal(t, path, writes[0].Path)
	assert.Positive(t, writes[0].LinesAdded)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(Generate(doc.Snapshot())), string(onDisk))

	require.NoError(t, doc.Save(saved("c1", "x = 1", "c2", "y = x"), path, nil))
	assert.Len(t, writes, 1, "identical save must not rewrite the file")
}

func TestSaveRefusesDifferentFilename(t *testing.T) {
	dir := t.TempDir()
	doc, err := Open(filepath.Join(dir, "a.py"), Options{})
	require.NoError(t, err)

	err = doc.Save(saved("c1", "x = 1"), filepath.Join(dir, "b.py"), nil)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.NoFileExists(t, filepath.Join(dir, "b.py"))
}

func TestSaveBindsUnnamedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "named.py")
	doc := New(Notebook{}, "", Options{})

	assert.ErrorIs(t, doc.Save(saved("c1", "x = 1"), "", nil), protocol.ErrProtocol)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), path, nil))
	assert.Equal(t, path, doc.Path())
	assert.FileExists(t, path)
}

func TestFailedSaveKeepsSnapshot(t *testing.T) {
	doc := New(Notebook{Cells: []Cell{{ID: "c1", Code: "x = 1", Name: DefaultCellName}}}, "", Options{})
	target := filepath.Join(t.TempDir(), "missing", "nb.py")

	err := doc.Save(saved("c1", "x = 2"), target, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrBackendExecution)
	assert.Equal(t, []string{"x = 1"}, codes(doc.Snapshot()))
	assert.Empty(t, doc.Path())
}

func TestFailedSaveKeepsPreviousFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), path, nil))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	require.Error(t, doc.Save(saved("c1", "x = 2"), path, nil))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"x = 1"}, codes(doc.Snapshot()))
}

func TestSaveWritesLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dash.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)

	layout := &protocol.Layout{Type: "grid", Data: []byte(`{"cells":[]}`)}
	require.NoError(t, doc.Save(saved("c1", "x = 1"), path, layout))
	assert.Equal(t, "layouts/dash.grid.json", doc.Snapshot().App.LayoutFile)
	assert.FileExists(t, filepath.Join(dir, "layouts", "dash.grid.json"))

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	require.NotNil(t, reopened.Snapshot().Layout)
	assert.Equal(t, "grid", reopened.Snapshot().Layout.Type)
}

func TestFailedSaveRestoresLayout(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nb.py")
	// A directory at the target makes the final rename fail.
	require.NoError(t, os.Mkdir(target, 0o755))
	layouts := filepath.Join(dir, "layouts")
	require.NoError(t, os.Mkdir(layouts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(layouts, "nb.grid.json"), []byte("old"), 0o644))

	doc := New(Notebook{Cells: []Cell{{ID: "c1", Code: "x = 1", Name: DefaultCellName}}}, "", Options{})

	err := doc.Save(saved("c1", "x = 2"), target, &protocol.Layout{Type: "grid", Data: []byte(`{"cells":[]}`)})
	require.Error(t, err)
	data, err := os.ReadFile(filepath.Join(layouts, "nb.grid.json"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	err = doc.Save(saved("c1", "x = 2"), target, &protocol.Layout{Type: "slides", Data: []byte(`{}`)})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(layouts, "nb.slides.json"))
	assert.Empty(t, doc.Snapshot().App.LayoutFile)
}

func TestDeletedCellIsNotFound(t *testing.T) {
	doc := New(Notebook{Cells: []Cell{
		{ID: "c1", Code: "x = 1", Name: DefaultCellName},
		{ID: "c2", Code: "y = 2", Name: DefaultCellName},
	}}, "", Options{})

	require.NoError(t, doc.Delete("c1"))
	assert.Equal(t, []id.CellID{"c2"}, doc.Snapshot().IDs())

	assert.ErrorIs(t, doc.Delete("c1"), protocol.ErrNotFound)
	assert.ErrorIs(t, doc.Run(run("c1", "x = 3"), nil), protocol.ErrNotFound)
	assert.ErrorIs(t, doc.Save(saved("c1", "x = 3"), filepath.Join(t.TempDir(), "nb.py"), nil), protocol.ErrNotFound)
	_, err := doc.Format(map[id.CellID]string{"c1": "x=3", "c2": "y=2"}, 0)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	assert.ErrorIs(t, doc.SaveCellConfig(map[id.CellID]protocol.CellConfig{"c1": {Disabled: true}}), protocol.ErrNotFound)

	assert.ErrorIs(t, doc.Delete("never"), protocol.ErrNotFound)
}

func TestFormatDoesNotMutate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "a=1", "c2", "b = 2"), path, nil))

	out, err := doc.Format(map[id.CellID]string{"c1": "a=1", "c2": "f(("}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[id.CellID]string{"c1": "a = 1"}, out)
	assert.Equal(t, []string{"a=1", "b = 2"}, codes(doc.Snapshot()))
}

func TestSaveCellConfigPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), path, nil))

	require.NoError(t, doc.SaveCellConfig(map[id.CellID]protocol.CellConfig{"c1": {HideCode: true}}))
	assert.True(t, doc.Snapshot().Cells[0].Config.HideCode)

	src, err := doc.ReadCode()
	require.NoError(t, err)
	assert.Contains(t, src, "@app.cell(hide_code=True)")

	assert.ErrorIs(t, doc.SaveCellConfig(map[id.CellID]protocol.CellConfig{"zz": {}}), protocol.ErrNotFound)
}

func TestSaveAppConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), path, nil))

	require.NoError(t, doc.SaveAppConfig(protocol.AppConfig{Width: "full"}))
	src, err := doc.ReadCode()
	require.NoError(t, err)
	assert.Contains(t, src, `app = marimo.App(width="full")`)
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "a.py")
	to := filepath.Join(dir, "b.py")
	doc, err := Open(from, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), from, nil))

	require.NoError(t, doc.Rename(to))
	assert.Equal(t, to, doc.Path())
	assert.NoFileExists(t, from)
	assert.FileExists(t, to)

	writeFile(t, from, "taken")
	assert.ErrorIs(t, doc.Rename(from), protocol.ErrConflict)
	assert.Equal(t, to, doc.Path())
}

func TestRenameConvertsFormat(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "a.py")
	to := filepath.Join(dir, "a.md")
	doc, err := Open(from, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1"), from, nil))

	require.NoError(t, doc.Rename(to))
	assert.NoFileExists(t, from)
	data, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.True(t, IsMarkdownNotebook(data))
}

func TestReadCodeUnsaved(t *testing.T) {
	doc := New(Notebook{Cells: []Cell{{ID: "c1", Code: "x = 1", Name: DefaultCellName}}}, "", Options{})
	src, err := doc.ReadCode()
	require.NoError(t, err)
	assert.Contains(t, src, "    x = 1\n")
}

func TestReloadKeepsIDsOfUnchangedCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.py")
	doc, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, doc.Save(saved("c1", "x = 1", "c2", "y = x"), path, nil))

	changed, err := doc.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "own write is not a change")

	external := New(Notebook{Cells: []Cell{
		{ID: "o1", Code: "x = 1", Name: DefaultCellName},
		{ID: "o2", Code: "y = x + 1", Name: DefaultCellName},
	}}, "", Options{})
	data, err := external.Render()
	require.NoError(t, err)
	writeFile(t, path, string(data))

	changed, err = doc.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	snap := doc.Snapshot()
	assert.Equal(t, id.CellID("c1"), snap.Cells[0].ID)
	assert.NotEqual(t, id.CellID("c2"), snap.Cells[1].ID)
	assert.Equal(t, "y = x + 1", snap.Cells[1].Code)
}
