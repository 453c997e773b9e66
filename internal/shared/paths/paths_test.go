package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) Root {
	t.Helper()
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestResolve(t *testing.T) {
	root := newRoot(t)

	tests := []struct {
		name    string
		in      string
		want    string
		invalid bool
	}{
		{"empty is root", "", root.Dir(), false},
		{"relative", "nb/a.py", filepath.Join(root.Dir(), "nb", "a.py"), false},
		{"absolute inside", filepath.ToSlash(filepath.Join(root.Dir(), "a.py")), filepath.Join(root.Dir(), "a.py"), false},
		{"dot segments inside", "nb/../a.py", filepath.Join(root.Dir(), "a.py"), false},
		{"escapes", "../outside.py", "", true},
		{"absolute outside", "/etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := root.Resolve(tt.in)
			if tt.invalid {
				assert.ErrorIs(t, err, protocol.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFollowsSymlinks(t *testing.T) {
	root := newRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root.Dir(), "inner"), 0o755))
	if err := os.Symlink(outside, filepath.Join(root.Dir(), "out")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root.Dir(), "inner"), filepath.Join(root.Dir(), "in")))

	for _, p := range []string{"out", "out/secret.txt", "out/missing/deeper.py"} {
		_, err := root.Resolve(p)
		assert.ErrorIs(t, err, protocol.ErrInvalidPath, p)
	}
	_, err := root.ResolveNew("out/new.py")
	assert.ErrorIs(t, err, protocol.ErrInvalidPath)

	got, err := root.Resolve("in/a.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Dir(), "in", "a.py"), got)
}

func TestResolveNewRequiresParent(t *testing.T) {
	root := newRoot(t)

	_, err := root.ResolveNew("missing/a.py")
	assert.ErrorIs(t, err, protocol.ErrInvalidPath)

	_, err = root.ResolveNew("")
	assert.ErrorIs(t, err, protocol.ErrInvalidPath)

	got, err := root.ResolveNew("a.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Dir(), "a.py"), got)
}

func TestRel(t *testing.T) {
	root := newRoot(t)
	assert.Equal(t, "", root.Rel(root.Dir()))
	assert.Equal(t, "nb/a.py", root.Rel(filepath.Join(root.Dir(), "nb", "a.py")))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	require.NoError(t, WriteAtomic(target, []byte("new"), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteAtomicMissingDirLeavesNothing(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing", "a.py")
	assert.Error(t, WriteAtomic(target, []byte("x"), 0o644))
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}
