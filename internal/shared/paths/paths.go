// Package paths resolves client paths against the workspace root.
//
// Client paths are forward-slash strings, either relative to the root or
// absolute paths inside it. Anything that resolves outside the root is
// rejected with an InvalidPathError.
package paths

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// Root is an absolute, cleaned workspace root.
type Root struct {
	dir string
}

// NewRoot resolves dir to an absolute path and checks it is a directory.
func NewRoot(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Root{}, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return Root{}, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return Root{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (r Root) Dir() string {
	return r.dir
}

// String returns the root in forward-slash form, as reported to clients.
func (r Root) String() string {
	return filepath.ToSlash(r.dir)
}

// Resolve maps a client path to an absolute filesystem path inside the root.
// The empty path resolves to the root itself.
func (r Root) Resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", protocol.InvalidPathf("path contains NUL byte")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	var abs string
	if path.IsAbs(p) {
		abs = filepath.Clean(filepath.FromSlash(p))
	} else {
		abs = filepath.Join(r.dir, filepath.FromSlash(p))
	}
	if !r.Contains(abs) {
		return "", protocol.InvalidPathf("path %q escapes the workspace root", p)
	}
	// A symlink inside the root may still point outside it.
	if resolved, err := physical(abs); err != nil || !r.Contains(resolved) {
		return "", protocol.InvalidPathf("path %q escapes the workspace root", p)
	}
	return abs, nil
}

// physical resolves symlinks along the longest existing prefix of abs and
// re-attaches the components that do not exist yet.
func physical(abs string) (string, error) {
	existing, rest := abs, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, rest), nil
}

// ResolveNew resolves a path that is about to be created: its parent must
// exist and be a directory.
func (r Root) ResolveNew(p string) (string, error) {
	abs, err := r.Resolve(p)
	if err != nil {
		return "", err
	}
	if abs == r.dir {
		return "", protocol.InvalidPathf("cannot replace the workspace root")
	}
	parent, err := os.Stat(filepath.Dir(abs))
	if err != nil || !parent.IsDir() {
		return "", protocol.InvalidPathf("parent directory of %q does not exist", p)
	}
	return abs, nil
}

// Contains reports whether abs is the root or lies beneath it.
func (r Root) Contains(abs string) bool {
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Rel returns the forward-slash path of abs relative to the root.
func (r Root) Rel(abs string) string {
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Client returns the path reported to clients for abs (absolute, forward-slash).
func (r Root) Client(abs string) string {
	return filepath.ToSlash(abs)
}

// WriteAtomic writes data to a temp file beside target and renames it over
// target. On failure target is left untouched.
func WriteAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
