// Package files implements the workspace file model: listing, CRUD and
// details for paths under the workspace root, plus notebook discovery.
//
// Paths are forward-slash strings relative to the root or absolute paths
// inside it. Mutating calls on the same path are serialized through a lock
// table; a call that finds its path already held fails with ConflictError.
package files

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

// headSize bounds how much of a file is read to classify it as a notebook.
const headSize = 64 * 1024

// Model serves file operations for one workspace root.
type Model struct {
	root   paths.Root
	ignore []string
	locks  *lockTable
	log    *zap.Logger
}

// New creates a file model. ignore holds doublestar globs, matched against
// root-relative paths, that discovery skips.
func New(root paths.Root, ignore []string, log *zap.Logger) (*Model, error) {
	if log == nil {
		log = zap.NewNop()
	}
	patterns, err := compileIgnore(ignore)
	if err != nil {
		return nil, err
	}
	return &Model{
		root:   root,
		ignore: patterns,
		locks:  newLockTable(root.Rel),
		log:    log,
	}, nil
}

// Root returns the workspace root.
func (m *Model) Root() paths.Root {
	return m.root
}

// Info describes the file or directory at abs. Directory children are left
// empty.
func (m *Model) Info(abs string) (protocol.FileInfo, error) {
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return protocol.FileInfo{}, protocol.NotFoundf("%q does not exist", m.root.Rel(abs))
		}
		return protocol.FileInfo{}, protocol.BackendExecution(err, "stat %q", m.root.Rel(abs))
	}
	return m.info(abs, st), nil
}

func (m *Model) info(abs string, st os.FileInfo) protocol.FileInfo {
	modified := float64(st.ModTime().UnixNano()) / 1e9
	fi := protocol.FileInfo{
		ID:           id.FileIDForPath(m.root.Rel(abs)),
		Path:         m.root.Client(abs),
		Name:         st.Name(),
		LastModified: &modified,
		IsDirectory:  st.IsDir(),
		Children:     []protocol.FileInfo{},
	}
	if abs == m.root.Dir() {
		fi.Name = filepath.Base(abs)
	}
	if !st.IsDir() {
		fi.IsMarimoFile = IsNotebook(abs)
	}
	return fi
}

// IsNotebook reports whether abs is a marimo notebook: a .py file declaring
// a marimo app or a .md file with marimo frontmatter.
func IsNotebook(abs string) bool {
	ext := strings.ToLower(filepath.Ext(abs))
	if ext != ".py" && ext != ".md" {
		return false
	}
	f, err := os.Open(abs)
	if err != nil {
		return false
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(f, headSize))
	if err != nil {
		return false
	}
	if ext == ".md" {
		return notebook.IsMarkdownNotebook(head)
	}
	return notebook.IsPythonNotebook(head) && bytes.Contains(head, []byte("import marimo"))
}

// List returns the immediate children of path, directories first, then by
// name. Hidden entries are skipped. It never recurses.
func (m *Model) List(path string) (protocol.FileListResponse, error) {
	abs, err := m.root.Resolve(path)
	if err != nil {
		return protocol.FileListResponse{}, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return protocol.FileListResponse{}, protocol.NotFoundf("%q does not exist", path)
		default:
			if st, statErr := os.Stat(abs); statErr == nil && !st.IsDir() {
				return protocol.FileListResponse{}, protocol.InvalidPathf("%q is not a directory", path)
			}
			return protocol.FileListResponse{}, protocol.BackendExecution(err, "list %q", path)
		}
	}

	files := make([]protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		child := filepath.Join(abs, e.Name())
		st, err := os.Stat(child)
		if err != nil {
			m.log.Debug("skipping unreadable entry", zap.String("path", child), zap.Error(err))
			continue
		}
		files = append(files, m.info(child, st))
	}
	sortInfos(files)

	return protocol.FileListResponse{Files: files, Root: m.root.String()}, nil
}

func sortInfos(files []protocol.FileInfo) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].IsDirectory != files[j].IsDirectory {
			return files[i].IsDirectory
		}
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})
}
