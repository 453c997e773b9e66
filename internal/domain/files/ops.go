package files

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

// Entry types accepted by Create.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

func failure(format string, args ...any) protocol.FileOperationResponse {
	return protocol.FileOperationResponse{Success: false, Message: fmt.Sprintf(format, args...)}
}

func (m *Model) success(abs string) protocol.FileOperationResponse {
	resp := protocol.FileOperationResponse{Success: true}
	if info, err := m.Info(abs); err == nil {
		resp.Info = &info
	}
	return resp
}

// Create makes a file or directory called name inside the directory path.
// File contents are base64 encoded; they are ignored for directories.
func (m *Model) Create(req protocol.FileCreateRequest) (protocol.FileOperationResponse, error) {
	if req.Type != TypeFile && req.Type != TypeDirectory {
		return protocol.FileOperationResponse{}, protocol.Protocolf("type must be %q or %q, got %q", TypeFile, TypeDirectory, req.Type)
	}
	if req.Name == "" || strings.ContainsAny(req.Name, `/\`) || req.Name == "." || req.Name == ".." {
		return protocol.FileOperationResponse{}, protocol.InvalidPathf("invalid name %q", req.Name)
	}
	dir, err := m.root.Resolve(req.Path)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return protocol.FileOperationResponse{}, protocol.InvalidPathf("parent directory %q does not exist", req.Path)
	}
	target := filepath.Join(dir, req.Name)

	var data []byte
	if req.Type == TypeFile && req.Contents != nil {
		data, err = base64.StdEncoding.DecodeString(*req.Contents)
		if err != nil {
			return protocol.FileOperationResponse{}, protocol.Protocolf("contents are not valid base64: %v", err)
		}
	}

	release, err := m.locks.acquire(target)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	defer release()

	if _, err := os.Lstat(target); err == nil {
		return failure("%s already exists", req.Name), nil
	}

	if req.Type == TypeDirectory {
		if err := os.Mkdir(target, 0o755); err != nil {
			return failure("create directory: %v", err), nil
		}
	} else {
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return failure("create file: %v", err), nil
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(target)
			return failure("write file: %v", errors.Join(werr, cerr)), nil
		}
	}

	m.log.Info("created", logging.Op("create"), logging.Path(m.root.Rel(target)), zap.String("type", req.Type))
	return m.success(target), nil
}

// Delete removes a file or a directory tree.
func (m *Model) Delete(req protocol.FileDeleteRequest) (protocol.FileOperationResponse, error) {
	abs, err := m.existing(req.Path)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	release, err := m.locks.acquire(abs)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	defer release()

	st, err := os.Lstat(abs)
	if err != nil {
		return protocol.FileOperationResponse{}, protocol.NotFoundf("%q does not exist", req.Path)
	}
	if st.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return failure("delete: %v", err), nil
	}

	m.log.Info("deleted", logging.Op("delete"), logging.Path(m.root.Rel(abs)))
	return protocol.FileOperationResponse{Success: true}, nil
}

// Move renames path to newPath. An existing destination is reported as a
// failure and nothing is changed.
func (m *Model) Move(req protocol.FileMoveRequest) (protocol.FileOperationResponse, error) {
	src, err := m.existing(req.Path)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	dst, err := m.root.ResolveNew(req.NewPath)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	if src == dst {
		return m.success(dst), nil
	}
	if strings.HasPrefix(dst, src+string(filepath.Separator)) {
		return failure("cannot move %s into itself", filepath.Base(src)), nil
	}

	release, err := m.locks.acquire(src, dst)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	defer release()

	if _, err := os.Lstat(src); err != nil {
		return protocol.FileOperationResponse{}, protocol.NotFoundf("%q does not exist", req.Path)
	}
	if _, err := os.Lstat(dst); err == nil {
		return failure("%s already exists", filepath.Base(dst)), nil
	}
	if err := os.Rename(src, dst); err != nil {
		return failure("move: %v", err), nil
	}

	m.log.Info("moved", logging.Op("move"), zap.String("from", m.root.Rel(src)), zap.String("to", m.root.Rel(dst)))
	return m.success(dst), nil
}

// Update replaces a file's contents through a temp file and rename.
func (m *Model) Update(req protocol.FileUpdateRequest) (protocol.FileOperationResponse, error) {
	abs, err := m.existing(req.Path)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	release, err := m.locks.acquire(abs)
	if err != nil {
		return protocol.FileOperationResponse{}, err
	}
	defer release()

	st, err := os.Stat(abs)
	if err != nil {
		return protocol.FileOperationResponse{}, protocol.NotFoundf("%q does not exist", req.Path)
	}
	if st.IsDir() {
		return failure("%s is a directory", filepath.Base(abs)), nil
	}
	if err := paths.WriteAtomic(abs, []byte(req.Contents), st.Mode().Perm()); err != nil {
		return failure("update: %v", err), nil
	}

	m.log.Info("updated", logging.Op("update"), logging.Path(m.root.Rel(abs)), zap.Int("bytes", len(req.Contents)))
	return m.success(abs), nil
}

// existing resolves a path that must exist and must not be the root.
func (m *Model) existing(p string) (string, error) {
	abs, err := m.root.Resolve(p)
	if err != nil {
		return "", err
	}
	if abs == m.root.Dir() {
		return "", protocol.InvalidPathf("cannot modify the workspace root")
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", protocol.NotFoundf("%q does not exist", p)
	}
	return abs, nil
}
