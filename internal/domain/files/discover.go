package files

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// DefaultIgnore is skipped by discovery unless configured otherwise.
var DefaultIgnore = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/.ipynb_checkpoints/**",
}

func compileIgnore(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultIgnore
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Model) ignored(rel string, dir bool) bool {
	for _, p := range m.ignore {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
		if dir && doublestar.MatchUnvalidated(p, rel+"/") {
			return true
		}
	}
	return false
}

// WorkspaceNotebooks walks the root in parallel and returns every notebook
// found, sorted by path. Markdown notebooks are included on request.
func (m *Model) WorkspaceNotebooks(ctx context.Context, includeMarkdown bool) ([]protocol.NotebookSummary, error) {
	var (
		mu    sync.Mutex
		found []protocol.NotebookSummary
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, m.root.Dir(), func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		rel := m.root.Rel(p)
		if rel == "" {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || m.ignored(rel, true) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if m.ignored(rel, false) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext != ".py" && !(includeMarkdown && ext == ".md") {
			return nil
		}
		if !IsNotebook(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		modified := float64(info.ModTime().UnixNano()) / 1e9
		mu.Lock()
		found = append(found, protocol.NotebookSummary{Name: d.Name(), Path: rel, LastModified: &modified})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	m.log.Debug("workspace scanned", zap.Int("notebooks", len(found)))
	if found == nil {
		found = []protocol.NotebookSummary{}
	}
	return found, nil
}
