package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

const layoutDir = "layouts"

// layoutType keeps the type usable as a single file name segment.
var layoutType = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LayoutFileFor returns the layout file path, relative to the notebook's
// directory, for a notebook file and layout type.
func LayoutFileFor(notebookPath, layoutType string) string {
	stem := strings.TrimSuffix(filepath.Base(notebookPath), filepath.Ext(notebookPath))
	return filepath.ToSlash(filepath.Join(layoutDir, stem+"."+layoutType+".json"))
}

// WriteLayout stores layout data beside the notebook and returns the
// relative layout file name for the app config. undo puts back whatever the
// layout file held before the write.
func WriteLayout(notebookPath string, layout protocol.Layout) (rel string, undo func(), err error) {
	if layout.Type == "" {
		return "", nil, protocol.Protocolf("layout type is required")
	}
	if !layoutType.MatchString(layout.Type) {
		return "", nil, protocol.Protocolf("invalid layout type %q", layout.Type)
	}
	var data any
	if len(layout.Data) > 0 {
		if err := sonic.Unmarshal(layout.Data, &data); err != nil {
			return "", nil, protocol.Protocolf("invalid layout data: %v", err)
		}
	}
	encoded, err := sonic.ConfigStd.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode layout: %w", err)
	}

	rel = LayoutFileFor(notebookPath, layout.Type)
	abs := filepath.Join(filepath.Dir(notebookPath), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", nil, fmt.Errorf("create layout dir: %w", err)
	}
	previous, readErr := os.ReadFile(abs)
	if err := paths.WriteAtomic(abs, append(encoded, '\n'), 0o644); err != nil {
		return "", nil, err
	}
	undo = func() {
		if readErr != nil {
			_ = os.Remove(abs)
			return
		}
		_ = paths.WriteAtomic(abs, previous, 0o644)
	}
	return rel, undo, nil
}

// ReadLayout loads the layout referenced by the app config, if any.
func ReadLayout(notebookPath, layoutFile string) (*protocol.Layout, error) {
	if layoutFile == "" {
		return nil, nil
	}
	if !filepath.IsLocal(filepath.FromSlash(layoutFile)) {
		return nil, protocol.InvalidPathf("layout file %q is outside the notebook directory", layoutFile)
	}
	abs := filepath.Join(filepath.Dir(notebookPath), filepath.FromSlash(layoutFile))
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	if !sonic.Valid(data) {
		return nil, fmt.Errorf("layout %s is not valid JSON", layoutFile)
	}
	name := strings.TrimSuffix(filepath.Base(abs), ".json")
	layoutType := name[strings.LastIndexByte(name, '.')+1:]
	return &protocol.Layout{Type: layoutType, Data: data}, nil
}
