package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

const (
	recentFileName = "recent.toml"
	userConfigName = "config.toml"

	// MaxRecent bounds the recent-files list.
	MaxRecent = 20
)

type recentState struct {
	Files []string `toml:"files"`
}

// Recents is the most-recently-opened list persisted under the state dir.
// Entries are absolute paths, newest first.
type Recents struct {
	mu    sync.Mutex
	path  string
	files []string
}

// LoadRecents reads dir/recent.toml. A missing file yields an empty list.
func LoadRecents(dir string) (*Recents, error) {
	r := &Recents{path: filepath.Join(dir, recentFileName)}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent files: %w", err)
	}
	var st recentState
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse recent files: %w", err)
	}
	r.files = st.Files
	return r, nil
}

// Touch moves path to the front of the list.
func (r *Recents) Touch(path string) error {
	if path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := []string{path}
	for _, f := range r.files {
		if f != path && len(next) < MaxRecent {
			next = append(next, f)
		}
	}
	return r.write(next)
}

// Rename replaces from with to, keeping its position.
func (r *Recents) Rename(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]string, 0, len(r.files))
	for _, f := range r.files {
		switch f {
		case from:
			next = append(next, to)
		case to:
		default:
			next = append(next, f)
		}
	}
	return r.write(next)
}

// Files returns the list, newest first.
func (r *Recents) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recents) write(files []string) error {
	data, err := toml.Marshal(recentState{Files: files})
	if err != nil {
		return fmt.Errorf("encode recent files: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := paths.WriteAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write recent files: %w", err)
	}
	r.files = files
	return nil
}

// UserConfig is the user configuration persisted as TOML under the state dir.
type UserConfig struct {
	mu     sync.Mutex
	path   string
	values map[string]any
	raw    []byte
}

// LoadUserConfig reads dir/config.toml. A missing file yields an empty config.
func LoadUserConfig(dir string) (*UserConfig, error) {
	c := &UserConfig{path: filepath.Join(dir, userConfigName), values: map[string]any{}}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user config: %w", err)
	}
	if err := toml.Unmarshal(data, &c.values); err != nil {
		return nil, fmt.Errorf("parse user config: %w", err)
	}
	c.raw = data
	return c, nil
}

// Save replaces the configuration. Saving the current configuration again
// does not touch the file.
func (c *UserConfig) Save(values map[string]any) error {
	clean := dropNulls(values)
	data, err := toml.Marshal(clean)
	if err != nil {
		return protocol.Protocolf("user config cannot be stored: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes.Equal(data, c.raw) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return protocol.BackendExecution(err, "create state dir")
	}
	if err := paths.WriteAtomic(c.path, data, 0o644); err != nil {
		return protocol.BackendExecution(err, "write user config")
	}
	c.values, c.raw = clean, data
	return nil
}

// Values returns a shallow copy of the configuration.
func (c *UserConfig) Values() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// dropNulls removes JSON nulls, which TOML cannot represent.
func dropNulls(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case map[string]any:
			out[k] = dropNulls(v)
		default:
			out[k] = v
		}
	}
	return out
}
