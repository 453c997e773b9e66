package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// SessionHeader carries the caller's session id on session-bound requests.
const SessionHeader = "Marimo-Session-Id"

// ============================================================================
// Cell payloads
// ============================================================================

// CellConfig is the per-cell configuration persisted with the notebook.
type CellConfig struct {
	Column   *int `json:"column,omitempty"`
	Disabled bool `json:"disabled,omitempty"`
	HideCode bool `json:"hide_code,omitempty"`
}

// IsZero reports whether the config carries only defaults.
func (c CellConfig) IsZero() bool {
	return c.Column == nil && !c.Disabled && !c.HideCode
}

// Layout is the optional notebook layout saved alongside the cells.
type Layout struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AppConfig is the notebook-level configuration written into the file header.
type AppConfig struct {
	Width      string `json:"width,omitempty" yaml:"width,omitempty"`
	AppTitle   string `json:"app_title,omitempty" yaml:"app_title,omitempty"`
	LayoutFile string `json:"layout_file,omitempty" yaml:"layout_file,omitempty"`
	CSSFile    string `json:"css_file,omitempty" yaml:"css_file,omitempty"`
}

// CellCode is one element of the pair-shaped Run request.
type CellCode struct {
	ID   id.CellID `json:"id"`
	Code string    `json:"code"`
}

// RunRequest executes cells with the paired code.
// Either cellIds/codes or cells may be given, not both.
type RunRequest struct {
	CellIDs []id.CellID `json:"cellIds"`
	Codes   []string    `json:"codes"`
	Cells   []CellCode  `json:"cells,omitempty"`
}

// Pairs decodes the request into ordered cell/code pairs.
func (r RunRequest) Pairs() ([]Pair[id.CellID, string], error) {
	if len(r.Cells) > 0 {
		if len(r.CellIDs) > 0 || len(r.Codes) > 0 {
			return nil, Protocolf("cells cannot be combined with cellIds/codes")
		}
		pairs := make([]Pair[id.CellID, string], len(r.Cells))
		for i, c := range r.Cells {
			pairs[i] = Pair[id.CellID, string]{Key: c.ID, Value: c.Code}
		}
		return checkCellIDs(pairs)
	}
	pairs, err := Zip(r.CellIDs, r.Codes, "cellIds", "codes")
	if err != nil {
		return nil, err
	}
	return checkCellIDs(pairs)
}

func checkCellIDs[V any](pairs []Pair[id.CellID, V]) ([]Pair[id.CellID, V], error) {
	for _, p := range pairs {
		if p.Key.IsZero() {
			return nil, Protocolf("empty cell id")
		}
	}
	return pairs, nil
}

// SaveRequest persists a full notebook snapshot.
type SaveRequest struct {
	CellIDs  []id.CellID  `json:"cellIds"`
	Filename string       `json:"filename"`
	Codes    []string     `json:"codes"`
	Names    []string     `json:"names"`
	Layout   *Layout      `json:"layout,omitempty"`
	Configs  []CellConfig `json:"configs"`
}

// SavedCell is one cell of a decoded SaveRequest.
type SavedCell struct {
	ID     id.CellID
	Code   string
	Name   string
	Config CellConfig
}

// Cells decodes the parallel arrays into cells. Arity mismatch is a ProtocolError.
func (r SaveRequest) Cells() ([]SavedCell, error) {
	n := len(r.CellIDs)
	if len(r.Codes) != n || len(r.Names) != n || len(r.Configs) != n {
		return nil, Protocolf("cellIds, codes, names and configs must have equal length (%d, %d, %d, %d)",
			n, len(r.Codes), len(r.Names), len(r.Configs))
	}
	cells := make([]SavedCell, n)
	seen := make(map[id.CellID]struct{}, n)
	for i := range r.CellIDs {
		if r.CellIDs[i].IsZero() {
			return nil, Protocolf("empty cell id")
		}
		if _, dup := seen[r.CellIDs[i]]; dup {
			return nil, Protocolf("duplicate cell id %q", r.CellIDs[i])
		}
		seen[r.CellIDs[i]] = struct{}{}
		cells[i] = SavedCell{ID: r.CellIDs[i], Code: r.Codes[i], Name: r.Names[i], Config: r.Configs[i]}
	}
	return cells, nil
}

// FormatRequest reformats a mapping of cell id to code.
type FormatRequest struct {
	Codes      map[id.CellID]string `json:"codes"`
	LineLength int                  `json:"lineLength"`
}

// FormatResponse holds the successfully formatted subset of the request.
type FormatResponse struct {
	Codes map[id.CellID]string `json:"codes"`
}

// DeleteCellRequest removes a cell.
type DeleteCellRequest struct {
	CellID id.CellID `json:"cellId"`
}

// RenameRequest rebinds the session to a new notebook filename.
type RenameRequest struct {
	Filename *string `json:"filename"`
}

// SaveUserConfigRequest persists user configuration.
type SaveUserConfigRequest struct {
	Config map[string]any `json:"config"`
}

// SaveAppConfigRequest persists notebook configuration.
type SaveAppConfigRequest struct {
	Config AppConfig `json:"config"`
}

// SaveCellConfigRequest updates per-cell configuration.
type SaveCellConfigRequest struct {
	Configs map[id.CellID]CellConfig `json:"configs"`
}

// ReadCodeResponse returns the notebook file contents.
type ReadCodeResponse struct {
	Contents string `json:"contents"`
}

// ============================================================================
// UI element values
// ============================================================================

// ValueUpdate is one element of the pair-shaped value requests.
type ValueUpdate struct {
	ObjectID string          `json:"objectId"`
	Value    json.RawMessage `json:"value"`
}

// InstantiateRequest binds UI element values at session start.
type InstantiateRequest struct {
	ObjectIDs []string          `json:"objectIds"`
	Values    []json.RawMessage `json:"values"`
}

// Pairs validates every value once and pairs it with its object id.
func (r InstantiateRequest) Pairs() ([]Pair[string, Value], error) {
	return valuePairs(r.ObjectIDs, r.Values, nil)
}

// SetComponentValuesRequest updates UI element values.
// Accepts objectIds/values, an updates array, or a bare array of updates.
type SetComponentValuesRequest struct {
	ObjectIDs []string          `json:"objectIds"`
	Values    []json.RawMessage `json:"values"`
	Updates   []ValueUpdate     `json:"updates,omitempty"`
}

// UnmarshalJSON accepts the bare-array form.
func (r *SetComponentValuesRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var updates []ValueUpdate
		if err := json.Unmarshal(trimmed, &updates); err != nil {
			return err
		}
		*r = SetComponentValuesRequest{Updates: updates}
		return nil
	}
	type plain SetComponentValuesRequest
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = SetComponentValuesRequest(p)
	return nil
}

// Pairs validates every value once and pairs it with its object id.
func (r SetComponentValuesRequest) Pairs() ([]Pair[string, Value], error) {
	if len(r.Updates) > 0 && (len(r.ObjectIDs) > 0 || len(r.Values) > 0) {
		return nil, Protocolf("updates cannot be combined with objectIds/values")
	}
	return valuePairs(r.ObjectIDs, r.Values, r.Updates)
}

func valuePairs(ids []string, values []json.RawMessage, updates []ValueUpdate) ([]Pair[string, Value], error) {
	if len(updates) > 0 {
		ids = make([]string, len(updates))
		values = make([]json.RawMessage, len(updates))
		for i, u := range updates {
			ids[i], values[i] = u.ObjectID, u.Value
		}
	}
	raw, err := Zip(ids, values, "objectIds", "values")
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair[string, Value], len(raw))
	for i, p := range raw {
		if p.Key == "" {
			return nil, Protocolf("empty object id")
		}
		v, err := ParseValue(p.Value)
		if err != nil {
			return nil, err
		}
		pairs[i] = Pair[string, Value]{Key: p.Key, Value: v}
	}
	return pairs, nil
}

// ============================================================================
// Kernel requests
// ============================================================================

// CodeCompletionRequest asks for completions; the result is pushed out of band.
type CodeCompletionRequest struct {
	ID       id.RequestID `json:"id"`
	Document string       `json:"document"`
	CellID   id.CellID    `json:"cellId"`
}

// FunctionCallRequest invokes a session function; the result is pushed out of band.
type FunctionCallRequest struct {
	FunctionCallID id.RequestID    `json:"functionCallId"`
	Args           json.RawMessage `json:"args"`
	Namespace      string          `json:"namespace"`
	FunctionName   string          `json:"functionName"`
}

// StdinRequest forwards text to the kernel.
type StdinRequest struct {
	Text string `json:"text"`
}

// InstallMissingPackagesRequest installs packages the kernel reported missing.
type InstallMissingPackagesRequest struct {
	Manager string `json:"manager"`
}

// OpenFileRequest validates that a path can be opened.
type OpenFileRequest struct {
	Path string `json:"path"`
}

// PreviewDatasetColumnRequest asks for a column summary; the result is pushed out of band.
type PreviewDatasetColumnRequest struct {
	Source     string `json:"source"`
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
}

// ============================================================================
// File requests
// ============================================================================

// FileListRequest lists the immediate children of path (root if empty).
type FileListRequest struct {
	Path string `json:"path,omitempty"`
}

// FileCreateRequest creates a file or directory named name inside path.
type FileCreateRequest struct {
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Contents *string `json:"contents,omitempty"`
}

// FileDeleteRequest deletes a file or directory.
type FileDeleteRequest struct {
	Path string `json:"path"`
}

// FileMoveRequest moves or renames a file or directory.
type FileMoveRequest struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// FileUpdateRequest replaces the contents of a file.
type FileUpdateRequest struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// FileDetailsRequest reads a file descriptor and its contents.
type FileDetailsRequest struct {
	Path string `json:"path"`
}

// ============================================================================
// Home requests
// ============================================================================

// WorkspaceFilesRequest enumerates notebooks under the workspace root.
type WorkspaceFilesRequest struct {
	IncludeMarkdown bool `json:"includeMarkdown"`
}

// ShutdownSessionRequest shuts down any running session.
type ShutdownSessionRequest struct {
	SessionID id.SessionID `json:"sessionId"`
}

// ExportHTMLRequest renders the notebook as an HTML document.
type ExportHTMLRequest struct {
	AssetURL    string   `json:"assetUrl,omitempty"`
	IncludeCode bool     `json:"includeCode"`
	Files       []string `json:"files"`
	Download    bool     `json:"download"`
}

// ExportMarkdownRequest renders the notebook as Markdown.
type ExportMarkdownRequest struct {
	Download bool `json:"download"`
}
