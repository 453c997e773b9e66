package protocol

import "github.com/GriffinCanCode/notebookd/internal/shared/id"

// FileInfo describes a file or directory. Children is a snapshot and is
// never populated recursively by List.
type FileInfo struct {
	ID           id.FileID  `json:"id"`
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	LastModified *float64   `json:"lastModified,omitempty"`
	IsDirectory  bool       `json:"isDirectory"`
	IsMarimoFile bool       `json:"isMarimoFile"`
	Children     []FileInfo `json:"children"`
}

// FileListResponse lists the children of a directory and the resolved root.
type FileListResponse struct {
	Files []FileInfo `json:"files"`
	Root  string     `json:"root"`
}

// FileOperationResponse reports the outcome of a mutating file call.
type FileOperationResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Info    *FileInfo `json:"info,omitempty"`
}

// FileDetailsResponse carries a descriptor plus best-effort mime type and text contents.
type FileDetailsResponse struct {
	File     FileInfo `json:"file"`
	MimeType string   `json:"mimeType,omitempty"`
	Contents *string  `json:"contents,omitempty"`
}

// SnippetSection is one ordered part of a snippet.
type SnippetSection struct {
	ID   string `json:"id"`
	HTML string `json:"html,omitempty"`
	Code string `json:"code,omitempty"`
}

// Snippet is read-only reference material.
type Snippet struct {
	Title    string           `json:"title"`
	Sections []SnippetSection `json:"sections"`
}

// SnippetsResponse lists the bundled snippets.
type SnippetsResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Column types reported in DataTableColumn.Type.
const (
	ColumnString  = "string"
	ColumnBoolean = "boolean"
	ColumnInteger = "integer"
	ColumnNumber  = "number"
	ColumnDate    = "date"
	ColumnUnknown = "unknown"
)

// DataTableColumn names a column and its inferred type.
type DataTableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DataTable describes a tabular value in a session.
type DataTable struct {
	Name         string            `json:"name"`
	Source       string            `json:"source"`
	VariableName *string           `json:"variable_name"`
	NumRows      int               `json:"num_rows"`
	NumColumns   int               `json:"num_columns"`
	Columns      []DataTableColumn `json:"columns"`
}

// NotebookSummary is one entry of the home listings.
type NotebookSummary struct {
	Name             string              `json:"name"`
	Path             string              `json:"path"`
	LastModified     *float64            `json:"lastModified,omitempty"`
	SessionID        id.SessionID        `json:"sessionId,omitempty"`
	InitializationID id.InitializationID `json:"initializationId,omitempty"`
}

// NotebookListResponse is returned by the recent, workspace and running listings.
type NotebookListResponse struct {
	Files []NotebookSummary `json:"files"`
}

// MemoryUsage reports host memory in bytes.
type MemoryUsage struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Percent   float64 `json:"percent"`
	Used      uint64  `json:"used"`
	Free      uint64  `json:"free"`
}

// CPUUsage reports host CPU utilisation.
type CPUUsage struct {
	Percent float64 `json:"percent"`
}

// UsageResponse reports host resource usage.
type UsageResponse struct {
	Memory MemoryUsage `json:"memory"`
	CPU    CPUUsage    `json:"cpu"`
}
