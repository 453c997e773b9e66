package protocol

import (
	"encoding/json"

	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// Push op names.
const (
	OpKernelReady            = "kernel-ready"
	OpCellOp                 = "cell-op"
	OpCompletedRun           = "completed-run"
	OpInterrupted            = "interrupted"
	OpCompletionResult       = "completion-result"
	OpFunctionCallResult     = "function-call-result"
	OpInstallingPackageAlert = "installing-package-alert"
	OpMissingPackageAlert    = "missing-package-alert"
	OpAlert                  = "alert"
	OpDatasets               = "datasets"
	OpDataColumnPreview      = "data-column-preview"
	OpVariables              = "variables"
	OpReload                 = "reload"
)

// Op is one message pushed from the kernel side to subscribed clients.
type Op struct {
	Name string `json:"op"`
	Data any    `json:"data"`
}

// Cell status values carried by CellOp.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusIdle     = "idle"
	StatusDisabled = "disabled-transitively"
)

// CellOutput is one console or display output of a cell.
type CellOutput struct {
	Channel   string  `json:"channel"`
	MimeType  string  `json:"mimetype"`
	Data      string  `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// CellOp reports a status or output change for one cell.
type CellOp struct {
	CellID    id.CellID    `json:"cell_id"`
	Output    *CellOutput  `json:"output,omitempty"`
	Console   []CellOutput `json:"console,omitempty"`
	Status    string       `json:"status,omitempty"`
	Stale     *bool        `json:"stale_inputs,omitempty"`
	Timestamp float64      `json:"timestamp"`
}

// KernelReady is pushed once a session's kernel is up.
type KernelReady struct {
	CellIDs   []id.CellID      `json:"cell_ids"`
	Codes     []string         `json:"codes"`
	Names     []string         `json:"names"`
	Layout    *Layout          `json:"layout"`
	Configs   []CellConfig     `json:"configs"`
	Resumed   bool             `json:"resumed"`
	UIValues  map[string]Value `json:"ui_values,omitempty"`
	AppConfig AppConfig        `json:"app_config"`
}

// CompletionOption is one completion candidate.
type CompletionOption struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	CompletionInfo string `json:"completion_info,omitempty"`
}

// CompletionResult answers a CodeCompletionRequest.
type CompletionResult struct {
	CompletionID id.RequestID       `json:"completion_id"`
	PrefixLength int                `json:"prefix_length"`
	Options      []CompletionOption `json:"options"`
}

// HumanReadableStatus reports the outcome of a function call.
type HumanReadableStatus struct {
	Code    string `json:"code"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// FunctionCallResult answers a FunctionCallRequest.
type FunctionCallResult struct {
	FunctionCallID id.RequestID        `json:"function_call_id"`
	ReturnValue    json.RawMessage     `json:"return_value"`
	Status         HumanReadableStatus `json:"status"`
}

// Alert is a user-facing notification.
type Alert struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

// MissingPackageAlert lists packages the kernel failed to import.
type MissingPackageAlert struct {
	Packages []string `json:"packages"`
	Isolated bool     `json:"isolated"`
}

// Package install states carried by InstallingPackageAlert.
const (
	PackageQueued     = "queued"
	PackageInstalling = "installing"
	PackageInstalled  = "installed"
	PackageFailed     = "failed"
)

// InstallingPackageAlert reports install progress per package.
type InstallingPackageAlert struct {
	Packages map[string]string `json:"packages"`
}

// Datasets announces the tables known to a session.
type Datasets struct {
	Tables []DataTable `json:"tables"`
}

// ColumnSummary holds descriptive statistics of a column.
type ColumnSummary struct {
	Total  int      `json:"total"`
	Nulls  int      `json:"nulls"`
	Unique *int     `json:"unique,omitempty"`
	True   *int     `json:"true,omitempty"`
	False  *int     `json:"false,omitempty"`
	Min    any      `json:"min,omitempty"`
	Max    any      `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	P5     *float64 `json:"p5,omitempty"`
	P25    *float64 `json:"p25,omitempty"`
	P75    *float64 `json:"p75,omitempty"`
	P95    *float64 `json:"p95,omitempty"`
}

// DataColumnPreview answers a PreviewDatasetColumnRequest.
type DataColumnPreview struct {
	TableName  string         `json:"table_name"`
	ColumnName string         `json:"column_name"`
	Error      string         `json:"error,omitempty"`
	Summary    *ColumnSummary `json:"summary,omitempty"`
}

// VariableDeclaration reports which cells define and reference a name.
type VariableDeclaration struct {
	Name       string      `json:"name"`
	DeclaredBy []id.CellID `json:"declared_by"`
	UsedBy     []id.CellID `json:"used_by"`
}

// Variables announces the notebook's variable graph.
type Variables struct {
	Variables []VariableDeclaration `json:"variables"`
}

// Reload asks clients to re-read the notebook after an external change.
type Reload struct{}
