// Package dispatch maps protocol requests onto the session, cell and file
// models. Every operation validates the request shape first, then the
// session binding, then identifiers, and returns only what was applied.
package dispatch

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/files"
	"github.com/GriffinCanCode/notebookd/internal/domain/packages"
	"github.com/GriffinCanCode/notebookd/internal/domain/session"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// DefaultLineLength is used by Format when the request leaves it unset.
const DefaultLineLength = 79

// DefaultPackageManager installs missing packages when none is configured.
const DefaultPackageManager = "pip"

// ResultOK labels successful operations in metrics.
const ResultOK = "ok"

// packagesKey serialises installs of one session.
const packagesKey = "packages"

// Metrics observes each dispatched operation.
type Metrics interface {
	Operation(op, result string, elapsed time.Duration)
}

// UsageSampler reports host resource usage.
type UsageSampler interface {
	Usage(ctx context.Context) (protocol.UsageResponse, error)
}

type nopMetrics struct{}

func (nopMetrics) Operation(string, string, time.Duration) {}

// Options wires a Dispatcher.
type Options struct {
	Sessions   *session.Registry
	Files      *files.Model
	Installer  *packages.Installer
	Usage      UsageSampler
	LineLength int
	// PackageManager is used when an install request names none.
	PackageManager string
	Metrics        Metrics
	Logger         *zap.Logger
}

// Dispatcher implements every protocol operation.
type Dispatcher struct {
	sessions   *session.Registry
	files      *files.Model
	installer  *packages.Installer
	usage      UsageSampler
	lineLength int
	manager    string
	metrics    Metrics
	log        *zap.Logger
}

// New creates a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Sessions == nil || opts.Files == nil {
		return nil, errors.New("dispatcher requires a session registry and a file model")
	}
	d := &Dispatcher{
		sessions:   opts.Sessions,
		files:      opts.Files,
		installer:  opts.Installer,
		usage:      opts.Usage,
		lineLength: opts.LineLength,
		manager:    opts.PackageManager,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
	if d.lineLength <= 0 {
		d.lineLength = DefaultLineLength
	}
	if d.manager == "" {
		d.manager = DefaultPackageManager
	}
	if d.metrics == nil {
		d.metrics = nopMetrics{}
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d, nil
}

// Sessions returns the session registry.
func (d *Dispatcher) Sessions() *session.Registry { return d.sessions }

// observe records an operation. Call it deferred with a pointer to the
// named error result.
func (d *Dispatcher) observe(op string, start time.Time, errp *error) {
	result := ResultOK
	if err := *errp; err != nil {
		result = string(protocol.KindBackendExecution)
		if kind, ok := protocol.KindOf(err); ok {
			result = string(kind)
		}
		if result == string(protocol.KindBackendExecution) {
			d.log.Warn("operation failed", logging.Op(op), zap.Error(err))
		} else {
			d.log.Debug("operation rejected", logging.Op(op), zap.Error(err))
		}
	}
	d.metrics.Operation(op, result, time.Since(start))
}

func (d *Dispatcher) session(sessionID id.SessionID) (*session.Session, error) {
	if sessionID.IsZero() {
		return nil, protocol.SessionMismatchf("missing %s header", protocol.SessionHeader)
	}
	return d.sessions.Get(sessionID)
}

// ============================================================================
// Home
// ============================================================================

// RecentNotebooks lists recently opened notebooks.
func (d *Dispatcher) RecentNotebooks(context.Context) (resp protocol.NotebookListResponse, err error) {
	defer d.observe("recent_files", time.Now(), &err)
	return protocol.NotebookListResponse{Files: nonNil(d.sessions.Recent())}, nil
}

// WorkspaceNotebooks lists the notebooks under the workspace root.
func (d *Dispatcher) WorkspaceNotebooks(ctx context.Context, req protocol.WorkspaceFilesRequest) (resp protocol.NotebookListResponse, err error) {
	defer d.observe("workspace_files", time.Now(), &err)
	found, err := d.files.WorkspaceNotebooks(ctx, req.IncludeMarkdown)
	if err != nil {
		return resp, err
	}
	return protocol.NotebookListResponse{Files: nonNil(d.sessions.Annotate(found))}, nil
}

// RunningNotebooks lists the notebooks with a live session.
func (d *Dispatcher) RunningNotebooks(context.Context) (resp protocol.NotebookListResponse, err error) {
	defer d.observe("running_notebooks", time.Now(), &err)
	return protocol.NotebookListResponse{Files: nonNil(d.sessions.Running())}, nil
}

// ShutdownSession shuts down any session and returns the running list.
func (d *Dispatcher) ShutdownSession(_ context.Context, req protocol.ShutdownSessionRequest) (resp protocol.NotebookListResponse, err error) {
	defer d.observe("shutdown_session", time.Now(), &err)
	if req.SessionID.IsZero() {
		return resp, protocol.Protocolf("sessionId is required")
	}
	running, err := d.sessions.ShutdownSession(req.SessionID)
	if err != nil {
		return resp, err
	}
	return protocol.NotebookListResponse{Files: nonNil(running)}, nil
}

func nonNil(list []protocol.NotebookSummary) []protocol.NotebookSummary {
	if list == nil {
		return []protocol.NotebookSummary{}
	}
	return list
}

// ============================================================================
// Misc
// ============================================================================

// OpenFile checks that path names an existing file inside the root.
func (d *Dispatcher) OpenFile(_ context.Context, req protocol.OpenFileRequest) (err error) {
	defer d.observe("open", time.Now(), &err)
	if req.Path == "" {
		return protocol.Protocolf("path is required")
	}
	abs, err := d.sessions.Root().Resolve(req.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return protocol.NotFoundf("%s does not exist", req.Path)
		}
		return protocol.BackendExecution(err, "stat %s", req.Path)
	}
	return nil
}

// Usage reports host memory and CPU utilisation.
func (d *Dispatcher) Usage(ctx context.Context) (resp protocol.UsageResponse, err error) {
	defer d.observe("usage", time.Now(), &err)
	if d.usage == nil {
		return resp, protocol.BackendExecution(nil, "usage statistics are unavailable")
	}
	return d.usage.Usage(ctx)
}
