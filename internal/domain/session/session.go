package session

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/completion"
	"github.com/GriffinCanCode/notebookd/internal/domain/dataset"
	"github.com/GriffinCanCode/notebookd/internal/domain/format"
	"github.com/GriffinCanCode/notebookd/internal/domain/kernel"
	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// Function status codes carried by function-call-result.
const (
	FunctionOK    = "ok"
	FunctionError = "error"
)

// Function is a callable registered by the kernel side of a session.
type Function func(ctx context.Context, args protocol.Value) (protocol.Value, error)

// RuntimeSpec describes the runtime a session needs.
type RuntimeSpec struct {
	SessionID id.SessionID
	Path      string
	Sink      kernel.Sink
}

// RuntimeFactory builds the kernel runtime of a session.
type RuntimeFactory func(spec RuntimeSpec) kernel.Runtime

// NullRuntimeFactory builds runtimes that execute nothing.
func NullRuntimeFactory(RuntimeSpec) kernel.Runtime {
	return kernel.NewNullRuntime()
}

var missingModule = regexp.MustCompile(`No module named '([A-Za-z0-9_]+)`)

// Session is one live notebook bound to one kernel runtime.
type Session struct {
	id      id.SessionID
	doc     *notebook.Document
	publish func(protocol.Op)
	factory RuntimeFactory
	breaker breakerSettings
	tables  *dataset.Registry
	metrics Metrics
	log     *zap.Logger

	// rtMu guards the runtime fields, which Restart replaces.
	rtMu    sync.RWMutex
	raw     kernel.Runtime
	runtime kernel.Runtime
	initID  id.InitializationID
	seq     *kernel.Sequencer
	calls   *kernel.Sequencer

	mu        sync.Mutex
	uiValues  map[string]protocol.Value
	functions map[string]Function
	missing   []string
	outputs   map[id.CellID][]protocol.CellOutput
}

// maxOutputs bounds the console lines kept per cell for export.
const maxOutputs = 200

func functionKey(namespace, name string) string {
	return namespace + "." + name
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// Document returns the session's cell model.
func (s *Session) Document() *notebook.Document { return s.doc }

// Path returns the bound notebook path, empty when unnamed.
func (s *Session) Path() string { return s.doc.Path() }

// InitializationID returns the id of the current kernel start.
func (s *Session) InitializationID() id.InitializationID {
	s.rtMu.RLock()
	defer s.rtMu.RUnlock()
	return s.initID
}

// start creates and starts a runtime plus the sequencers that feed it.
func (s *Session) start(ctx context.Context) error {
	raw := s.factory(RuntimeSpec{SessionID: s.id, Path: s.doc.Path(), Sink: s.sink})
	if err := raw.Start(ctx); err != nil {
		_ = raw.Close()
		return protocol.BackendExecution(err, "start kernel")
	}
	breaker := kernel.NewBreaker("kernel-"+s.id.String(), s.breaker.maxFailures, s.breaker.maxRequests, s.breaker.timeout)

	s.rtMu.Lock()
	s.raw = raw
	s.runtime = kernel.Guard(raw, breaker)
	s.initID = id.NewInitializationID()
	s.seq = kernel.NewSequencer(func() {
		s.publish(protocol.Op{Name: protocol.OpCompletedRun, Data: struct{}{}})
	})
	s.calls = kernel.NewSequencer(nil)
	s.rtMu.Unlock()
	return nil
}

// stop closes the runtime and waits for running tasks.
func (s *Session) stop() error {
	s.rtMu.Lock()
	raw, seq, calls := s.raw, s.seq, s.calls
	s.raw, s.runtime, s.seq, s.calls = nil, nil, nil, nil
	s.rtMu.Unlock()

	if raw == nil {
		return nil
	}
	// Interrupt first so a blocked Execute returns before the sequencer waits on it.
	seq.Drain()
	_ = raw.Interrupt(context.Background())
	err := raw.Close()
	seq.Close()
	calls.Close()
	return err
}

func (s *Session) live() (kernel.Runtime, *kernel.Sequencer, error) {
	s.rtMu.RLock()
	defer s.rtMu.RUnlock()
	if s.runtime == nil {
		return nil, nil, protocol.SessionMismatchf("session %s is shut down", s.id)
	}
	return s.runtime, s.seq, nil
}

// sink receives runtime ops, scans console output for failed imports and
// forwards everything to subscribers.
func (s *Session) sink(op protocol.Op) {
	if cell, ok := op.Data.(protocol.CellOp); ok {
		for _, out := range cell.Console {
			if m := missingModule.FindStringSubmatch(out.Data); m != nil {
				s.ReportMissingPackages([]string{m[1]})
			}
		}
		s.record(cell)
	}
	s.publish(op)
}

func (s *Session) record(cell protocol.CellOp) {
	if len(cell.Console) == 0 && cell.Output == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputs == nil {
		s.outputs = make(map[id.CellID][]protocol.CellOutput)
	}
	outs := append(s.outputs[cell.CellID], cell.Console...)
	if cell.Output != nil {
		outs = append(outs, *cell.Output)
	}
	if len(outs) > maxOutputs {
		outs = outs[len(outs)-maxOutputs:]
	}
	s.outputs[cell.CellID] = outs
}

// Outputs returns the console output recorded for each cell since its last run.
func (s *Session) Outputs() map[id.CellID][]protocol.CellOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[id.CellID][]protocol.CellOutput, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = append([]protocol.CellOutput(nil), v...)
	}
	return out
}

// KernelReady returns the kernel-ready payload for the current snapshot.
func (s *Session) KernelReady(resumed bool) protocol.KernelReady {
	s.mu.Lock()
	values := make(map[string]protocol.Value, len(s.uiValues))
	for k, v := range s.uiValues {
		values[k] = v
	}
	s.mu.Unlock()
	return s.doc.Snapshot().KernelReady(resumed, values)
}

func (s *Session) pushKernelReady(resumed bool) {
	s.publish(protocol.Op{Name: protocol.OpKernelReady, Data: s.KernelReady(resumed)})
}

// Run updates the cells and queues them on the kernel, FIFO per cell.
func (s *Session) Run(pairs []protocol.Pair[id.CellID, string]) error {
	rt, seq, err := s.live()
	if err != nil {
		return err
	}
	err = s.doc.Run(pairs, func(c notebook.Cell) {
		s.publish(kernel.StatusOp(c.ID, protocol.StatusQueued))
		task := func(ctx context.Context) {
			s.execute(ctx, rt, c)
		}
		if err := seq.Submit(c.ID.String(), task); err != nil {
			s.log.Warn("run not queued", logging.CellID(c.ID.String()), zap.Error(err))
			s.publish(kernel.StatusOp(c.ID, protocol.StatusIdle))
		}
	})
	if err != nil {
		return err
	}
	s.publish(protocol.Op{Name: protocol.OpVariables, Data: Variables(s.doc.Snapshot())})
	return nil
}

func (s *Session) execute(ctx context.Context, rt kernel.Runtime, c notebook.Cell) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	delete(s.outputs, c.ID)
	s.mu.Unlock()
	s.publish(kernel.StatusOp(c.ID, protocol.StatusRunning))
	err := rt.Execute(ctx, c.ID, c.Code)
	switch {
	case err == nil:
		s.metrics.CellExecuted(true)
	case ctx.Err() != nil:
		s.log.Debug("run cancelled", logging.CellID(c.ID.String()))
	default:
		s.metrics.CellExecuted(false)
		s.log.Warn("run failed", logging.CellID(c.ID.String()), zap.Error(err))
		s.sink(kernel.ConsoleOp(c.ID, "stderr", err.Error()))
	}
	s.publish(kernel.StatusOp(c.ID, protocol.StatusIdle))
}

// Instantiate binds UI element values at session start.
func (s *Session) Instantiate(ctx context.Context, pairs []protocol.Pair[string, protocol.Value]) error {
	s.mu.Lock()
	s.uiValues = make(map[string]protocol.Value, len(pairs))
	changed := make(map[string]protocol.Value, len(pairs))
	for _, p := range pairs {
		s.uiValues[p.Key] = p.Value
		changed[p.Key] = p.Value
	}
	s.mu.Unlock()
	return s.sendValues(ctx, changed)
}

// SetComponentValues applies UI element updates. Values equal to the
// current ones are skipped and never reach the kernel. It returns the
// number of values that changed.
func (s *Session) SetComponentValues(ctx context.Context, pairs []protocol.Pair[string, protocol.Value]) (int, error) {
	s.mu.Lock()
	changed := make(map[string]protocol.Value)
	for _, p := range pairs {
		if cur, ok := s.uiValues[p.Key]; ok && cur.Equal(p.Value) {
			continue
		}
		s.uiValues[p.Key] = p.Value
		changed[p.Key] = p.Value
	}
	s.mu.Unlock()
	if len(changed) == 0 {
		return 0, nil
	}
	return len(changed), s.sendValues(ctx, changed)
}

func (s *Session) sendValues(ctx context.Context, values map[string]protocol.Value) error {
	s.rtMu.RLock()
	raw := s.raw
	s.rtMu.RUnlock()
	if raw == nil {
		return protocol.SessionMismatchf("session %s is shut down", s.id)
	}
	recv, ok := raw.(kernel.ValueReceiver)
	if !ok || len(values) == 0 {
		return nil
	}
	if err := recv.SetValues(ctx, values); err != nil {
		return protocol.BackendExecution(err, "set values")
	}
	return nil
}

// Interrupt drops pending runs, interrupts the running one and pushes
// interrupted. Saved state is untouched.
func (s *Session) Interrupt(ctx context.Context) error {
	rt, seq, err := s.live()
	if err != nil {
		return err
	}
	dropped := seq.Drain()
	s.log.Info("interrupt", zap.Int("dropped", dropped))
	if err := rt.Interrupt(ctx); err != nil {
		return err
	}
	s.publish(protocol.Op{Name: protocol.OpInterrupted, Data: struct{}{}})
	return nil
}

// Restart replaces the kernel runtime and keeps the notebook.
func (s *Session) Restart(ctx context.Context) error {
	if _, _, err := s.live(); err != nil {
		return err
	}
	if err := s.stop(); err != nil {
		s.log.Warn("runtime close failed", zap.Error(err))
	}
	if err := s.start(ctx); err != nil {
		return err
	}
	s.pushKernelReady(false)
	return nil
}

// Stdin forwards text to the kernel.
func (s *Session) Stdin(ctx context.Context, text string) error {
	rt, _, err := s.live()
	if err != nil {
		return err
	}
	return rt.Stdin(ctx, text)
}

// Complete pushes a completion-result for req.
func (s *Session) Complete(req protocol.CodeCompletionRequest) {
	result := completion.Complete(req, s.doc.Snapshot().Cells)
	s.publish(protocol.Op{Name: protocol.OpCompletionResult, Data: result})
}

// RegisterFunction makes fn callable through FunctionCall.
func (s *Session) RegisterFunction(namespace, name string, fn Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.functions == nil {
		s.functions = make(map[string]Function)
	}
	s.functions[functionKey(namespace, name)] = fn
}

// CallFunction runs the function asynchronously and pushes its result.
func (s *Session) CallFunction(req protocol.FunctionCallRequest) error {
	args, err := protocol.ParseValue(req.Args)
	if err != nil {
		return err
	}
	s.rtMu.RLock()
	calls := s.calls
	s.rtMu.RUnlock()
	if calls == nil {
		return protocol.SessionMismatchf("session %s is shut down", s.id)
	}

	s.mu.Lock()
	fn, ok := s.functions[functionKey(req.Namespace, req.FunctionName)]
	s.mu.Unlock()

	return calls.Submit(req.Namespace, func(ctx context.Context) {
		result := protocol.FunctionCallResult{
			FunctionCallID: req.FunctionCallID,
			ReturnValue:    protocol.Null.Raw(),
			Status:         protocol.HumanReadableStatus{Code: FunctionOK},
		}
		if !ok {
			result.Status = protocol.HumanReadableStatus{
				Code:    FunctionError,
				Title:   "Function not found",
				Message: "no function " + functionKey(req.Namespace, req.FunctionName),
			}
		} else if v, err := fn(ctx, args); err != nil {
			result.Status = protocol.HumanReadableStatus{Code: FunctionError, Title: "Function failed", Message: err.Error()}
		} else {
			result.ReturnValue = v.Raw()
		}
		s.publish(protocol.Op{Name: protocol.OpFunctionCallResult, Data: result})
	})
}

// Background queues task on the session's call sequencer under key. Tasks
// with the same key run in order; the task context ends at shutdown.
func (s *Session) Background(key string, task kernel.Task) error {
	s.rtMu.RLock()
	calls := s.calls
	s.rtMu.RUnlock()
	if calls == nil {
		return protocol.SessionMismatchf("session %s is shut down", s.id)
	}
	return calls.Submit(key, task)
}

// RegisterTable adds a table to the session and pushes datasets.
func (s *Session) RegisterTable(name, variable string, t *dataset.Table) {
	s.tables.Register(name, dataset.SourceMemory, variable, t)
	s.publish(protocol.Op{Name: protocol.OpDatasets, Data: protocol.Datasets{Tables: s.tables.Tables()}})
}

// Tables returns the session's table registry.
func (s *Session) Tables() *dataset.Registry { return s.tables }

// PreviewColumn pushes a data-column-preview for the requested column.
func (s *Session) PreviewColumn(req protocol.PreviewDatasetColumnRequest) {
	preview := s.tables.Preview(req.Source, req.TableName, req.ColumnName)
	s.publish(protocol.Op{Name: protocol.OpDataColumnPreview, Data: preview})
}

// ReportMissingPackages records packages the kernel failed to import and
// pushes missing-package-alert.
func (s *Session) ReportMissingPackages(pkgs []string) {
	s.mu.Lock()
	seen := make(map[string]bool, len(s.missing))
	for _, p := range s.missing {
		seen[p] = true
	}
	added := false
	for _, p := range pkgs {
		if p != "" && !seen[p] {
			seen[p] = true
			s.missing = append(s.missing, p)
			added = true
		}
	}
	all := append([]string(nil), s.missing...)
	s.mu.Unlock()

	if added {
		s.publish(protocol.Op{Name: protocol.OpMissingPackageAlert, Data: protocol.MissingPackageAlert{Packages: all}})
	}
}

// MissingPackages returns the packages reported missing and not yet installed.
func (s *Session) MissingPackages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.missing...)
}

// ResolvePackages removes installed packages from the missing list.
func (s *Session) ResolvePackages(installed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[string]bool, len(installed))
	for _, p := range installed {
		done[p] = true
	}
	kept := s.missing[:0]
	for _, p := range s.missing {
		if !done[p] {
			kept = append(kept, p)
		}
	}
	s.missing = kept
}

// Publish pushes op to the session's subscribers.
func (s *Session) Publish(op protocol.Op) { s.publish(op) }

// Variables builds the variable graph of a notebook from each cell's
// definitions and references. Names no cell defines are left out.
func Variables(nb notebook.Notebook) protocol.Variables {
	scanned := make([]format.Names, len(nb.Cells))
	decl := make(map[string]*protocol.VariableDeclaration)
	for i, c := range nb.Cells {
		names, err := format.Scan(c.Code)
		if err != nil {
			continue
		}
		scanned[i] = names
		for _, d := range names.Defs {
			v, ok := decl[d]
			if !ok {
				v = &protocol.VariableDeclaration{Name: d, DeclaredBy: []id.CellID{}, UsedBy: []id.CellID{}}
				decl[d] = v
			}
			v.DeclaredBy = append(v.DeclaredBy, c.ID)
		}
	}
	for i, c := range nb.Cells {
		for _, r := range scanned[i].Refs {
			if v, ok := decl[r]; ok {
				v.UsedBy = append(v.UsedBy, c.ID)
			}
		}
	}

	out := protocol.Variables{Variables: make([]protocol.VariableDeclaration, 0, len(decl))}
	for _, v := range decl {
		out.Variables = append(out.Variables, *v)
	}
	sort.Slice(out.Variables, func(i, j int) bool { return out.Variables[i].Name < out.Variables[j].Name })
	return out
}
