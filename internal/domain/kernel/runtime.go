// Package kernel is the boundary to the process that executes cell code.
//
// A Runtime executes one cell at a time and reports output through a Sink.
// The Sequencer orders executions per cell, and Guarded routes runtime
// calls through a circuit breaker.
package kernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// ErrClosed is returned by calls on a runtime that has been closed.
var ErrClosed = errors.New("kernel runtime is closed")

// Sink receives ops produced by a runtime.
type Sink func(op protocol.Op)

// Runtime executes cell code on behalf of one session.
type Runtime interface {
	Start(ctx context.Context) error
	Execute(ctx context.Context, cellID id.CellID, code string) error
	Interrupt(ctx context.Context) error
	Stdin(ctx context.Context, text string) error
	Close() error
}

// ValueReceiver is implemented by runtimes that accept UI element values.
type ValueReceiver interface {
	SetValues(ctx context.Context, values map[string]protocol.Value) error
}

// Now returns the wall clock as fractional Unix seconds, the timestamp unit of ops.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ConsoleOp builds a cell-op carrying console output.
func ConsoleOp(cellID id.CellID, channel, text string) protocol.Op {
	ts := Now()
	return protocol.Op{Name: protocol.OpCellOp, Data: protocol.CellOp{
		CellID:    cellID,
		Console:   []protocol.CellOutput{{Channel: channel, MimeType: "text/plain", Data: text, Timestamp: ts}},
		Timestamp: ts,
	}}
}

// StatusOp builds a cell-op carrying a status transition.
func StatusOp(cellID id.CellID, status string) protocol.Op {
	return protocol.Op{Name: protocol.OpCellOp, Data: protocol.CellOp{CellID: cellID, Status: status, Timestamp: Now()}}
}

// NullRuntime acknowledges every call without executing anything. It is the
// default when no kernel command is configured.
type NullRuntime struct {
	mu       sync.Mutex
	closed   bool
	executed int
	stdin    []string
	values   map[string]protocol.Value
}

// NewNullRuntime creates a NullRuntime.
func NewNullRuntime() *NullRuntime {
	return &NullRuntime{}
}

func (r *NullRuntime) Start(context.Context) error {
	return r.check()
}

func (r *NullRuntime) Execute(ctx context.Context, _ id.CellID, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.check(); err != nil {
		return err
	}
	r.mu.Lock()
	r.executed++
	r.mu.Unlock()
	return nil
}

func (r *NullRuntime) Interrupt(context.Context) error {
	return r.check()
}

func (r *NullRuntime) Stdin(_ context.Context, text string) error {
	if err := r.check(); err != nil {
		return err
	}
	r.mu.Lock()
	r.stdin = append(r.stdin, text)
	r.mu.Unlock()
	return nil
}

func (r *NullRuntime) SetValues(_ context.Context, values map[string]protocol.Value) error {
	if err := r.check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string]protocol.Value)
	}
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

func (r *NullRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Executed returns how many cells were executed.
func (r *NullRuntime) Executed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executed
}

// StdinLines returns the text received through Stdin.
func (r *NullRuntime) StdinLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stdin...)
}

// Values returns the UI element values received so far.
func (r *NullRuntime) Values() map[string]protocol.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]protocol.Value, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *NullRuntime) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Guarded wraps a runtime so Execute, Interrupt and Stdin pass through a
// breaker. Cancellation is not counted against the runtime.
type Guarded struct {
	Runtime
	breaker *resilience.Breaker
}

// NewBreaker returns a breaker configured for runtime calls.
func NewBreaker(name string, maxFailures, maxRequests uint32, timeout time.Duration) *resilience.Breaker {
	return resilience.New(name, resilience.Settings{
		MaxRequests: maxRequests,
		Timeout:     timeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// Guard wraps rt with breaker.
func Guard(rt Runtime, breaker *resilience.Breaker) *Guarded {
	return &Guarded{Runtime: rt, breaker: breaker}
}

func (g *Guarded) Execute(ctx context.Context, cellID id.CellID, code string) error {
	return g.wrap(g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return g.Runtime.Execute(ctx, cellID, code)
	}))
}

func (g *Guarded) Interrupt(ctx context.Context) error {
	return g.wrap(g.breaker.ExecuteContext(ctx, g.Runtime.Interrupt))
}

func (g *Guarded) Stdin(ctx context.Context, text string) error {
	return g.wrap(g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return g.Runtime.Stdin(ctx, text)
	}))
}

func (g *Guarded) wrap(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return protocol.BackendExecution(err, "kernel unavailable")
	}
	return err
}
