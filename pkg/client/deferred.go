package client

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

type outcome[T any] struct {
	value T
	err   error
}

// Deferred correlates requests with results that arrive later on the push
// channel. A caller that gives up, by cancelling its context, drops its
// entry; a result arriving for an untracked id is discarded.
type Deferred[T any] struct {
	mu      sync.Mutex
	pending map[id.RequestID]chan outcome[T]
	err     error
}

// NewDeferred creates an empty registry.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{pending: make(map[id.RequestID]chan outcome[T])}
}

// Request registers a fresh id, hands it to send and waits for Resolve,
// Fail or ctx.
func (d *Deferred[T]) Request(ctx context.Context, send func(id.RequestID) error) (T, error) {
	var zero T
	reqID := id.NewRequestID()
	ch := make(chan outcome[T], 1)

	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return zero, err
	}
	d.pending[reqID] = ch
	d.mu.Unlock()

	if err := send(reqID); err != nil {
		d.drop(reqID)
		return zero, err
	}

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		d.drop(reqID)
		return zero, ctx.Err()
	}
}

func (d *Deferred[T]) drop(reqID id.RequestID) {
	d.mu.Lock()
	delete(d.pending, reqID)
	d.mu.Unlock()
}

// Resolve delivers the result for reqID. It reports false when nobody is
// waiting for it.
func (d *Deferred[T]) Resolve(reqID id.RequestID, value T) bool {
	d.mu.Lock()
	ch, ok := d.pending[reqID]
	delete(d.pending, reqID)
	d.mu.Unlock()
	if !ok {
		return false
	}
	ch <- outcome[T]{value: value}
	return true
}

// Fail rejects every pending request with err, and every later one too.
func (d *Deferred[T]) Fail(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[id.RequestID]chan outcome[T])
	d.err = err
	d.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome[T]{err: err}
	}
}

// Pending returns the number of requests awaiting a result.
func (d *Deferred[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
