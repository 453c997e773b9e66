package kernel

import (
	"context"
	"errors"
	"sync"
)

// ErrSequencerClosed is returned by Submit after Close.
var ErrSequencerClosed = errors.New("sequencer is closed")

// Task is one unit of work. ctx is cancelled when the sequencer is drained.
type Task func(ctx context.Context)

// Sequencer runs tasks in FIFO order per key. Tasks for different keys run
// concurrently. Each active key has one worker goroutine that exits when
// its queue empties.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string][]Task
	ctx    context.Context
	cancel context.CancelFunc
	active int
	closed bool
	wg     sync.WaitGroup
	onIdle func()
}

// NewSequencer creates a sequencer. onIdle, if set, runs each time the last
// pending task finishes.
func NewSequencer(onIdle func()) *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		queues: make(map[string][]Task),
		ctx:    ctx,
		cancel: cancel,
		onIdle: onIdle,
	}
}

// Submit appends task to key's queue.
func (s *Sequencer) Submit(key string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSequencerClosed
	}
	q, running := s.queues[key]
	s.queues[key] = append(q, task)
	s.active++
	if !running {
		s.wg.Add(1)
		go s.work(s.ctx, key)
	}
	return nil
}

func (s *Sequencer) work(ctx context.Context, key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 || ctx != s.ctx {
			if ctx == s.ctx {
				delete(s.queues, key)
			}
			s.mu.Unlock()
			return
		}
		task := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		task(ctx)

		s.mu.Lock()
		current := ctx == s.ctx
		if current {
			s.active--
		}
		idle := current && s.active == 0
		s.mu.Unlock()
		if idle && s.onIdle != nil {
			s.onIdle()
		}
	}
}

// Pending returns the number of queued and running tasks.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Drain drops every queued task and cancels the context of running ones.
// It returns the number of tasks that had not started.
func (s *Sequencer) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, q := range s.queues {
		dropped += len(q)
	}
	s.cancel()
	s.queues = make(map[string][]Task)
	s.active = 0
	if !s.closed {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	return dropped
}

// Close drains the sequencer and waits for running tasks to return.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Drain()
	s.wg.Wait()
}
