package kernel

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSequencerFIFOPerKey(t *testing.T) {
	seq := NewSequencer(nil)
	defer seq.Close()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 50 {
		wg.Add(1)
		require.NoError(t, seq.Submit("c1", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSequencerDisjointKeysRunConcurrently(t *testing.T) {
	seq := NewSequencer(nil)
	defer seq.Close()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for _, key := range []string{"a", "b"} {
		require.NoError(t, seq.Submit(key, func(context.Context) {
			started <- struct{}{}
			<-release
		}))
	}

	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("disjoint keys did not run in parallel")
		}
	}
	close(release)
}

func TestSequencerDrain(t *testing.T) {
	var idle atomic.Int32
	seq := NewSequencer(func() { idle.Add(1) })
	defer seq.Close()

	running := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, seq.Submit("c1", func(ctx context.Context) {
		close(running)
		<-ctx.Done()
		close(cancelled)
	}))
	var queuedRan atomic.Bool
	require.NoError(t, seq.Submit("c1", func(context.Context) { queuedRan.Store(true) }))

	<-running
	dropped := seq.Drain()
	<-cancelled

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, seq.Pending())

	done := make(chan struct{})
	require.NoError(t, seq.Submit("c1", func(context.Context) { close(done) }))
	<-done
	assert.Eventually(t, func() bool { return idle.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, queuedRan.Load(), "dropped task must not run")
}

func TestSequencerIdleCallback(t *testing.T) {
	var idle atomic.Int32
	seq := NewSequencer(func() { idle.Add(1) })
	defer seq.Close()

	require.NoError(t, seq.Submit("c1", func(context.Context) {}))
	assert.Eventually(t, func() bool { return idle.Load() == 1 && seq.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSequencerClosed(t *testing.T) {
	seq := NewSequencer(nil)
	seq.Close()
	assert.ErrorIs(t, seq.Submit("c1", func(context.Context) {}), ErrSequencerClosed)
}

func TestNullRuntime(t *testing.T) {
	rt := NewNullRuntime()
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.Execute(ctx, "c1", "x = 1"))
	require.NoError(t, rt.Stdin(ctx, "yes"))
	require.NoError(t, rt.Interrupt(ctx))
	assert.Equal(t, 1, rt.Executed())
	assert.Equal(t, []string{"yes"}, rt.StdinLines())

	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Execute(ctx, "c1", "x"), ErrClosed)
}

type failingRuntime struct {
	*NullRuntime
	calls atomic.Int32
}

func (f *failingRuntime) Execute(context.Context, id.CellID, string) error {
	f.calls.Add(1)
	return errors.New("kernel crashed")
}

func TestGuardedTripsBreaker(t *testing.T) {
	inner := &failingRuntime{NullRuntime: NewNullRuntime()}
	rt := Guard(inner, NewBreaker("kernel-test", 2, 1, time.Minute))
	ctx := context.Background()

	assert.Error(t, rt.Execute(ctx, "c1", "x"))
	assert.Error(t, rt.Execute(ctx, "c1", "x"))
	err := rt.Execute(ctx, "c1", "x")
	assert.ErrorIs(t, err, protocol.ErrBackendExecution)
	assert.Equal(t, int32(2), inner.calls.Load())

	// Stdin shares the breaker.
	assert.ErrorIs(t, rt.Stdin(ctx, "x"), protocol.ErrBackendExecution)
}

func TestGuardedIgnoresCancellation(t *testing.T) {
	rt := Guard(NewNullRuntime(), NewBreaker("kernel-test", 1, 1, time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 3 {
		assert.ErrorIs(t, rt.Execute(ctx, "c1", "x"), context.Canceled)
	}
	assert.NoError(t, rt.Execute(context.Background(), "c1", "x"))
}

func TestOps(t *testing.T) {
	op := ConsoleOp("c1", "stdout", "hi\n")
	assert.Equal(t, protocol.OpCellOp, op.Name)
	data := op.Data.(protocol.CellOp)
	require.Len(t, data.Console, 1)
	assert.Equal(t, "hi\n", data.Console[0].Data)

	status := StatusOp("c1", protocol.StatusRunning).Data.(protocol.CellOp)
	assert.Equal(t, protocol.StatusRunning, status.Status)
	assert.Positive(t, status.Timestamp)
}

func TestStripPrompts(t *testing.T) {
	assert.Equal(t, "print(1)", stripPrompts(">>> print(1)"))
	assert.Equal(t, "x", stripPrompts(">>> ... x"))
	assert.Equal(t, "  indented", stripPrompts("  indented"))
}

func TestProcessRuntimePython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	var (
		mu  sync.Mutex
		out strings.Builder
	)
	rt := NewProcessRuntime(ProcessConfig{
		Command: "python3 -i -q",
		Dir:     t.TempDir(),
		Sink: func(op protocol.Op) {
			if c, ok := op.Data.(protocol.CellOp); ok && c.CellID == "c1" {
				mu.Lock()
				for _, line := range c.Console {
					out.WriteString(line.Data)
				}
				mu.Unlock()
			}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, rt.Start(ctx))
	defer func() { assert.NoError(t, rt.Close()) }()

	require.NoError(t, rt.Execute(ctx, "c1", "x = 20\nfor i in range(2):\n    x += 1\nprint('value', x)"))
	mu.Lock()
	assert.Contains(t, out.String(), "value 22")
	mu.Unlock()
}

func TestProcessRuntimeRequiresCommand(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	assert.Error(t, rt.Start(context.Background()))
	assert.ErrorIs(t, rt.Execute(context.Background(), "c1", "x"), ErrClosed)
	assert.NoError(t, rt.Close())
}
