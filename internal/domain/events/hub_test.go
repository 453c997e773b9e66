package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

type countingObserver struct {
	mu        sync.Mutex
	delivered int
	dropped   int
}

func (c *countingObserver) Published(_ string, delivered, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered += delivered
	c.dropped += dropped
}

func TestSubscribeAndPublish(t *testing.T) {
	hub := NewHub(nil, nil)
	ch, cancel := hub.Subscribe("s_1")
	defer cancel()

	hub.Publish("s_1", protocol.Op{Name: protocol.OpInterrupted, Data: struct{}{}})
	hub.Publish("s_2", protocol.Op{Name: protocol.OpReload})

	select {
	case op := <-ch:
		assert.Equal(t, protocol.OpInterrupted, op.Name)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for op")
	}
	assert.Empty(t, ch, "ops for other sessions must not be delivered")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil, nil)
	ch, cancel := hub.Subscribe("s_1")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("s_1"))
}

func TestPublishDropsWhenFull(t *testing.T) {
	obs := &countingObserver{}
	hub := NewHub(nil, obs)
	hub.depth = 1
	_, cancel := hub.Subscribe("s_1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.Publish("s_1", protocol.Op{Name: protocol.OpAlert})
		hub.Publish("s_1", protocol.Op{Name: protocol.OpAlert})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, 1, obs.delivered)
	assert.Equal(t, 1, obs.dropped)
}

func TestCloseSession(t *testing.T) {
	hub := NewHub(nil, nil)
	a, cancelA := hub.Subscribe("s_1")
	b, _ := hub.Subscribe("s_1")
	require.Equal(t, 2, hub.Subscribers("s_1"))

	hub.Close("s_1")
	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)

	// cancel after Close must not double close.
	assert.NotPanics(t, cancelA)
}

func TestSinkBindsSession(t *testing.T) {
	hub := NewHub(nil, nil)
	ch, cancel := hub.Subscribe("s_1")
	defer cancel()

	hub.Sink("s_1")(protocol.Op{Name: protocol.OpCompletedRun})
	op := <-ch
	assert.Equal(t, protocol.OpCompletedRun, op.Name)
}
