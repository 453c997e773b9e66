// Package events fans out pushed ops to the subscribers of a session.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// DefaultDepth is the buffer size of each subscriber channel.
const DefaultDepth = 256

// Observer is notified of hub activity, e.g. for metrics.
type Observer interface {
	Published(op string, delivered, dropped int)
}

// Hub delivers ops to per-session subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the op.
type Hub struct {
	mu       sync.Mutex
	subs     map[id.SessionID]map[chan protocol.Op]struct{}
	depth    int
	log      *zap.Logger
	observer Observer
}

// NewHub creates a hub. observer may be nil.
func NewHub(log *zap.Logger, observer Observer) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:     make(map[id.SessionID]map[chan protocol.Op]struct{}),
		depth:    DefaultDepth,
		log:      log,
		observer: observer,
	}
}

// Subscribe registers a subscriber for the session. The returned cancel
// func unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(sessionID id.SessionID) (<-chan protocol.Op, func()) {
	ch := make(chan protocol.Op, h.depth)

	h.mu.Lock()
	subs := h.subs[sessionID]
	if subs == nil {
		subs = make(map[chan protocol.Op]struct{})
		h.subs[sessionID] = subs
	}
	subs[ch] = struct{}{}
	count := len(subs)
	h.mu.Unlock()

	h.log.Debug("subscribed", zap.String("session_id", sessionID.String()), zap.Int("subscribers", count))

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(sessionID, ch) })
	}
}

func (h *Hub) remove(sessionID id.SessionID, ch chan protocol.Op) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sessionID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subs, sessionID)
	}
	close(ch)
}

// Publish delivers op to every subscriber of the session.
func (h *Hub) Publish(sessionID id.SessionID, op protocol.Op) {
	h.mu.Lock()
	delivered, dropped := 0, 0
	for sub := range h.subs[sessionID] {
		select {
		case sub <- op:
			delivered++
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.log.Warn("slow subscribers missed op",
			zap.String("session_id", sessionID.String()),
			zap.String("op", op.Name),
			zap.Int("dropped", dropped))
	}
	if h.observer != nil {
		h.observer.Published(op.Name, delivered, dropped)
	}
}

// Sink returns a publish function bound to one session.
func (h *Hub) Sink(sessionID id.SessionID) func(protocol.Op) {
	return func(op protocol.Op) { h.Publish(sessionID, op) }
}

// Subscribers returns the subscriber count of a session.
func (h *Hub) Subscribers(sessionID id.SessionID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close unsubscribes everyone from the session, closing their channels.
func (h *Hub) Close(sessionID id.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[sessionID] {
		close(ch)
	}
	delete(h.subs, sessionID)
}
