package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/session"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // editor frontend is served from another origin in dev
	},
}

// Subscriber is the push side of the event hub.
type Subscriber interface {
	Subscribe(sessionID id.SessionID) (<-chan protocol.Op, func())
}

// ConnMetrics counts open connections.
type ConnMetrics interface {
	IncWSConnections()
	DecWSConnections()
}

type nopMetrics struct{}

func (nopMetrics) IncWSConnections() {}
func (nopMetrics) DecWSConnections() {}

// Handler manages push channel connections
type Handler struct {
	sessions *session.Registry
	hub      Subscriber
	metrics  ConnMetrics
	log      *zap.Logger
}

// NewHandler creates a new push channel handler. metrics may be nil.
func NewHandler(sessions *session.Registry, hub Subscriber, metrics ConnMetrics, log *zap.Logger) *Handler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		log:      log,
	}
}

// HandleConnection upgrades the request, opens or resumes the session named
// by the session_id query parameter and streams its ops until either side
// goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := id.SessionID(c.Query("session_id"))
	if sessionID.IsZero() {
		pe := protocol.Protocolf("session_id query parameter is required")
		c.AbortWithStatusJSON(pe.Status(), pe.Body())
		return
	}
	file := c.Query("file")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	log := h.log.With(logging.SessionID(sessionID.String()))

	// subscribe before opening so the kernel-ready op is not missed
	ops, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()

	if _, _, err := h.sessions.Open(c.Request.Context(), sessionID, file); err != nil {
		pe := protocol.AsError(err)
		log.Info("session open refused", zap.String("type", string(pe.Kind)), zap.Error(err))
		h.refuse(conn, pe)
		return
	}
	log.Debug("push channel connected", logging.Path(file))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	if err := h.writePump(ctx, conn, ops); err != nil {
		log.Debug("push channel closed", zap.Error(err))
	}
}

// readPump drains client frames so control messages are processed. Clients
// send nothing else on this channel.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, ops <-chan protocol.Op) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op, ok := <-ops:
			if !ok {
				// session shut down
				h.close(conn, websocket.CloseNormalClosure, "session closed")
				return nil
			}
			if err := h.send(conn, op); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, op protocol.Op) error {
	data, err := sonic.Marshal(op)
	if err != nil {
		h.log.Error("op encoding failed", zap.String("op", op.Name), zap.Error(err))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// refuse reports an open failure as an alert and closes the connection.
func (h *Handler) refuse(conn *websocket.Conn, pe *protocol.Error) {
	_ = h.send(conn, protocol.Op{Name: protocol.OpAlert, Data: protocol.Alert{
		Title:       string(pe.Kind),
		Description: pe.Error(),
		Variant:     "danger",
	}})
	code := websocket.CloseInternalServerErr
	switch pe.Kind {
	case protocol.KindProtocol, protocol.KindInvalidPath, protocol.KindNotFound:
		code = websocket.ClosePolicyViolation
	case protocol.KindSessionMismatch, protocol.KindConflict:
		code = websocket.CloseTryAgainLater
	}
	h.close(conn, code, string(pe.Kind))
}

func (h *Handler) close(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}
