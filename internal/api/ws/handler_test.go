package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/notebookd/internal/domain/events"
	"github.com/GriffinCanCode/notebookd/internal/domain/session"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type connCounter struct {
	open atomic.Int64
}

func (c *connCounter) IncWSConnections() { c.open.Add(1) }
func (c *connCounter) DecWSConnections() { c.open.Add(-1) }

type wireOp struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	url      string
	sessions *session.Registry
	hub      *events.Hub
	conns    *connCounter
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root, err := paths.NewRoot(t.TempDir())
	require.NoError(t, err)
	hub := events.NewHub(nil, nil)
	reg, err := session.NewRegistry(session.Options{Root: root, StateDir: ".state", Publisher: hub})
	require.NoError(t, err)

	conns := &connCounter{}
	router := gin.New()
	router.GET("/ws", NewHandler(reg, hub, conns, nil).HandleConnection)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		assert.NoError(t, reg.Close())
		srv.Close()
	})
	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		sessions: reg,
		hub:      hub,
		conns:    conns,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOp(t *testing.T, conn *websocket.Conn) wireOp {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var op wireOp
	require.NoError(t, conn.ReadJSON(&op))
	return op
}

func TestConnectPushesKernelReady(t *testing.T) {
	s := setupTestServer(t)
	conn := dial(t, s.url+"?session_id=s1&file=nb.py")

	op := readOp(t, conn)
	assert.Equal(t, protocol.OpKernelReady, op.Op)

	var ready protocol.KernelReady
	require.NoError(t, json.Unmarshal(op.Data, &ready))
	assert.False(t, ready.Resumed)
	assert.Equal(t, int64(1), s.conns.open.Load())

	s.hub.Publish("s1", protocol.Op{Name: protocol.OpAlert, Data: protocol.Alert{Title: "hi"}})
	op = readOp(t, conn)
	assert.Equal(t, protocol.OpAlert, op.Op)
	assert.JSONEq(t, `{"title":"hi","description":""}`, string(op.Data))
}

func TestReconnectResumes(t *testing.T) {
	s := setupTestServer(t)
	first := dial(t, s.url+"?session_id=s1&file=nb.py")
	readOp(t, first)
	require.NoError(t, first.Close())

	second := dial(t, s.url+"?session_id=s1&file=nb.py")
	op := readOp(t, second)
	require.Equal(t, protocol.OpKernelReady, op.Op)
	var ready protocol.KernelReady
	require.NoError(t, json.Unmarshal(op.Data, &ready))
	assert.True(t, ready.Resumed)
}

func TestMissingSessionID(t *testing.T) {
	s := setupTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefusedOpenSendsAlertAndCloses(t *testing.T) {
	s := setupTestServer(t)
	_, _, err := s.sessions.Open(context.Background(), "s1", "a.py")
	require.NoError(t, err)

	conn := dial(t, s.url+"?session_id=s1&file=b.py")
	op := readOp(t, conn)
	assert.Equal(t, protocol.OpAlert, op.Op)
	var alert protocol.Alert
	require.NoError(t, json.Unmarshal(op.Data, &alert))
	assert.Equal(t, string(protocol.KindSessionMismatch), alert.Title)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestShutdownClosesChannel(t *testing.T) {
	s := setupTestServer(t)
	conn := dial(t, s.url+"?session_id=s1&file=nb.py")
	readOp(t, conn)

	require.NoError(t, s.sessions.Shutdown("s1"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		return
	}
}
