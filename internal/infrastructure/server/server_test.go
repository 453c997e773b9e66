package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Workspace.Watch = false
	cfg.RateLimit.Enabled = false
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestRoutesAreWired(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(tracing.HeaderTraceID))

	req = httptest.NewRequest(http.MethodPost, "/api/files/list_files", strings.NewReader(`{}`))
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/api/kernel/interrupt", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), string(protocol.KindSessionMismatch))
}

func TestLargeResponsesAreCompressed(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workspace.Root, "notes.txt"), []byte(strings.Repeat("notebook ", 2048)), 0o644))

	req := httptest.NewRequest(http.MethodPost, "/api/files/file_details", strings.NewReader(`{"path":"notes.txt"}`))
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestHealthServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCHealthPort = "0"
	s := newTestServer(t, cfg)
	require.NotNil(t, s.health)

	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCHealthPort = "0"
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
