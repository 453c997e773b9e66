package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestOperationAndSessionMetrics(t *testing.T) {
	m := NewMetrics()

	m.Operation("run", "ok", time.Millisecond)
	m.Operation("run", "ProtocolError", time.Millisecond)
	m.SessionsActive(3)
	m.CellExecuted(true)
	m.CellExecuted(false)
	m.Published("cell-op", 2, 1)

	assert.Equal(t, 1.0, value(t, m.Operations.WithLabelValues("run", "ok")))
	assert.Equal(t, 1.0, value(t, m.Operations.WithLabelValues("run", "ProtocolError")))
	assert.Equal(t, 3.0, value(t, m.ActiveSessions))
	assert.Equal(t, 1.0, value(t, m.CellsExecuted.WithLabelValues("error")))
	assert.Equal(t, 2.0, value(t, m.OpsDelivered.WithLabelValues("cell-op")))
	assert.Equal(t, 1.0, value(t, m.OpsDropped.WithLabelValues("cell-op")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.ActiveSessions)
	assert.Equal(t, int64(2), snap.CellsExecuted)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/usage", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 1.0, value(t, m.RequestsTotal.WithLabelValues("GET", "/api/usage", "200")))
	assert.Equal(t, 1.0, value(t, m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, int64(1), m.Snapshot().TotalErrors)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "notebookd_http_requests_total")
	assert.Contains(t, string(body), "notebookd_uptime_seconds")
}

func TestMetricsAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.SessionsActive(1)
	assert.Zero(t, value(t, b.ActiveSessions))
}
