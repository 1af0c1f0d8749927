package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IndependentRegistries(t *testing.T) {
	// two managers must not collide on registration
	a := NewManager()
	b := NewManager()

	a.GetPrometheusMetrics().RecordSubmission("success")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.GetPrometheusMetrics().SubmissionsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GetPrometheusMetrics().SubmissionsTotal.WithLabelValues("success")))
}

func TestPrometheusMetrics_Recorders(t *testing.T) {
	m := NewManager().GetPrometheusMetrics()

	m.RecordRemoteRequest("list", "success", 20*time.Millisecond)
	m.RecordRemoteRequest("list", "error", 5*time.Millisecond)
	m.RecordCacheFallback()
	m.UpdateLogbook(10, 8, 2)
	m.UpdateComponentHealth("storage", true)
	m.UpdateComponentHealth("remote", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteRequestsTotal.WithLabelValues("list", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheFallbacksTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.EntriesLoaded))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.EntriesDerived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MachinesOverdue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentHealth.WithLabelValues("storage")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ComponentHealth.WithLabelValues("remote")))
}

func TestManager_Handler(t *testing.T) {
	mgr := NewManager()
	mgr.UpdateSystemMetrics()
	mgr.GetPrometheusMetrics().RecordCacheFallback()

	rec := httptest.NewRecorder()
	mgr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "machine_logger_cache_fallbacks_total 1")
	assert.Contains(t, string(body), "machine_logger_goroutines")
}
