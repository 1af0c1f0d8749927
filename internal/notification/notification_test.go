package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

var today = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func summary(machine string, last time.Time, overdue bool) models.MachineSummary {
	return models.MachineSummary{
		MachineID:        machine,
		Entries:          1,
		LastCleaningDate: last,
		LastOperator:     "Budi",
		NextTargetDate:   last.AddDate(0, 0, 30),
		Overdue:          overdue,
	}
}

func newTestNotifier(url string, m *metrics.PrometheusMetrics) *OverdueNotifier {
	n := NewOverdueNotifier(Config{
		Enabled:    true,
		WebhookURL: url,
		Timeout:    time.Second,
		Retry:      utils.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Backoff: "fixed"},
	}, m)
	n.now = func() time.Time { return today }
	return n
}

func TestOverdueNotifier_WebhookOncePerTarget(t *testing.T) {
	var calls int32
	payloads := make(chan receivedPayload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		var received receivedPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		payloads <- received
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := metrics.NewManager().GetPrometheusMetrics()
	n := newTestNotifier(srv.URL, m)

	summaries := []models.MachineSummary{
		summary("M1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true),
		summary("M2", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false),
	}

	require.NoError(t, n.NotifyOverdue(context.Background(), summaries))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	received := <-payloads
	assert.Equal(t, EventMachinesOverdue, received.Event)
	require.Len(t, received.Data, 1)
	assert.Equal(t, "M1", received.Data[0].MachineID)
	assert.Equal(t, "2026-01-31", received.Data[0].NextTargetDate)
	assert.Equal(t, 38, received.Data[0].DaysOverdue)

	t.Log("Notifying again with the same target...")
	require.NoError(t, n.NotifyOverdue(context.Background(), summaries))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := n.GetStats()
	assert.Equal(t, uint64(1), stats.TotalAlerts)
	assert.Equal(t, uint64(1), stats.TotalWebhooksSent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues(ChannelWebhook)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues(ChannelLog)))
}

// receivedPayload mirrors WebhookPayload with typed alert data
type receivedPayload struct {
	Event string         `json:"event"`
	Data  []OverdueAlert `json:"data"`
}

func TestOverdueNotifier_NewTargetAlertsAgain(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, n.NotifyOverdue(ctx, []models.MachineSummary{
		summary("M1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true),
	}))
	require.NoError(t, n.NotifyOverdue(ctx, []models.MachineSummary{
		summary("M1", time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), true),
	}))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOverdueNotifier_RetriesAfterWebhookFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	m := metrics.NewManager().GetPrometheusMetrics()
	n := newTestNotifier(srv.URL, m)
	summaries := []models.MachineSummary{summary("M1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true)}

	err := n.NotifyOverdue(context.Background(), summaries)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeExternal))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	stats := n.GetStats()
	assert.Equal(t, uint64(1), stats.TotalFailed)
	assert.Equal(t, 1, stats.PendingMachines)
	require.NotNil(t, stats.LastError)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailuresTotal.WithLabelValues(ChannelWebhook)))

	// still failing: the webhook is tried again but the alert is not re-logged
	require.Error(t, n.NotifyOverdue(context.Background(), summaries))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	stats = n.GetStats()
	assert.Equal(t, uint64(1), stats.TotalAlerts)
	assert.Equal(t, uint64(2), stats.TotalFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues(ChannelLog)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationFailuresTotal.WithLabelValues(ChannelWebhook)))

	fail.Store(false)
	require.NoError(t, n.NotifyOverdue(context.Background(), summaries))
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))

	stats = n.GetStats()
	assert.Equal(t, 0, stats.PendingMachines)
	assert.Equal(t, uint64(1), stats.TotalAlerts)
	assert.Equal(t, uint64(1), stats.TotalWebhooksSent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues(ChannelLog)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues(ChannelWebhook)))
}

func TestOverdueNotifier_LogOnly(t *testing.T) {
	n := newTestNotifier("", nil)

	require.NoError(t, n.NotifyOverdue(context.Background(), []models.MachineSummary{
		summary("M1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true),
	}))
	assert.Equal(t, uint64(1), n.GetStats().TotalAlerts)
	assert.Equal(t, uint64(0), n.GetStats().TotalWebhooksSent)
}

func TestOverdueNotifier_Disabled(t *testing.T) {
	n := NewOverdueNotifier(Config{Enabled: false}, nil)

	require.NoError(t, n.NotifyOverdue(context.Background(), []models.MachineSummary{
		summary("M1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true),
	}))
	assert.Equal(t, uint64(0), n.GetStats().TotalAlerts)
}

func TestDaysBetween(t *testing.T) {
	target := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, daysBetween(target, target.Add(23*time.Hour)))
	assert.Equal(t, 1, daysBetween(target, target.AddDate(0, 0, 1)))
	assert.Equal(t, 0, daysBetween(target, target.AddDate(0, 0, -3)))
}
