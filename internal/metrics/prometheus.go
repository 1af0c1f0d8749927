package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the machine logger
type PrometheusMetrics struct {
	// Remote store metrics
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	CacheFallbacksTotal   prometheus.Counter

	// Logbook metrics
	SubmissionsTotal *prometheus.CounterVec
	EntriesLoaded    prometheus.Gauge
	EntriesDerived   prometheus.Gauge
	MachinesOverdue  prometheus.Gauge
	LastRefresh      prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		RemoteRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_remote_requests_total",
				Help: "Total number of requests made to the remote logbook",
			},
			[]string{"operation", "status"},
		),

		RemoteRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "machine_logger_remote_request_duration_seconds",
				Help:    "Duration of requests to the remote logbook",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "machine_logger_cache_fallbacks_total",
				Help: "Total number of refreshes served from the local cache",
			},
		),

		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_submissions_total",
				Help: "Total number of cleaning submissions by outcome",
			},
			[]string{"status"},
		),

		EntriesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_entries_loaded",
				Help: "Number of log entries in the current set",
			},
		),

		EntriesDerived: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_entries_derived",
				Help: "Number of entries with a valid cleaning date in the last derivation",
			},
		),

		MachinesOverdue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_machines_overdue",
				Help: "Number of machines whose latest cleaning target has passed",
			},
		),

		LastRefresh: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_last_refresh_timestamp_seconds",
				Help: "Unix time of the last successful remote refresh",
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_database_operations_total",
				Help: "Total number of cache database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "machine_logger_database_operation_duration_seconds",
				Help:    "Duration of cache database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_notifications_sent_total",
				Help: "Total number of overdue notifications sent",
			},
			[]string{"channel"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_notification_failures_total",
				Help: "Total number of failed overdue notifications",
			},
			[]string{"channel"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machine_logger_http_requests_total",
				Help: "Total number of HTTP requests to the API",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "machine_logger_http_request_duration_seconds",
				Help:    "Duration of HTTP requests to the API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "machine_logger_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "machine_logger_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordRemoteRequest records a request to the remote logbook
func (m *PrometheusMetrics) RecordRemoteRequest(operation, status string, duration time.Duration) {
	m.RemoteRequestsTotal.WithLabelValues(operation, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheFallback records a refresh served from the local cache
func (m *PrometheusMetrics) RecordCacheFallback() {
	m.CacheFallbacksTotal.Inc()
}

// RecordSubmission records the outcome of a submission
func (m *PrometheusMetrics) RecordSubmission(status string) {
	m.SubmissionsTotal.WithLabelValues(status).Inc()
}

// UpdateLogbook updates the gauges describing the current entry set
func (m *PrometheusMetrics) UpdateLogbook(loaded, derived, overdue int) {
	m.EntriesLoaded.Set(float64(loaded))
	m.EntriesDerived.Set(float64(derived))
	m.MachinesOverdue.Set(float64(overdue))
}

// RecordRefresh records the time of a successful remote refresh
func (m *PrometheusMetrics) RecordRefresh(at time.Time) {
	m.LastRefresh.Set(float64(at.Unix()))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel string) {
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel string) {
	m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
