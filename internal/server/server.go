// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/internal/logbook"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/internal/notification"
	"github.com/smartdevs17/machine-logger/internal/remote"
	"github.com/smartdevs17/machine-logger/internal/storage"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	SubmitRate    float64       `json:"submit_rate"`
	SubmitBurst   int           `json:"submit_burst"`
	TrustProxy    bool          `json:"trust_proxy"`
	Version       string        `json:"version"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	logbook        *logbook.Service
	remote         remote.Store
	storage        storage.Storage
	notifier       notification.Notifier
	metricsManager *metrics.Manager
	submitLimiter  *RateLimiter
	logger         *logrus.Entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewHTTPServer creates a new HTTP server. remote, storage, notifier and
// metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	service *logbook.Service,
	remoteStore remote.Store,
	storage storage.Storage,
	notifier notification.Notifier,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if service == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Logbook service is required")
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}

	server := &HTTPServer{
		config:         config,
		logbook:        service,
		remote:         remoteStore,
		storage:        storage,
		notifier:       notifier,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("http_server"),
		done:           make(chan struct{}),
	}

	if config.SubmitRate > 0 {
		burst := config.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		server.submitLimiter = NewRateLimiter(config.SubmitRate, burst, time.Minute, config.TrustProxy)
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Logbook endpoints
	var submit http.Handler = http.HandlerFunc(s.submitLogHandler)
	if s.submitLimiter != nil {
		submit = s.submitLimiter.Middleware(submit)
	}
	api.HandleFunc("/logs", s.listLogsHandler).Methods("GET")
	api.Handle("/logs", submit).Methods("POST")
	api.HandleFunc("/logs/refresh", s.refreshLogsHandler).Methods("POST")
	api.HandleFunc("/machines", s.listMachinesHandler).Methods("GET")
	api.HandleFunc("/notice", s.noticeHandler).Methods("GET")
}

// Handler returns the root handler, CORS included
func (s *HTTPServer) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateHealthMetrics()
		go s.systemMetricsUpdater()
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.updateHealthMetrics()
		}
	}
}

func (s *HTTPServer) updateHealthMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	prom := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		prom.UpdateComponentHealth("storage", s.storage.GetHealth().Healthy)
	}
	state := s.logbook.State()
	prom.UpdateComponentHealth("logbook", state.Loaded && !state.FromCache)
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	s.stopOnce.Do(func() {
		close(s.done)
		if s.submitLimiter != nil {
			s.submitLimiter.Stop()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]interface{}{
		"logbook": s.logbook.State(),
	}

	if s.storage != nil {
		health := s.storage.GetHealth()
		components["storage"] = health
		if !health.Healthy {
			status = "degraded"
		}
	}

	if s.remote != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := s.remote.Ping(ctx)
		cancel()

		remoteHealth := map[string]interface{}{"healthy": err == nil}
		if err != nil {
			remoteHealth["error"] = err.Error()
			status = "degraded"
		}
		components["remote"] = remoteHealth
	}

	if s.notifier != nil {
		components["notification"] = s.notifier.GetStats()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"logbook":         s.logbook.State(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.storage != nil {
		storageStats, err := s.storage.GetStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err, nil)
			return
		}
		stats["storage"] = storageStats
	}
	if s.notifier != nil {
		stats["notification"] = s.notifier.GetStats()
	}
	if s.metricsManager != nil {
		stats["uptime_seconds"] = s.metricsManager.Uptime().Seconds()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response, carrying notice when set
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error, notice *models.Notice) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		if code := utils.ErrorCode(err); code != "" {
			errorResponse["code"] = code
		}
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}
	if notice != nil {
		errorResponse["notice"] = notice
	}

	s.writeJSON(w, status, errorResponse)
}
