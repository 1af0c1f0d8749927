package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/internal/audit"
	"github.com/smartdevs17/machine-logger/internal/config"
	"github.com/smartdevs17/machine-logger/internal/logbook"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/notification"
	"github.com/smartdevs17/machine-logger/internal/remote"
	"github.com/smartdevs17/machine-logger/internal/server"
	"github.com/smartdevs17/machine-logger/internal/storage"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *logrus.Entry
	metrics  *metrics.Manager
	storage  storage.Storage
	remote   remote.Store
	notifier notification.Notifier
	logbook  *logbook.Service
	server   *server.HTTPServer
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance with everything but
// the HTTP server
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.metrics = metrics.NewManager()

	app.initializeStorage()
	app.initializeRemote()
	app.initializeNotifier()

	if err := app.initializeLogbook(); err != nil {
		return fmt.Errorf("failed to initialize logbook: %w", err)
	}

	app.logger.Debug("All components initialized successfully")
	return nil
}

// initializeStorage opens the local cache. A cache that cannot be opened is
// logged and skipped; the logbook then runs without a fallback.
func (app *Application) initializeStorage() {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		app.logger.WithError(err).Warn("Invalid cache configuration, running without cache")
		return
	}

	if err := store.Connect(); err != nil {
		app.logger.WithError(err).Warn("Failed to open cache, running without cache")
		return
	}

	if err := store.Migrate(); err != nil {
		app.logger.WithError(err).Warn("Failed to migrate cache, running without cache")
		store.Close()
		return
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.WithField("type", app.config.Storage.Type).Debug("Cache initialized")
}

// initializeRemote creates the script endpoint client
func (app *Application) initializeRemote() {
	app.remote = remote.NewScriptClient(remoteConfig(app.config.Remote), app.metrics.GetPrometheusMetrics())
}

// initializeNotifier creates the overdue notifier
func (app *Application) initializeNotifier() {
	cfg := app.config.Notifications
	app.notifier = notification.NewOverdueNotifier(notification.Config{
		Enabled:    cfg.Enabled,
		WebhookURL: cfg.WebhookURL,
		Timeout:    cfg.Timeout,
		Retry: utils.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryDelay,
			MaxDelay:    time.Minute,
			Backoff:     "exponential",
		},
	}, app.metrics.GetPrometheusMetrics())
}

// initializeLogbook creates the logbook service
func (app *Application) initializeLogbook() error {
	loc, err := app.config.App.Location()
	if err != nil {
		return err
	}

	app.logbook = logbook.NewService(logbook.Options{
		Remote:   app.remote,
		Cache:    app.storage,
		Deriver:  audit.NewDeriver(loc),
		Notifier: app.notifier,
		Metrics:  app.metrics.GetPrometheusMetrics(),
	})
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		SubmitRate:    app.config.Server.SubmitRate,
		SubmitBurst:   app.config.Server.SubmitBurst,
		TrustProxy:    app.config.Server.TrustProxy,
		Version:       AppVersion,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.logbook, app.remote, app.storage, app.notifier, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	return nil
}

// Start starts the HTTP server and loads the logbook once
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting machine logger")

	if app.server == nil {
		if err := app.initializeServer(); err != nil {
			return err
		}
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Initial load; failures leave a notice and are retried on demand
	go func() {
		if _, err := app.logbook.Refresh(app.ctx); err != nil {
			app.logger.WithError(err).Warn("Initial logbook load failed")
		}
	}()

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"cache_enabled":  app.storage != nil,
	}).Info("Machine logger started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping machine logger")

	// Cancel context to stop all components
	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	app.Close()
	app.logger.Info("Machine logger stopped successfully")
	return nil
}

// Close releases the cache
func (app *Application) Close() {
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
}

// remoteConfig maps the remote section of the config file to client options
func remoteConfig(cfg config.RemoteConfig) remote.Config {
	return remote.Config{
		ScriptURL:  cfg.ScriptURL,
		Timeout:    cfg.RequestTimeout,
		RequireAck: cfg.RequireAck,
		Retry: utils.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryDelay,
			MaxDelay:    30 * time.Second,
			Backoff:     "exponential",
		},
	}
}
