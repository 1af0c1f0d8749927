package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

// ReplaceEntries replaces the cached snapshot and records metrics
func (s *StorageWithMetrics) ReplaceEntries(ctx context.Context, entries []models.LogEntry) error {
	start := time.Now()
	err := s.Storage.ReplaceEntries(ctx, entries)
	s.record("replace", start, err)
	return err
}

// AppendEntry appends an entry and records metrics
func (s *StorageWithMetrics) AppendEntry(ctx context.Context, entry models.LogEntry, provisional bool) error {
	start := time.Now()
	err := s.Storage.AppendEntry(ctx, entry, provisional)
	s.record("insert", start, err)
	return err
}

// GetEntries reads the cached entries and records metrics
func (s *StorageWithMetrics) GetEntries(ctx context.Context) ([]models.LogEntry, error) {
	start := time.Now()
	entries, err := s.Storage.GetEntries(ctx)
	s.record("select", start, err)
	return entries, err
}

func (s *StorageWithMetrics) record(operation string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		"log_entries",
		status,
		time.Since(start),
	)
}
