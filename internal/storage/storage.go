// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/machine-logger/internal/models"
)

// Storage is the local fallback cache of the remote logbook
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Entry operations
	ReplaceEntries(ctx context.Context, entries []models.LogEntry) error
	AppendEntry(ctx context.Context, entry models.LogEntry, provisional bool) error
	GetEntries(ctx context.Context) ([]models.LogEntry, error)

	// Statistics and monitoring
	GetStats() (*StorageStats, error)
	GetHealth() *StorageHealth
}

// StorageStats provides cache statistics
type StorageStats struct {
	TotalEntries       int64      `json:"total_entries"`
	ProvisionalEntries int64      `json:"provisional_entries"`
	Machines           int64      `json:"machines"`
	LastReplacedAt     *time.Time `json:"last_replaced_at,omitempty"`
}

// StorageHealth reports cache connectivity
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

// metaLastReplaced is the cache_meta key holding the last snapshot time
const metaLastReplaced = "last_replaced_at"
