// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(max(s.config.MaxConnections/2, 1))
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite cache connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite cache connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	s.logger.Info("Starting cache migrations")
	if err := applyMigrations(s.db, s.migrations, func(int) string { return "?" }, s.logger); err != nil {
		return err
	}
	s.logger.Info("Cache migrations completed")
	return nil
}

// ReplaceEntries swaps the cached snapshot for entries, dropping provisional rows
func (s *SQLiteStorage) ReplaceEntries(ctx context.Context, entries []models.LogEntry) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM log_entries"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to clear cached entries", err.Error())
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_entries
		(seq, system_timestamp, machine_id, operator_name, cleaning_date, provisional)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for i, entry := range entries {
		if _, err := stmt.ExecContext(ctx, i, entry.SystemTimestamp, entry.MachineID,
			entry.OperatorName, entry.CleaningDate); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cache entry", err.Error())
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastReplaced, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update cache metadata", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.logger.WithField("count", len(entries)).Debug("Replaced cached entries")
	return nil
}

// AppendEntry places entry ahead of every cached entry
func (s *SQLiteStorage) AppendEntry(ctx context.Context, entry models.LogEntry, provisional bool) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_entries
		(seq, system_timestamp, machine_id, operator_name, cleaning_date, provisional)
		VALUES ((SELECT COALESCE(MIN(seq), 0) - 1 FROM log_entries), ?, ?, ?, ?, ?)
	`, entry.SystemTimestamp, entry.MachineID, entry.OperatorName, entry.CleaningDate, provisional)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append entry", err.Error())
	}

	return nil
}

// GetEntries returns the cached entries, most recently appended first
func (s *SQLiteStorage) GetEntries(ctx context.Context) ([]models.LogEntry, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT system_timestamp, machine_id, operator_name, cleaning_date
		FROM log_entries ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query entries", err.Error())
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var entry models.LogEntry
		if err := rows.Scan(&entry.SystemTimestamp, &entry.MachineID,
			&entry.OperatorName, &entry.CleaningDate); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan entry", err.Error())
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate entries", err.Error())
	}

	return entries, nil
}

// GetStats returns cache statistics
func (s *SQLiteStorage) GetStats() (*StorageStats, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	stats := &StorageStats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN provisional THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT UPPER(machine_id))
		FROM log_entries
	`).Scan(&stats.TotalEntries, &stats.ProvisionalEntries, &stats.Machines)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cache stats", err.Error())
	}

	var replaced string
	err = s.db.QueryRow("SELECT value FROM cache_meta WHERE key = ?", metaLastReplaced).Scan(&replaced)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read cache metadata", err.Error())
	default:
		if t, perr := time.Parse(time.RFC3339Nano, replaced); perr == nil {
			stats.LastReplacedAt = &t
		}
	}

	return stats, nil
}

// GetHealth reports cache connectivity
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"path": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}
