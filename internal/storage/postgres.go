package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(max(p.config.MaxConnections/2, 1))
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL cache connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL cache connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	p.logger.Info("Starting PostgreSQL cache migrations")
	placeholder := func(n int) string { return fmt.Sprintf("$%d", n) }
	if err := applyMigrations(p.db, p.migrations, placeholder, p.logger); err != nil {
		return err
	}
	p.logger.Info("PostgreSQL cache migrations completed")
	return nil
}

// ReplaceEntries swaps the cached snapshot for entries, dropping provisional rows
func (p *PostgreSQLStorage) ReplaceEntries(ctx context.Context, entries []models.LogEntry) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM log_entries"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to clear cached entries", err.Error())
	}

	// Use COPY for better performance with large sheets
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("log_entries",
		"seq", "system_timestamp", "machine_id", "operator_name", "cleaning_date", "provisional"))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare COPY statement", err.Error())
	}

	for i, entry := range entries {
		if _, err := stmt.ExecContext(ctx, i, entry.SystemTimestamp, entry.MachineID,
			entry.OperatorName, entry.CleaningDate, false); err != nil {
			stmt.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to add entry to COPY", err.Error())
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to execute COPY", err.Error())
	}
	if err := stmt.Close(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to close COPY statement", err.Error())
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, metaLastReplaced, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update cache metadata", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	p.logger.WithField("count", len(entries)).Debug("Replaced cached entries")
	return nil
}

// AppendEntry places entry ahead of every cached entry
func (p *PostgreSQLStorage) AppendEntry(ctx context.Context, entry models.LogEntry, provisional bool) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO log_entries
		(seq, system_timestamp, machine_id, operator_name, cleaning_date, provisional)
		VALUES ((SELECT COALESCE(MIN(seq), 0) - 1 FROM log_entries), $1, $2, $3, $4, $5)
	`, entry.SystemTimestamp, entry.MachineID, entry.OperatorName, entry.CleaningDate, provisional)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append entry", err.Error())
	}

	return nil
}

// GetEntries returns the cached entries, most recently appended first
func (p *PostgreSQLStorage) GetEntries(ctx context.Context) ([]models.LogEntry, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	rows, err := p.db.QueryContext(ctx, `
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
func (p *PostgreSQLStorage) GetStats() (*StorageStats, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	stats := &StorageStats{}
	err := p.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE provisional),
		       COUNT(DISTINCT UPPER(machine_id))
		FROM log_entries
	`).Scan(&stats.TotalEntries, &stats.ProvisionalEntries, &stats.Machines)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cache stats", err.Error())
	}

	var replaced string
	err = p.db.QueryRow("SELECT value FROM cache_meta WHERE key = $1", metaLastReplaced).Scan(&replaced)
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
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "PostgreSQL",
		Healthy:     p.Ping() == nil,
		LastPing:    time.Now(),
	}
}
