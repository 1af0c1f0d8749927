package storage

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					seq INTEGER NOT NULL,
					system_timestamp TEXT NOT NULL DEFAULT '',
					machine_id TEXT NOT NULL DEFAULT '',
					operator_name TEXT NOT NULL DEFAULT '',
					cleaning_date TEXT NOT NULL DEFAULT '',
					provisional BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_log_entries_seq ON log_entries(seq);
				CREATE INDEX IF NOT EXISTS idx_log_entries_machine ON log_entries(machine_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create cache_meta table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cache_meta (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_entries (
					id BIGSERIAL PRIMARY KEY,
					seq BIGINT NOT NULL,
					system_timestamp TEXT NOT NULL DEFAULT '',
					machine_id TEXT NOT NULL DEFAULT '',
					operator_name TEXT NOT NULL DEFAULT '',
					cleaning_date TEXT NOT NULL DEFAULT '',
					provisional BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_log_entries_seq ON log_entries(seq);
				CREATE INDEX IF NOT EXISTS idx_log_entries_machine ON log_entries(machine_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create cache_meta table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cache_meta (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				);
			`,
		},
	}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL
	)
`

// applyMigrations runs every migration not yet recorded in schema_migrations.
// placeholder formats the n-th bind parameter for the driver.
func applyMigrations(db *sql.DB, migrations []*Migration, placeholder func(n int) string, logger *logrus.Logger) error {
	if db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	if _, err := db.Exec(createMigrationsTable); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration version", err.Error())
		}
		applied[version] = true
	}
	rows.Close()

	record := fmt.Sprintf("INSERT INTO schema_migrations (version, description) VALUES (%s, %s)",
		placeholder(1), placeholder(2))

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.Begin()
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		if _, err := tx.Exec(record, migration.Version, migration.Description); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit migration", err.Error())
		}
	}

	return nil
}
