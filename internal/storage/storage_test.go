package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/machine-logger/internal/config"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()

	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "cache", "logbook.db"),
		MaxConnections:   2,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, s.Connect(), "Failed to connect to SQLite")
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(), "Failed to run migrations")
	return s
}

func entry(machine, operator, date string) models.LogEntry {
	return models.LogEntry{
		SystemTimestamp: "1 Jan 2026, 08.00",
		MachineID:       machine,
		OperatorName:    operator,
		CleaningDate:    date,
	}
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	s := newTestSQLite(t)

	t.Log("Running migrations a second time...")
	require.NoError(t, s.Migrate())

	var applied int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(GetSQLiteMigrations()), applied)
}

func TestSQLiteStorage_ReplaceAndGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	entries, err := s.GetEntries(ctx)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	snapshot := []models.LogEntry{
		entry("M1", "Budi", "2026-01-01"),
		entry("M2", "Sari", "2026-01-05"),
		entry("m1", "Andi", "2026-02-01"),
	}
	require.NoError(t, s.ReplaceEntries(ctx, snapshot))

	entries, err = s.GetEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, entries)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(0), stats.ProvisionalEntries)
	assert.Equal(t, int64(2), stats.Machines)
	require.NotNil(t, stats.LastReplacedAt)
	assert.WithinDuration(t, time.Now(), *stats.LastReplacedAt, time.Minute)
}

func TestSQLiteStorage_AppendEntryGoesFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceEntries(ctx, []models.LogEntry{
		entry("M1", "Budi", "2026-01-01"),
		entry("M2", "Sari", "2026-01-05"),
	}))

	require.NoError(t, s.AppendEntry(ctx, entry("M3", "Dewi", "2026-01-10"), true))
	require.NoError(t, s.AppendEntry(ctx, entry("M4", "Eko", "2026-01-11"), true))

	entries, err := s.GetEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "M4", entries[0].MachineID)
	assert.Equal(t, "M3", entries[1].MachineID)
	assert.Equal(t, "M1", entries[2].MachineID)
	assert.Equal(t, "M2", entries[3].MachineID)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ProvisionalEntries)
}

func TestSQLiteStorage_AppendToEmptyCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEntry(ctx, entry("M1", "Budi", "2026-01-01"), false))

	entries, err := s.GetEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Nil(t, stats.LastReplacedAt)
}

func TestSQLiteStorage_ReplaceDropsProvisional(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceEntries(ctx, []models.LogEntry{entry("M1", "Budi", "2026-01-01")}))
	require.NoError(t, s.AppendEntry(ctx, entry("M9", "Dewi", "2026-01-10"), true))

	fresh := []models.LogEntry{
		entry("M2", "Sari", "2026-01-05"),
		entry("M3", "Eko", "2026-01-06"),
	}
	require.NoError(t, s.ReplaceEntries(ctx, fresh))

	entries, err := s.GetEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, entries)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ProvisionalEntries)
}

func TestSQLiteStorage_NotConnected(t *testing.T) {
	s := NewSQLiteStorage(&StorageConfig{ConnectionString: "unused.db", MaxConnections: 1})

	_, err := s.GetEntries(context.Background())
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))
	assert.Error(t, s.Ping())
	assert.False(t, s.GetHealth().Healthy)
}

func TestSQLiteStorage_Health(t *testing.T) {
	s := newTestSQLite(t)

	health := s.GetHealth()
	assert.True(t, health.Healthy)
	assert.Equal(t, "SQLite", health.StorageType)
}

func TestStorageWithMetrics(t *testing.T) {
	mgr := metrics.NewManager()
	s := NewStorageWithMetrics(newTestSQLite(t), mgr)
	ctx := context.Background()

	require.NoError(t, s.ReplaceEntries(ctx, []models.LogEntry{entry("M1", "Budi", "2026-01-01")}))
	require.NoError(t, s.AppendEntry(ctx, entry("M2", "Sari", "2026-01-02"), true))
	_, err := s.GetEntries(ctx)
	require.NoError(t, err)

	ops := mgr.GetPrometheusMetrics().DatabaseOperationsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("replace", "log_entries", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("insert", "log_entries", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("select", "log_entries", "success")))
}

func TestNewStorage(t *testing.T) {
	tests := map[string]struct {
		cfg     config.StorageConfig
		want    string
		wantErr bool
	}{
		"sqlite":      {cfg: config.StorageConfig{Type: "sqlite", ConnectionString: "x.db", MaxConnections: 1}, want: "*storage.SQLiteStorage"},
		"postgres":    {cfg: config.StorageConfig{Type: "postgres", ConnectionString: "postgres://x", MaxConnections: 1}, want: "*storage.PostgreSQLStorage"},
		"postgresql":  {cfg: config.StorageConfig{Type: "PostgreSQL", ConnectionString: "postgres://x", MaxConnections: 1}, want: "*storage.PostgreSQLStorage"},
		"unsupported": {cfg: config.StorageConfig{Type: "mysql", ConnectionString: "x", MaxConnections: 1}, wantErr: true},
		"no type":     {cfg: config.StorageConfig{ConnectionString: "x", MaxConnections: 1}, wantErr: true},
		"no conn":     {cfg: config.StorageConfig{Type: "sqlite", MaxConnections: 1}, wantErr: true},
		"no pool":     {cfg: config.StorageConfig{Type: "sqlite", ConnectionString: "x"}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := NewStorage(&tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, typeName(s))
		})
	}
}

func typeName(s Storage) string {
	switch s.(type) {
	case *SQLiteStorage:
		return "*storage.SQLiteStorage"
	case *PostgreSQLStorage:
		return "*storage.PostgreSQLStorage"
	}
	return ""
}
