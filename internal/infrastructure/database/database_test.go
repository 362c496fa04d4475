package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates file and nested directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "gateway.db")

		db, err := Open(t.Context(), config.DatabaseConfig{Path: dbPath, BusyTimeout: 1})
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck // Test cleanup

		require.NoError(t, db.HealthCheck(t.Context()))
		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
		assert.Equal(t, dbPath, db.Path())
	})

	t.Run("enables WAL mode", func(t *testing.T) {
		db := openTestDB(t)

		var mode string
		require.NoError(t, db.QueryRowContext(t.Context(), "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	})

	t.Run("enables foreign keys", func(t *testing.T) {
		db := openTestDB(t)

		var enabled int
		require.NoError(t, db.QueryRowContext(t.Context(), "PRAGMA foreign_keys").Scan(&enabled))
		assert.Equal(t, 1, enabled)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Open(t.Context(), config.DatabaseConfig{})
		assert.Error(t, err)
	})
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Close())
	assert.Error(t, db.HealthCheck(context.Background()))

	var zero DB
	assert.NoError(t, zero.Close())
}
