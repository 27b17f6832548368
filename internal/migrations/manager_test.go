package migrations

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		Driver:  "sqlite3",
		DSN:     ":memory:",
		Dialect: "sqlite3",
		Dir:     "../../migrations/sqlite",
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestUpAppliesSyncTables(t *testing.T) {
	m := newSQLiteManager(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	version, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	var name string
	require.NoError(t, m.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='sync_operations'`).Scan(&name))
	assert.Equal(t, "sync_operations", name)
}

func TestDownRollsBackLastMigration(t *testing.T) {
	m := newSQLiteManager(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))

	version, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}
