//go:build integration

// Package testutil starts disposable backends for integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/sorrel/db"
	"github.com/Ramsey-B/sorrel/pkg/database"
)

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// Postgres starts a migrated PostgreSQL container and returns a connection to it. The container is
// terminated when the test ends.
func Postgres(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sorrel"),
		tcpostgres.WithUsername("sorrel"),
		tcpostgres.WithPassword("sorrel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := database.Open(ctx, "pgx", dsn, database.PoolConfig{MaxOpenConns: 20}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	migrations := database.NewMigrationService(Logger(), &database.MigrationConfig{
		Embedded:     db.Migrations,
		EmbeddedRoot: "pg",
	})
	require.NoError(t, migrations.MigrateUp(conn, "sorrel"))
	return conn
}
