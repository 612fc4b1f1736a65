//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Exercises the shared SQL store against a real Postgres. Run with
// go test -tags integration ./pkg/storage/...
func TestPostgresBackend(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("cognition"),
		tcpostgres.WithUsername("cognition"),
		tcpostgres.WithPassword("cognition"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	openPostgres := func(t *testing.T) Backend {
		t.Helper()
		b := NewPostgresBackend(Config{
			Type:     "postgres",
			Host:     host,
			Port:     port.Int(),
			User:     "cognition",
			Password: "cognition",
			Database: "cognition",
			SSLMode:  "disable",
		})
		require.NoError(t, b.Initialize(ctx))
		t.Cleanup(func() {
			// Subtests share one database; wipe between them.
			_, _ = b.db.ExecContext(ctx, `DELETE FROM sessions`)
			_, _ = b.db.ExecContext(ctx, `DELETE FROM checkpoints`)
			_ = b.Close()
		})
		return b
	}

	runBackendTests(t, openPostgres)
}
