//go:build integration

package ledger

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// postgresDSN starts a PostgreSQL container, or uses CKPTFS_TEST_POSTGRES_DSN
// when it is set.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("CKPTFS_TEST_POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	// PostgreSQL logs "ready" once during bootstrap and once when it
	// actually accepts connections.
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ckptfs"),
		postgres.WithUsername("ckptfs"),
		postgres.WithPassword("ckptfs"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://ckptfs:ckptfs@%s:%d/ckptfs?sslmode=disable", host, port.Int())
}

func TestPostgresLedger(t *testing.T) {
	dsn := postgresDSN(t)

	open := func(t *testing.T) Store {
		l, err := Open(Options{Backend: BackendPostgres, DSN: dsn, MaxOpenConns: 2})
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	}

	cases := []struct {
		name string
		fn   func(t *testing.T, l Store)
	}{
		{"PutLoadDelete", testPutLoadDelete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := open(t)
			for _, target := range []string{"s3", "local"} {
				_, err := l.DropTarget(target)
				require.NoError(t, err)
			}
			tc.fn(t, l)
		})
	}

	t.Run("MigrationsAreIdempotent", func(t *testing.T) {
		first := open(t)
		second := open(t)
		require.NoError(t, first.Healthcheck(context.Background()))
		require.NoError(t, second.Healthcheck(context.Background()))
	})
}
