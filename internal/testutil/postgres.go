// Package testutil provides shared test infrastructure, following the
// pattern of net/http/httptest: helpers live here so store and integration
// tests across packages do not each spin their own containers differently.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aster0/aster/internal/database"
)

// postgresImage carries the pgvector extension the memory store needs.
const postgresImage = "pgvector/pgvector:pg16"

// TestDB is an isolated PostgreSQL instance with the full aster schema
// applied. The pool and container are cleaned up via t.Cleanup.
type TestDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// SetupTestDB starts a PostgreSQL container, runs all schema migrations,
// and returns a ready connection pool.
//
// Skips the test under -short; container startup dominates the runtime.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("aster_test"),
		postgres.WithUsername("aster_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := database.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := database.NewPool(ctx, connStr, database.PoolConfig{})
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Pool: pool, ConnStr: connStr}
}
