package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailpilot/internal/config"
	"github.com/vdavid/mailpilot/migrations"
)

const (
	testDBName     = "mailpilot_test"
	testDBUser     = "mailpilot"
	testDBPassword = "mailpilot"
)

// NewTestDBConfig starts a Postgres test container and returns a config pointing at it.
// The container is automatically cleaned up when the test finishes.
func NewTestDBConfig(t *testing.T) *config.Config {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return &config.Config{
		Environment:             "test",
		DBHost:                  host,
		DBPort:                  port.Port(),
		DBUsername:              testDBUser,
		DBPassword:              testDBPassword,
		DBName:                  testDBName,
		DBSSLMode:               "disable",
		AIRequestTimeout:        5 * time.Second,
		WSMaxConnectionsPerUser: 10,
	}
}

// NewTestDB creates a new Postgres test container, runs migrations, and returns a connection pool.
// The container and the pool are automatically cleaned up when the test finishes.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	cfg := NewTestDBConfig(t)

	pool, err := pgxpool.New(ctx, cfg.GetDatabaseURL())
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pool
}
