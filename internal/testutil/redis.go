package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailpilot/internal/kv"
)

// NewMemoryStore starts an in-memory Redis server and returns a store connected to it.
// Use the returned server to inspect keys, fast-forward TTLs or inject errors with SetError.
// Both are cleaned up when the test finishes.
func NewMemoryStore(t *testing.T) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, mr
}

// NewTestRedis starts a real Redis container and returns a store connected to it.
// The container is automatically cleaned up when the test finishes.
func NewTestRedis(t *testing.T) *kv.RedisStore {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	store, err := kv.NewRedisStore(connStr)
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	return store
}
