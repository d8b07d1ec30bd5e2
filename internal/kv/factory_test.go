package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailpilot/internal/config"
)

func TestNew_SelectsBackend(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "upstash credentials win over REDIS_URL",
			cfg: config.Config{
				UpstashRedisURL:   "https://example.upstash.io",
				UpstashRedisToken: "token",
				RedisURL:          "redis://localhost:6379",
			},
			want: BackendUpstash,
		},
		{
			name: "upstash URL without token falls through to local redis",
			cfg: config.Config{
				UpstashRedisURL: "https://example.upstash.io",
				RedisURL:        "redis://localhost:6379",
			},
			want: BackendRedis,
		},
		{
			name: "nothing configured uses noop",
			cfg:  config.Config{},
			want: BackendNoop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.Equal(t, tt.want, BackendName(&cfg))

			store, err := New(&cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			switch tt.want {
			case BackendUpstash:
				assert.IsType(t, &UpstashStore{}, store)
			case BackendRedis:
				assert.IsType(t, &RedisStore{}, store)
			case BackendNoop:
				assert.IsType(t, &NoopStore{}, store)
			}
		})
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	_, err := New(&config.Config{RedisURL: "mysql://nope"})
	assert.Error(t, err)
}

func TestNoopStore_ReturnsDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewNoopStore()

	var value string
	found, err := store.Get(ctx, "k", &value)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := store.Set(ctx, "k", "v", SetOptions{})
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.HGetAll(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)

	n, err := store.HIncrBy(ctx, "k", "f", 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	next, keys, err := store.Scan(ctx, 0, ScanOptions{})
	require.NoError(t, err)
	assert.Zero(t, next)
	assert.Empty(t, keys)

	assert.NoError(t, store.Ping(ctx))
}
