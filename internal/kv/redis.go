package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisBackend = "redis"

	redisReadTimeout  = 5 * time.Second
	redisWriteTimeout = 5 * time.Second
)

// RedisStore is the "local" backend: a direct connection to a self-hosted Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance at url (redis:// or rediss://).
// The connection is lazy; call Ping to check reachability.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = redisReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = redisWriteTimeout
	}

	return NewRedisStoreFromClient(redis.NewClient(opts)), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, opError(redisBackend, "GET", err)
	}
	return true, deserialize(raw, dest)
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, opts SetOptions) (bool, error) {
	if opts.NX && opts.XX {
		return false, errConflictingConditions
	}

	encoded, err := serialize(value)
	if err != nil {
		return false, err
	}

	args := redis.SetArgs{TTL: opts.EX}
	switch {
	case opts.NX:
		args.Mode = "NX"
	case opts.XX:
		args.Mode = "XX"
	}

	_, err = s.client.SetArgs(ctx, key, encoded, args).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, opError(redisBackend, "SET", err)
	}
	return true, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, opError(redisBackend, "DEL", err)
}

func (s *RedisStore) Unlink(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Unlink(ctx, keys...).Result()
	if err != nil && isUnknownCommand(err) {
		return s.Del(ctx, keys...)
	}
	return n, opError(redisBackend, "UNLINK", err)
}

func (s *RedisStore) HGet(ctx context.Context, key, field string, dest any) (bool, error) {
	raw, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, opError(redisBackend, "HGET", err)
	}
	return true, deserialize(raw, dest)
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, opError(redisBackend, "HGETALL", err)
	}
	return values, nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	args, err := serializeFields(values)
	if err != nil {
		return 0, err
	}
	n, err := s.client.HSet(ctx, key, args...).Result()
	return n, opError(redisBackend, "HSET", err)
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, opError(redisBackend, "HDEL", err)
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, increment).Result()
	return n, opError(redisBackend, "HINCRBY", err)
}

func (s *RedisStore) HIncrByFloat(ctx context.Context, key, field string, increment float64) (float64, error) {
	f, err := s.client.HIncrByFloat(ctx, key, field, increment).Result()
	return f, opError(redisBackend, "HINCRBYFLOAT", err)
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) (int64, error) {
	n, err := s.client.Publish(ctx, channel, message).Result()
	return n, opError(redisBackend, "PUBLISH", err)
}

func (s *RedisStore) Scan(ctx context.Context, cursor uint64, opts ScanOptions) (uint64, []string, error) {
	keys, next, err := s.client.Scan(ctx, cursor, opts.Match, opts.Count).Result()
	if err != nil {
		return 0, nil, opError(redisBackend, "SCAN", err)
	}
	return next, keys, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	return ok, opError(redisBackend, "EXPIRE", err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return opError(redisBackend, "PING", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func isUnknownCommand(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unknown command")
}

var _ Store = (*RedisStore)(nil)
