// Package kv is the key-value store abstraction shared by the circuit breaker,
// the rate limiter and the health endpoint.
//
// Three backends implement Store: RedisStore talks to a self-hosted Redis over
// its native protocol, UpstashStore talks to a managed Upstash database over
// its REST API, and NoopStore keeps the product running (without rate limiting
// or circuit breaking) when no store is configured. The backend is chosen once
// at startup by New.
//
// Transport errors are returned to the caller unchanged. Callers decide their
// own failure policy, so a missing key and an unreachable store must stay
// distinguishable.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrTransport marks errors caused by the store being unreachable or failing
// to execute a command. Backends wrap it so callers can use errors.Is.
var ErrTransport = errors.New("kv: store unavailable")

// SetOptions controls Set. A zero EX means no expiry.
type SetOptions struct {
	EX time.Duration
	NX bool // only set if the key does not exist
	XX bool // only set if the key already exists
}

// ScanOptions controls Scan. Empty Match means every key; zero Count lets the backend decide.
type ScanOptions struct {
	Match string
	Count int64
}

// Store is implemented by every backend. Values are serialized as JSON unless
// they are already strings.
type Store interface {
	// Get decodes the value at key into dest. found is false when the key is absent.
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	// Set stores value at key. ok is false when an NX/XX condition was not met.
	Set(ctx context.Context, key string, value any, opts SetOptions) (ok bool, err error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// Unlink removes keys without blocking the server where supported, else behaves like Del.
	Unlink(ctx context.Context, keys ...string) (int64, error)

	HGet(ctx context.Context, key, field string, dest any) (found bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, values map[string]any) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	// HIncrBy atomically increments a hash field. Concurrent callers never lose updates.
	HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error)
	HIncrByFloat(ctx context.Context, key, field string, increment float64) (float64, error)

	Publish(ctx context.Context, channel, message string) (int64, error)
	Scan(ctx context.Context, cursor uint64, opts ScanOptions) (next uint64, keys []string, err error)
	// Expire sets a TTL on key. It returns false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
