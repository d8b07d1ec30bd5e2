package kv

import (
	"context"
	"time"
)

// NoopStore stores nothing and never fails. Reads miss, writes report zero changes.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) Get(context.Context, string, any) (bool, error) { return false, nil }

func (NoopStore) Set(context.Context, string, any, SetOptions) (bool, error) { return false, nil }

func (NoopStore) Del(context.Context, ...string) (int64, error) { return 0, nil }

func (NoopStore) Unlink(context.Context, ...string) (int64, error) { return 0, nil }

func (NoopStore) HGet(context.Context, string, string, any) (bool, error) { return false, nil }

func (NoopStore) HGetAll(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (NoopStore) HSet(context.Context, string, map[string]any) (int64, error) { return 0, nil }

func (NoopStore) HDel(context.Context, string, ...string) (int64, error) { return 0, nil }

func (NoopStore) HIncrBy(context.Context, string, string, int64) (int64, error) { return 0, nil }

func (NoopStore) HIncrByFloat(context.Context, string, string, float64) (float64, error) {
	return 0, nil
}

func (NoopStore) Publish(context.Context, string, string) (int64, error) { return 0, nil }

func (NoopStore) Scan(context.Context, uint64, ScanOptions) (uint64, []string, error) {
	return 0, []string{}, nil
}

func (NoopStore) Expire(context.Context, string, time.Duration) (bool, error) { return false, nil }

func (NoopStore) Ping(context.Context) error { return nil }

func (NoopStore) Close() error { return nil }

var _ Store = NoopStore{}
