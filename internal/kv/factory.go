package kv

import (
	"github.com/vdavid/mailpilot/internal/config"
	"github.com/vdavid/mailpilot/internal/logger"
)

// Backend names, as reported by BackendName.
const (
	BackendUpstash = "upstash"
	BackendRedis   = "redis"
	BackendNoop    = "noop"
)

// New picks the store backend from configuration: Upstash when both of its
// credentials are set, else Redis when REDIS_URL is set, else the no-op store.
// It is meant to be called once at startup.
func New(cfg *config.Config) (Store, error) {
	log := logger.New("kv")

	switch BackendName(cfg) {
	case BackendUpstash:
		log.Info("Using Upstash Redis")
		return NewUpstashStore(cfg.UpstashRedisURL, cfg.UpstashRedisToken, nil), nil
	case BackendRedis:
		log.Info("Using local Redis")
		store, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		log.Warn("Redis not configured; falling back to noop client. Rate limiting and circuit breaking are disabled")
		return NewNoopStore(), nil
	}
}

// BackendName reports which backend New would choose for cfg.
func BackendName(cfg *config.Config) string {
	switch {
	case cfg.HasUpstash():
		return BackendUpstash
	case cfg.RedisURL != "":
		return BackendRedis
	default:
		return BackendNoop
	}
}
