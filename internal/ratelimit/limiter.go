// Package ratelimit enforces a per-user sliding-window limit on AI requests.
//
// Each user has one hash in the shared store whose fields are unix seconds and
// whose values are the number of requests made in that second. A check sums the
// buckets inside the window, prunes the rest and either denies or counts the
// request. The limiter fails open: if the store misbehaves, requests are allowed.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailpilot/internal/kv"
	"github.com/vdavid/mailpilot/internal/logger"
	"github.com/vdavid/mailpilot/internal/metrics"
)

const (
	// AILimit is the number of AI requests a user may make per window.
	AILimit = 30
	// WindowSize is the length of the sliding window.
	WindowSize = 60 * time.Second

	windowSeconds = int64(WindowSize / time.Second)
	keyTTL        = 2 * WindowSize
	keyPrefix     = "ratelimit:ai:"
)

// Result is the outcome of a single check. ResetIn is in seconds.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   int
}

var failOpen = Result{Allowed: true, Remaining: AILimit, ResetIn: int(windowSeconds)}

type Limiter struct {
	store   kv.Store
	now     func() time.Time
	log     *logrus.Entry
	metrics *metrics.Metrics
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(store kv.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
		log:   logger.New("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key holding the buckets of userID.
func Key(userID string) string {
	return keyPrefix + userID
}

// CheckAI decides whether userID may make another AI request and, if so, counts it.
// It never returns an error: store failures are logged and the request is allowed.
func (l *Limiter) CheckAI(ctx context.Context, userID string) Result {
	result, err := l.check(ctx, userID)
	if err != nil {
		l.log.WithError(err).WithField("userId", userID).Error("Rate limit check failed, allowing request")
		l.metrics.ObserveRateLimit(metrics.DecisionFailOpen)
		return failOpen
	}

	if result.Allowed {
		l.metrics.ObserveRateLimit(metrics.DecisionAllowed)
	} else {
		l.metrics.ObserveRateLimit(metrics.DecisionDenied)
	}
	return result
}

func (l *Limiter) check(ctx context.Context, userID string) (Result, error) {
	now := l.now().Unix()
	windowStart := now - windowSeconds
	key := Key(userID)
	bucket := strconv.FormatInt(now, 10)

	data, err := l.store.HGetAll(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read buckets: %w", err)
	}

	count, oldest, stale := sumWindow(data, windowStart)

	if len(stale) > 0 {
		if _, err := l.store.HDel(ctx, key, stale...); err != nil {
			return Result{}, fmt.Errorf("failed to prune buckets: %w", err)
		}
	}

	if count >= AILimit {
		resetIn := max(1, oldest+windowSeconds-now)
		l.log.WithFields(logrus.Fields{"userId": userID, "count": count}).Warn("Rate limit exceeded")
		return Result{Allowed: false, Remaining: 0, ResetIn: int(resetIn)}, nil
	}

	if _, err := l.store.HIncrBy(ctx, key, bucket, 1); err != nil {
		return Result{}, fmt.Errorf("failed to count request: %w", err)
	}
	if _, err := l.store.Expire(ctx, key, keyTTL); err != nil {
		return Result{}, fmt.Errorf("failed to set window TTL: %w", err)
	}

	return Result{Allowed: true, Remaining: AILimit - int(count) - 1, ResetIn: int(windowSeconds)}, nil
}

// sumWindow adds up the buckets newer than windowStart and returns the oldest
// of them. Buckets outside the window and malformed fields are returned as stale.
func sumWindow(data map[string]string, windowStart int64) (count, oldest int64, stale []string) {
	for field, value := range data {
		ts, err := strconv.ParseInt(field, 10, 64)
		if err != nil || ts <= windowStart {
			stale = append(stale, field)
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			stale = append(stale, field)
			continue
		}
		count += n
		if oldest == 0 || ts < oldest {
			oldest = ts
		}
	}
	return count, oldest, stale
}
