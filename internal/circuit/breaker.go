// Package circuit implements a per-provider circuit breaker for AI provider calls.
//
// All state lives in the shared key-value store so that every server instance
// sees the same circuit. Nothing is cached in process memory between calls.
//
//	CLOSED    --FailureThreshold consecutive failures-->     OPEN
//	OPEN      --first check after Cooldown-->                HALF_OPEN
//	HALF_OPEN --HalfOpenSuccessThreshold successes-->        CLOSED
//	HALF_OPEN --failures reaching FailureThreshold-->        OPEN
//
// Concurrent updates of the same provider are last-write-wins.
package circuit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailpilot/internal/kv"
	"github.com/vdavid/mailpilot/internal/logger"
	"github.com/vdavid/mailpilot/internal/metrics"
)

const (
	FailureThreshold         = 5
	Cooldown                 = 60 * time.Second
	HalfOpenSuccessThreshold = 2
	// StatusTTL is how long a status record survives without writes.
	StatusTTL = time.Hour

	keyPrefix = "circuit:"
)

// Transition describes a change of circuit state.
type Transition struct {
	Provider string    `json:"provider"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
}

// TransitionListener is called after a state change has been persisted.
type TransitionListener func(ctx context.Context, t Transition)

// Breaker evaluates and records circuit state for any number of providers.
type Breaker struct {
	store     kv.Store
	now       func() time.Time
	log       *logrus.Entry
	metrics   *metrics.Metrics
	listeners []TransitionListener
}

type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

func WithListener(l TransitionListener) Option {
	return func(b *Breaker) { b.listeners = append(b.listeners, l) }
}

func New(store kv.Store, opts ...Option) *Breaker {
	b := &Breaker{
		store: store,
		now:   time.Now,
		log:   logger.New("circuit-breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsOpen reports whether calls to provider should be blocked right now.
// An OPEN circuit whose cooldown has elapsed is moved to HALF_OPEN as a side
// effect and the call is allowed through as a probe.
func (b *Breaker) IsOpen(ctx context.Context, provider string) (bool, error) {
	status, err := b.Status(ctx, provider)
	if err != nil {
		return false, err
	}

	switch status.State {
	case StateOpen:
		now := b.now()
		if !status.LastFailure.IsZero() && now.Sub(status.LastFailure) > Cooldown {
			b.log.WithField("provider", provider).Info("Circuit transitioning to HALF_OPEN")
			if err := b.write(ctx, provider, update{state: ptr(StateHalfOpen), failures: ptr(0)}); err != nil {
				return false, err
			}
			b.transitioned(ctx, provider, StateOpen, StateHalfOpen, now)
			return false, nil
		}
		return true, nil
	default:
		// CLOSED passes, HALF_OPEN lets probes through.
		return false, nil
	}
}

// RecordSuccess resets the failure count, or counts a successful probe while HALF_OPEN.
func (b *Breaker) RecordSuccess(ctx context.Context, provider string) error {
	status, err := b.Status(ctx, provider)
	if err != nil {
		return err
	}
	now := b.now()

	if status.State != StateHalfOpen {
		return b.write(ctx, provider, update{failures: ptr(0), lastSuccess: &now})
	}

	successes := status.Failures + 1
	if successes < HalfOpenSuccessThreshold {
		return b.write(ctx, provider, update{failures: &successes, lastSuccess: &now})
	}

	b.log.WithField("provider", provider).Info("Circuit transitioning to CLOSED")
	if err := b.write(ctx, provider, update{state: ptr(StateClosed), failures: ptr(0), lastSuccess: &now}); err != nil {
		return err
	}
	b.transitioned(ctx, provider, StateHalfOpen, StateClosed, now)
	return nil
}

// RecordFailure counts a failed call. HALF_OPEN failures take the same path as
// CLOSED ones: the counter is incremented and the circuit opens at FailureThreshold.
func (b *Breaker) RecordFailure(ctx context.Context, provider string) error {
	status, err := b.Status(ctx, provider)
	if err != nil {
		return err
	}
	now := b.now()
	failures := status.Failures + 1

	if failures < FailureThreshold {
		return b.write(ctx, provider, update{failures: &failures, lastFailure: &now})
	}

	b.log.WithFields(logrus.Fields{"provider": provider, "failures": failures}).Warn("Circuit transitioning to OPEN")
	if err := b.write(ctx, provider, update{state: ptr(StateOpen), failures: &failures, lastFailure: &now}); err != nil {
		return err
	}
	if status.State != StateOpen {
		b.transitioned(ctx, provider, status.State, StateOpen, now)
	}
	return nil
}

func (b *Breaker) transitioned(ctx context.Context, provider string, from, to State, at time.Time) {
	b.metrics.ObserveTransition(provider, string(from), string(to))
	t := Transition{Provider: provider, From: from, To: to, At: at}
	for _, l := range b.listeners {
		l(ctx, t)
	}
}
