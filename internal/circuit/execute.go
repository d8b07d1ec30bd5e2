package circuit

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is matched by every rejection caused by an open circuit.
var ErrCircuitOpen = errors.New("circuit open")

// UnavailableError is returned by Execute when the provider's circuit is open.
type UnavailableError struct {
	Provider string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("AI provider %s is temporarily unavailable", e.Provider)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Execute runs op unless the circuit of provider is open, and records the outcome.
//
// When the circuit is open op is not invoked and the error is an
// *UnavailableError. Otherwise op's result and error are returned unchanged.
// Store failures during bookkeeping are logged and never replace op's outcome;
// if the circuit state cannot be read at all, the call is allowed.
func Execute[T any](ctx context.Context, b *Breaker, provider string, op func(context.Context) (T, error)) (T, error) {
	log := b.log.WithField("provider", provider)

	open, err := b.IsOpen(ctx, provider)
	if err != nil {
		log.WithError(err).Error("Failed to check circuit, allowing request")
	} else if open {
		log.Warn("Circuit is open, rejecting request")
		b.metrics.ObserveRejection(provider)
		var zero T
		return zero, &UnavailableError{Provider: provider}
	}

	result, opErr := op(ctx)

	// Bookkeeping must outlive a caller that has already given up on the request.
	recordCtx := context.WithoutCancel(ctx)
	if opErr != nil {
		if err := b.RecordFailure(recordCtx, provider); err != nil {
			log.WithFields(logrus.Fields{"error": err, "cause": opErr}).Error("Failed to record circuit failure")
		}
		return result, opErr
	}

	if err := b.RecordSuccess(recordCtx, provider); err != nil {
		log.WithError(err).Error("Failed to record circuit success")
	}
	return result, nil
}

type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Health summarizes a provider's circuit for reporting. It never gates calls.
type Health struct {
	Status   HealthStatus `json:"status"`
	Failures int          `json:"failures"`
}

// ProviderHealth maps the circuit state to ok, degraded or down.
func (b *Breaker) ProviderHealth(ctx context.Context, provider string) (Health, error) {
	status, err := b.Status(ctx, provider)
	if err != nil {
		return Health{}, err
	}

	switch {
	case status.State == StateOpen:
		return Health{Status: HealthDown, Failures: status.Failures}, nil
	case status.State == StateHalfOpen:
		return Health{Status: HealthDegraded, Failures: status.Failures}, nil
	case status.Failures > 0:
		return Health{Status: HealthDegraded, Failures: status.Failures}, nil
	default:
		return Health{Status: HealthOK}, nil
	}
}
