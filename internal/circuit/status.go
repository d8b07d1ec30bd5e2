package circuit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Hash field names of the persisted status record.
const (
	fieldState       = "state"
	fieldFailures    = "failures"
	fieldLastFailure = "lastFailure"
	fieldLastSuccess = "lastSuccess"
)

// Status is the persisted state of one provider's circuit.
//
// Failures counts consecutive failures while CLOSED or OPEN. While HALF_OPEN
// the same field counts consecutive successful probes.
// LastFailure and LastSuccess are zero when never recorded.
type Status struct {
	State       State
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
}

// Key returns the store key holding the status of provider.
func Key(provider string) string {
	return keyPrefix + provider
}

// Status reads the current status of provider. A missing record is a fresh CLOSED circuit.
func (b *Breaker) Status(ctx context.Context, provider string) (Status, error) {
	data, err := b.store.HGetAll(ctx, Key(provider))
	if err != nil {
		return Status{}, fmt.Errorf("failed to read circuit status for %s: %w", provider, err)
	}
	return parseStatus(data), nil
}

func parseStatus(data map[string]string) Status {
	status := Status{State: StateClosed}
	if len(data) == 0 {
		return status
	}

	switch State(data[fieldState]) {
	case StateOpen:
		status.State = StateOpen
	case StateHalfOpen:
		status.State = StateHalfOpen
	}

	if n, err := strconv.Atoi(data[fieldFailures]); err == nil && n > 0 {
		status.Failures = n
	}
	status.LastFailure = parseMillis(data[fieldLastFailure])
	status.LastSuccess = parseMillis(data[fieldLastSuccess])

	return status
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// update is a partial status write. Nil fields are left untouched.
type update struct {
	state       *State
	failures    *int
	lastFailure *time.Time
	lastSuccess *time.Time
}

func (u update) fields() map[string]any {
	fields := make(map[string]any, 4)
	if u.state != nil {
		fields[fieldState] = string(*u.state)
	}
	if u.failures != nil {
		fields[fieldFailures] = strconv.Itoa(*u.failures)
	}
	if u.lastFailure != nil {
		fields[fieldLastFailure] = formatMillis(*u.lastFailure)
	}
	if u.lastSuccess != nil {
		fields[fieldLastSuccess] = formatMillis(*u.lastSuccess)
	}
	return fields
}

// write applies u and refreshes the record's retention window.
func (b *Breaker) write(ctx context.Context, provider string, u update) error {
	key := Key(provider)
	if _, err := b.store.HSet(ctx, key, u.fields()); err != nil {
		return fmt.Errorf("failed to write circuit status for %s: %w", provider, err)
	}
	if _, err := b.store.Expire(ctx, key, StatusTTL); err != nil {
		return fmt.Errorf("failed to refresh circuit status TTL for %s: %w", provider, err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
