package circuit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailpilot/internal/metrics"
)

var errProvider = errors.New("provider returned 500")

type countingOp struct {
	calls  int
	result string
	err    error
}

func (o *countingOp) run(context.Context) (string, error) {
	o.calls++
	return o.result, o.err
}

func TestExecute_ReturnsResultAndRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBreaker(t)

	recordFailures(t, b, "openai", 2)

	op := &countingOp{result: "hello"}
	got, err := Execute(ctx, b, "openai", op.run)

	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, op.calls)
	assert.Zero(t, mustStatus(t, b, "openai").Failures)
}

func TestExecute_PropagatesErrorAndRecordsFailure(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBreaker(t)

	op := &countingOp{err: errProvider}
	_, err := Execute(ctx, b, "openai", op.run)

	assert.Same(t, errProvider, err)
	assert.Equal(t, 1, mustStatus(t, b, "openai").Failures)
}

func TestExecute_OpenCircuitRejectsWithoutCallingProvider(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b, _, _ := newTestBreaker(t, WithMetrics(m))

	failing := &countingOp{err: errProvider}
	for i := 0; i < FailureThreshold; i++ {
		_, err := Execute(ctx, b, "openai", failing.run)
		require.ErrorIs(t, err, errProvider)
	}
	assert.Equal(t, FailureThreshold, failing.calls)

	health, err := b.ProviderHealth(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, Health{Status: HealthDown, Failures: 5}, health)

	op := &countingOp{result: "never"}
	got, err := Execute(ctx, b, "openai", op.run)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "AI provider openai is temporarily unavailable", err.Error())
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "openai", unavailable.Provider)
	assert.Empty(t, got)
	assert.Zero(t, op.calls)

	expected := `
# HELP mailpilot_circuit_rejections_total Calls rejected without reaching the AI provider because its circuit was open.
# TYPE mailpilot_circuit_rejections_total counter
mailpilot_circuit_rejections_total{provider="openai"} 1
# HELP mailpilot_circuit_transitions_total Circuit breaker state changes per AI provider.
# TYPE mailpilot_circuit_transitions_total counter
mailpilot_circuit_transitions_total{from="CLOSED",provider="openai",to="OPEN"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mailpilot_circuit_rejections_total", "mailpilot_circuit_transitions_total"))
}

func TestExecute_ProbesAfterCooldown(t *testing.T) {
	ctx := context.Background()
	b, _, clock := newTestBreaker(t)

	recordFailures(t, b, "anthropic", FailureThreshold)
	clock.Advance(Cooldown + time.Second)

	probe := &countingOp{result: "ok"}
	for i := 0; i < HalfOpenSuccessThreshold; i++ {
		_, err := Execute(ctx, b, "anthropic", probe.run)
		require.NoError(t, err)
	}

	assert.Equal(t, HalfOpenSuccessThreshold, probe.calls)
	health, err := b.ProviderHealth(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, Health{Status: HealthOK}, health)
}

func TestExecute_StoreFailureDoesNotBlockCalls(t *testing.T) {
	ctx := context.Background()
	b, mr, _ := newTestBreaker(t)
	mr.SetError("ERR store unavailable")

	op := &countingOp{result: "still works"}
	got, err := Execute(ctx, b, "openai", op.run)
	require.NoError(t, err)
	assert.Equal(t, "still works", got)

	failing := &countingOp{err: errProvider}
	_, err = Execute(ctx, b, "openai", failing.run)
	assert.Same(t, errProvider, err, "bookkeeping errors must not replace the operation's error")
}

func TestExecute_RecordsAfterCallerCancels(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	ctx, cancel := context.WithCancel(context.Background())

	op := func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	}
	_, err := Execute(ctx, b, "groq", op)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mustStatus(t, b, "groq").Failures)
}

func TestProviderHealth(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, b *Breaker)
		want  Health
	}{
		{
			name:  "no record",
			setup: func(*testing.T, *Breaker) {},
			want:  Health{Status: HealthOK},
		},
		{
			name:  "closed with failures",
			setup: func(t *testing.T, b *Breaker) { recordFailures(t, b, "p", 3) },
			want:  Health{Status: HealthDegraded, Failures: 3},
		},
		{
			name:  "open",
			setup: func(t *testing.T, b *Breaker) { recordFailures(t, b, "p", FailureThreshold) },
			want:  Health{Status: HealthDown, Failures: FailureThreshold},
		},
		{
			name: "half open",
			setup: func(t *testing.T, b *Breaker) {
				require.NoError(t, b.write(ctx, "p", update{state: ptr(StateHalfOpen), failures: ptr(0)}))
			},
			want: Health{Status: HealthDegraded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newTestBreaker(t)
			tt.setup(t, b)

			got, err := b.ProviderHealth(ctx, "p")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
