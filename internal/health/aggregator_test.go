package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailpilot/internal/circuit"
	"github.com/vdavid/mailpilot/internal/kv"
	"github.com/vdavid/mailpilot/internal/metrics"
	"github.com/vdavid/mailpilot/internal/provider"
	"github.com/vdavid/mailpilot/internal/testutil"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type harness struct {
	aggregator *Aggregator
	breaker    *circuit.Breaker
	mr         *miniredis.Miniredis
	clock      *testutil.Clock
}

func newHarness(t *testing.T, configured ...string) *harness {
	t.Helper()
	store, mr := testutil.NewMemoryStore(t)
	clock := testutil.NewClock(testStart)

	keys := make(map[string]string, len(configured))
	for _, name := range configured {
		keys[name] = "key-" + name
	}

	breaker := circuit.New(store, circuit.WithClock(clock.Now))
	aggregator := NewAggregator(store, breaker, provider.NewRegistryFromKeys(keys), WithClock(clock.Now))
	return &harness{aggregator: aggregator, breaker: breaker, mr: mr, clock: clock}
}

func (h *harness) fail(t *testing.T, providerName string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.breaker.RecordFailure(context.Background(), providerName))
	}
}

type mockCircuits struct {
	mock.Mock
}

func (m *mockCircuits) ProviderHealth(ctx context.Context, providerName string) (circuit.Health, error) {
	args := m.Called(ctx, providerName)
	return args.Get(0).(circuit.Health), args.Error(1)
}

func TestCheck_AllConfiguredDownIsUnhealthy(t *testing.T) {
	h := newHarness(t, provider.OpenAI)
	h.fail(t, provider.OpenAI, circuit.FailureThreshold)

	resp, code := h.aggregator.Check(context.Background())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, map[string]ProviderReport{
		"openai":     {Status: ProviderDown, Failures: 5},
		"anthropic":  {Status: ProviderNotConfigured},
		"google":     {Status: ProviderNotConfigured},
		"groq":       {Status: ProviderNotConfigured},
		"openrouter": {Status: ProviderNotConfigured},
	}, resp.Providers)
	assert.Equal(t, StoreReport{Status: StoreOK}, resp.Redis)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", resp.Timestamp)
}

func TestCheck_OneDownAmongHealthyIsDegraded(t *testing.T) {
	h := newHarness(t, provider.OpenAI, provider.Groq, provider.Anthropic)
	h.fail(t, provider.OpenAI, circuit.FailureThreshold)

	resp, code := h.aggregator.Check(context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, ProviderReport{Status: ProviderDown, Failures: 5}, resp.Providers["openai"])
	assert.Equal(t, ProviderReport{Status: ProviderOK}, resp.Providers["groq"])
}

func TestCheck_HealthyOmitsZeroFailures(t *testing.T) {
	h := newHarness(t, provider.Google)

	resp, code := h.aggregator.Check(context.Background())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, map[string]any{"status": "ok"}, doc["providers"].(map[string]any)["google"])
	assert.Equal(t, map[string]any{"status": "ok"}, doc["redis"])
}

func TestCheck_DegradedProviderWithFailures(t *testing.T) {
	h := newHarness(t, provider.Google)
	h.fail(t, provider.Google, 2)

	resp, code := h.aggregator.Check(context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, ProviderReport{Status: ProviderDegraded, Failures: 2}, resp.Providers["google"])
}

func TestCheck_NoConfiguredProvidersIsUnhealthy(t *testing.T) {
	h := newHarness(t)

	resp, code := h.aggregator.Check(context.Background())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Providers, 5)
}

func TestCheck_ServesCachedReportWithinTTL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, provider.OpenAI)

	first, code := h.aggregator.Check(ctx)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, first.Status)
	assert.Equal(t, CacheTTL, h.mr.TTL(CacheKey))
	assert.Equal(t, PingTTL, h.mr.TTL(PingKey))

	h.fail(t, provider.OpenAI, circuit.FailureThreshold)
	h.clock.Advance(10 * time.Second)

	cached, code := h.aggregator.Check(ctx)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, first, cached, "state changes inside the cache window are not visible")

	h.mr.FastForward(CacheTTL + time.Second)

	fresh, code := h.aggregator.Check(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, fresh.Status)
	assert.NotEqual(t, first.Timestamp, fresh.Timestamp)
}

func TestCheck_CachedUnhealthyReportKeepsStatusCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, provider.OpenAI)
	h.fail(t, provider.OpenAI, circuit.FailureThreshold)

	_, code := h.aggregator.Check(ctx)
	require.Equal(t, http.StatusServiceUnavailable, code)

	_, code = h.aggregator.Check(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCheck_UnreachableStoreDegradesHealthyResult(t *testing.T) {
	circuits := &mockCircuits{}
	circuits.On("ProviderHealth", mock.Anything, "openai").Return(circuit.Health{Status: circuit.HealthOK}, nil)

	registry := provider.NewRegistryFromKeys(map[string]string{provider.OpenAI: "sk"})
	aggregator := NewAggregator(kv.NewNoopStore(), circuits, registry)

	resp, code := aggregator.Check(context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StoreReport{Status: StoreDown}, resp.Redis)
	circuits.AssertExpectations(t)
}

func TestCheck_UnreachableStoreNeverImprovesUnhealthy(t *testing.T) {
	circuits := &mockCircuits{}
	circuits.On("ProviderHealth", mock.Anything, "groq").Return(circuit.Health{Status: circuit.HealthDown, Failures: 7}, nil)

	registry := provider.NewRegistryFromKeys(map[string]string{provider.Groq: "gsk"})
	aggregator := NewAggregator(kv.NewNoopStore(), circuits, registry)

	resp, code := aggregator.Check(context.Background())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestCheck_CircuitReadErrorReportsProviderDegraded(t *testing.T) {
	circuits := &mockCircuits{}
	circuits.On("ProviderHealth", mock.Anything, "openai").Return(circuit.Health{}, errors.New("store timeout"))
	circuits.On("ProviderHealth", mock.Anything, "anthropic").Return(circuit.Health{Status: circuit.HealthOK}, nil)

	store, _ := testutil.NewMemoryStore(t)
	registry := provider.NewRegistryFromKeys(map[string]string{provider.OpenAI: "sk", provider.Anthropic: "ant"})
	aggregator := NewAggregator(store, circuits, registry)

	resp, code := aggregator.Check(context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, ProviderReport{Status: ProviderDegraded}, resp.Providers["openai"])
	assert.Equal(t, ProviderReport{Status: ProviderOK}, resp.Providers["anthropic"])
}

func TestCheck_StoreErrorsDoNotFailTheCheck(t *testing.T) {
	h := newHarness(t, provider.OpenAI)
	h.mr.SetError("ERR connection reset")

	resp, code := h.aggregator.Check(context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StoreReport{Status: StoreDown}, resp.Redis)
	assert.Equal(t, ProviderDegraded, resp.Providers["openai"].Status)
}

func TestCheck_SetsHealthGauge(t *testing.T) {
	store, _ := testutil.NewMemoryStore(t)
	reg := prometheus.NewRegistry()
	registry := provider.NewRegistryFromKeys(map[string]string{provider.OpenAI: "sk"})
	aggregator := NewAggregator(store, circuit.New(store), registry, WithMetrics(metrics.New(reg)))

	_, code := aggregator.Check(context.Background())
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 3, promtestutil.CollectAndCount(reg, "mailpilot_health_status"))
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		providers map[string]ProviderReport
		store     StoreStatus
		want      Status
	}{
		{
			name:      "all ok",
			providers: map[string]ProviderReport{"a": {Status: ProviderOK}, "b": {Status: ProviderOK}},
			store:     StoreOK,
			want:      StatusHealthy,
		},
		{
			name:      "all down",
			providers: map[string]ProviderReport{"a": {Status: ProviderDown}, "b": {Status: ProviderDown}},
			store:     StoreOK,
			want:      StatusUnhealthy,
		},
		{
			name:      "one degraded",
			providers: map[string]ProviderReport{"a": {Status: ProviderOK}, "b": {Status: ProviderDegraded}},
			store:     StoreOK,
			want:      StatusDegraded,
		},
		{
			name:      "not configured is ignored",
			providers: map[string]ProviderReport{"a": {Status: ProviderDown}, "b": {Status: ProviderNotConfigured}},
			store:     StoreOK,
			want:      StatusUnhealthy,
		},
		{
			name:      "store down degrades healthy",
			providers: map[string]ProviderReport{"a": {Status: ProviderOK}},
			store:     StoreDown,
			want:      StatusDegraded,
		},
		{
			name:      "nothing configured",
			providers: map[string]ProviderReport{"a": {Status: ProviderNotConfigured}},
			store:     StoreOK,
			want:      StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregate(tt.providers, tt.store))
		})
	}
}
