// Package health aggregates circuit state of the configured AI providers and
// the reachability of the key-value store into one report.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailpilot/internal/circuit"
	"github.com/vdavid/mailpilot/internal/kv"
	"github.com/vdavid/mailpilot/internal/logger"
	"github.com/vdavid/mailpilot/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	CacheKey = "health:ai:cache"
	CacheTTL = 30 * time.Second
	PingKey  = "health:ping"
	PingTTL  = 60 * time.Second

	pingValue       = "pong"
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ProviderStatus string

const (
	ProviderOK            ProviderStatus = "ok"
	ProviderDegraded      ProviderStatus = "degraded"
	ProviderDown          ProviderStatus = "down"
	ProviderNotConfigured ProviderStatus = "not_configured"
)

type StoreStatus string

const (
	StoreOK   StoreStatus = "ok"
	StoreDown StoreStatus = "down"
)

type ProviderReport struct {
	Status   ProviderStatus `json:"status"`
	Failures int            `json:"failures,omitempty"`
}

type StoreReport struct {
	Status StoreStatus `json:"status"`
}

// Response is the document served by the AI health endpoint.
type Response struct {
	Status    Status                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Providers map[string]ProviderReport `json:"providers"`
	Redis     StoreReport               `json:"redis"`
}

// HTTPStatus is 503 for an unhealthy report and 200 otherwise.
func (r *Response) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Providers lists every supported provider and the ones that have credentials.
type Providers interface {
	Known() []string
	Configured() []string
}

// Circuits reports the health of one provider's circuit.
type Circuits interface {
	ProviderHealth(ctx context.Context, provider string) (circuit.Health, error)
}

type Aggregator struct {
	store     kv.Store
	circuits  Circuits
	providers Providers
	now       func() time.Time
	log       *logrus.Entry
	metrics   *metrics.Metrics
}

type Option func(*Aggregator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(store kv.Store, circuits Circuits, providers Providers, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     store,
		circuits:  circuits,
		providers: providers,
		now:       time.Now,
		log:       logger.New("health"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check returns the current report and the HTTP status to serve it with.
// A report cached within CacheTTL is returned unchanged.
func (a *Aggregator) Check(ctx context.Context) (*Response, int) {
	var cached Response
	found, err := a.store.Get(ctx, CacheKey, &cached)
	if err != nil {
		a.log.WithError(err).Debug("Failed to read cached health report")
	} else if found {
		return &cached, cached.HTTPStatus()
	}

	providers := a.ProviderReports(ctx)
	for _, name := range a.providers.Known() {
		if _, ok := providers[name]; !ok {
			providers[name] = ProviderReport{Status: ProviderNotConfigured}
		}
	}

	storeStatus := a.pingStore(ctx)

	resp := &Response{
		Status:    aggregate(providers, storeStatus),
		Timestamp: a.now().UTC().Format(timestampLayout),
		Providers: providers,
		Redis:     StoreReport{Status: storeStatus},
	}
	a.metrics.SetHealthStatus(string(resp.Status))

	if _, err := a.store.Set(ctx, CacheKey, resp, kv.SetOptions{EX: CacheTTL}); err != nil {
		a.log.WithError(err).Debug("Failed to cache health report")
	}

	return resp, resp.HTTPStatus()
}

// ProviderReports returns the circuit health of every configured provider.
// A provider whose circuit cannot be read is reported as degraded: its state
// is unknown and calls to it fail open.
func (a *Aggregator) ProviderReports(ctx context.Context) map[string]ProviderReport {
	configured := a.providers.Configured()
	reports := make(map[string]ProviderReport, len(configured))

	var mu sync.Mutex
	var g errgroup.Group
	for _, name := range configured {
		g.Go(func() error {
			report := ProviderReport{Status: ProviderDegraded}
			h, err := a.circuits.ProviderHealth(ctx, name)
			if err != nil {
				a.log.WithError(err).WithField("provider", name).Error("Failed to read provider health, reporting degraded")
			} else {
				report = ProviderReport{Status: ProviderStatus(h.Status), Failures: h.Failures}
			}

			mu.Lock()
			reports[name] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func (a *Aggregator) pingStore(ctx context.Context) StoreStatus {
	if _, err := a.store.Set(ctx, PingKey, pingValue, kv.SetOptions{EX: PingTTL}); err != nil {
		a.log.WithError(err).Warn("Store liveness write failed")
		return StoreDown
	}

	var got string
	found, err := a.store.Get(ctx, PingKey, &got)
	if err != nil {
		a.log.WithError(err).Warn("Store liveness read failed")
		return StoreDown
	}
	if !found || got != pingValue {
		return StoreDown
	}
	return StoreOK
}

// aggregate derives the overall status from configured providers only.
// With no configured providers every provider is vacuously down, so the result is unhealthy.
func aggregate(providers map[string]ProviderReport, store StoreStatus) Status {
	allDown := true
	anyImpaired := false
	for _, p := range providers {
		switch p.Status {
		case ProviderNotConfigured:
			continue
		case ProviderDown:
			anyImpaired = true
		case ProviderDegraded:
			anyImpaired = true
			allDown = false
		default:
			allDown = false
		}
	}

	status := StatusHealthy
	switch {
	case allDown:
		status = StatusUnhealthy
	case anyImpaired:
		status = StatusDegraded
	}

	if store == StoreDown && status == StatusHealthy {
		status = StatusDegraded
	}
	return status
}
