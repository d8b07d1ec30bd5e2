// Package metrics holds the Prometheus collectors for the AI reliability layer.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailpilot"

// Rate limit decision labels.
const (
	DecisionAllowed  = "allowed"
	DecisionDenied   = "denied"
	DecisionFailOpen = "fail_open"
)

var healthStatuses = []string{"healthy", "degraded", "unhealthy"}

type Metrics struct {
	circuitTransitions *prometheus.CounterVec
	circuitRejections  *prometheus.CounterVec
	rateLimitDecisions *prometheus.CounterVec
	healthStatus       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state changes per AI provider.",
		}, []string{"provider", "from", "to"}),
		circuitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_rejections_total",
			Help:      "Calls rejected without reaching the AI provider because its circuit was open.",
		}, []string{"provider"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_ratelimit_decisions_total",
			Help:      "AI rate limit checks by outcome.",
		}, []string{"result"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "1 for the most recently computed overall AI health status, 0 for the others.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.circuitTransitions, m.circuitRejections, m.rateLimitDecisions, m.healthStatus)
	return m
}

func (m *Metrics) ObserveTransition(provider, from, to string) {
	if m == nil {
		return
	}
	m.circuitTransitions.WithLabelValues(provider, from, to).Inc()
}

func (m *Metrics) ObserveRejection(provider string) {
	if m == nil {
		return
	}
	m.circuitRejections.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveRateLimit(decision string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) SetHealthStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range healthStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.healthStatus.WithLabelValues(s).Set(value)
	}
}

// RegisterConnections exposes the number of open WebSocket connections as reported by count.
func RegisterConnections(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Open WebSocket connections across all users.",
	}, func() float64 { return float64(count()) }))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
