package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vdavid/mailpilot/internal/api"
	"github.com/vdavid/mailpilot/internal/auth"
	"github.com/vdavid/mailpilot/internal/circuit"
	"github.com/vdavid/mailpilot/internal/config"
	"github.com/vdavid/mailpilot/internal/db"
	"github.com/vdavid/mailpilot/internal/health"
	"github.com/vdavid/mailpilot/internal/kv"
	"github.com/vdavid/mailpilot/internal/llm"
	"github.com/vdavid/mailpilot/internal/logger"
	"github.com/vdavid/mailpilot/internal/metrics"
	"github.com/vdavid/mailpilot/internal/models"
	"github.com/vdavid/mailpilot/internal/provider"
	"github.com/vdavid/mailpilot/internal/ratelimit"
	ws "github.com/vdavid/mailpilot/internal/websocket"
	"github.com/vdavid/mailpilot/migrations"
)

// TransitionsChannel is the store pub/sub channel circuit transitions are published on.
const TransitionsChannel = "circuit:transitions"

const shutdownTimeout = 10 * time.Second

var log = logger.New("server")

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	logger.Configure(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.CloseConnection(pool)
	log.Info("Successfully connected to database")

	if err := migrations.Apply(ctx, pool); err != nil {
		log.WithError(err).Fatal("Failed to apply migrations")
	}

	store, err := kv.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create key-value store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close key-value store")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(cfg, pool, store, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("environment", cfg.Environment).Infof("MailPilot backend server starting on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed to start")
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
	}
}

// NewServer creates and returns a new HTTP handler for the MailPilot API server.
// Collectors are registered on registry, which is also served on /metrics.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, store kv.Store, registry *prometheus.Registry) http.Handler {
	m := metrics.New(registry)
	wsHub := ws.NewHub(cfg.WSMaxConnectionsPerUser)
	metrics.RegisterConnections(registry, wsHub.TotalConnections)

	breaker := circuit.New(store,
		circuit.WithMetrics(m),
		circuit.WithListener(transitionPublisher(store, wsHub)),
	)
	limiter := ratelimit.New(store, ratelimit.WithMetrics(m))
	providers := provider.NewRegistry(cfg)
	completer := llm.NewOpenAICompatible(providers, cfg.AIRequestTimeout)
	aggregator := health.NewAggregator(store, breaker, providers, health.WithMetrics(m))

	log.WithField("providers", providers.Configured()).Infof("Using %s store", kv.BackendName(cfg))

	authHandler := api.NewAuthHandler(dbPool, providers)
	healthHandler := api.NewHealthHandler(aggregator)
	aiHandler := api.NewAIHandler(dbPool, providers, completer, breaker, limiter)
	wsHandler := api.NewWebSocketHandler(dbPool, wsHub, aggregator)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.HandleFunc("/api/health/ai", healthHandler.GetAIHealth)
	mux.Handle("/api/v1/auth/status", auth.RequireAuth(http.HandlerFunc(authHandler.GetAuthStatus)))
	mux.Handle("/api/v1/ai/complete", auth.RequireAuth(aiHandler.Handler()))
	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))
	mux.Handle("/metrics", metrics.Handler(registry))

	return mux
}

type broadcaster interface {
	BroadcastJSON(v any) error
}

// transitionPublisher announces circuit transitions on the store channel and to connected clients.
// It runs on the request path of the call that caused the transition, so the
// WebSocket fan-out happens in the background.
func transitionPublisher(store kv.Store, hub broadcaster) circuit.TransitionListener {
	return func(ctx context.Context, t circuit.Transition) {
		event := models.CircuitTransitionEvent{
			Type:     models.EventCircuitTransition,
			Provider: t.Provider,
			From:     string(t.From),
			To:       string(t.To),
			At:       t.At.UTC(),
		}

		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Error("Failed to encode circuit transition")
			return
		}
		if _, err := store.Publish(ctx, TransitionsChannel, string(payload)); err != nil {
			log.WithError(err).WithField("provider", t.Provider).Warn("Failed to publish circuit transition")
		}

		go func() {
			if err := hub.BroadcastJSON(event); err != nil {
				log.WithError(err).WithField("provider", t.Provider).Warn("Failed to broadcast circuit transition")
			}
		}()
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "MailPilot API is running")
}
