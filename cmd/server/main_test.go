package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailpilot/internal/circuit"
	"github.com/vdavid/mailpilot/internal/config"
	"github.com/vdavid/mailpilot/internal/models"
	"github.com/vdavid/mailpilot/internal/testutil"
	ws "github.com/vdavid/mailpilot/internal/websocket"
)

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleRoot(w, req)

	res := w.Result()
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			t.Fatalf("failed to close response body: %v", err)
		}
	}(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType != "text/plain" {
		t.Errorf("expected Content-Type 'text/plain', got '%s'", contentType)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	expected := "MailPilot API is running"
	if string(body) != expected {
		t.Errorf("expected body '%s', got '%s'", expected, string(body))
	}
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		Environment:             "test",
		Port:                    "8080",
		OpenAIAPIKey:            "sk-test",
		AIRequestTimeout:        5 * time.Second,
		WSMaxConnectionsPerUser: 10,
	}

	pool := testutil.NewTestDB(t)
	store, _ := testutil.NewMemoryStore(t)

	server := NewServer(cfg, pool, store, prometheus.NewRegistry())
	if server == nil {
		t.Fatal("NewServer() returned nil")
	}

	serve := func(method, target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		server.ServeHTTP(w, httptest.NewRequest(method, target, nil))
		return w
	}

	t.Run("serves the liveness banner", func(t *testing.T) {
		w := serve(http.MethodGet, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "MailPilot API is running", w.Body.String())
	})

	t.Run("serves AI health without authentication", func(t *testing.T) {
		w := serve(http.MethodGet, "/api/health/ai")
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("requires authentication for API routes", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/api/v1/auth/status").Code)
		assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/api/v1/ai/complete").Code)
		assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/api/v1/ws").Code)
	})

	t.Run("exposes metrics", func(t *testing.T) {
		serve(http.MethodGet, "/api/health/ai")

		w := serve(http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "mailpilot_health_status")
		assert.Contains(t, w.Body.String(), "mailpilot_websocket_connections 0")
	})
}

func TestTransitionPublisher(t *testing.T) {
	store, mr := testutil.NewMemoryStore(t)
	sub := mr.NewSubscriber()
	sub.Subscribe(TransitionsChannel)
	t.Cleanup(sub.Close)

	publish := transitionPublisher(store, ws.NewHub(1))
	at := time.UnixMilli(1_700_000_000_000)
	publish(context.Background(), circuit.Transition{
		Provider: "openai",
		From:     circuit.StateClosed,
		To:       circuit.StateOpen,
		At:       at,
	})

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, TransitionsChannel, msg.Channel)

		var event models.CircuitTransitionEvent
		require.NoError(t, json.NewDecoder(strings.NewReader(msg.Message)).Decode(&event))
		assert.Equal(t, models.EventCircuitTransition, event.Type)
		assert.Equal(t, "openai", event.Provider)
		assert.Equal(t, "CLOSED", event.From)
		assert.Equal(t, "OPEN", event.To)
		assert.True(t, at.Equal(event.At))
	case <-time.After(2 * time.Second):
		t.Fatal("no transition published")
	}
}

type blockingBroadcaster struct {
	release  chan struct{}
	received chan any
}

func (b *blockingBroadcaster) BroadcastJSON(v any) error {
	<-b.release
	b.received <- v
	return nil
}

func TestTransitionPublisher_DoesNotWaitForClients(t *testing.T) {
	store, _ := testutil.NewMemoryStore(t)
	slow := &blockingBroadcaster{release: make(chan struct{}), received: make(chan any, 1)}

	publish := transitionPublisher(store, slow)
	returned := make(chan struct{})
	go func() {
		publish(context.Background(), circuit.Transition{
			Provider: "groq",
			From:     circuit.StateOpen,
			To:       circuit.StateHalfOpen,
			At:       time.UnixMilli(1_700_000_000_000),
		})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("listener blocked on a slow client")
	}

	close(slow.release)
	select {
	case v := <-slow.received:
		event, ok := v.(models.CircuitTransitionEvent)
		require.True(t, ok)
		assert.Equal(t, "groq", event.Provider)
		assert.Equal(t, "HALF_OPEN", event.To)
	case <-time.After(2 * time.Second):
		t.Fatal("transition was never broadcast")
	}
}
