package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailpilot/internal/auth"
	"github.com/vdavid/mailpilot/internal/db"
	"github.com/vdavid/mailpilot/internal/health"
	"github.com/vdavid/mailpilot/internal/models"
	ws "github.com/vdavid/mailpilot/internal/websocket"
)

// ProviderReporter returns the current circuit health of every configured provider.
type ProviderReporter interface {
	ProviderReports(ctx context.Context) map[string]health.ProviderReport
}

// WebSocketHandler handles the /api/v1/ws endpoint for live provider health updates.
type WebSocketHandler struct {
	pool     *pgxpool.Pool
	hub      *ws.Hub
	reporter ProviderReporter
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(pool *pgxpool.Pool, hub *ws.Hub, reporter ProviderReporter) *WebSocketHandler {
	return &WebSocketHandler{
		pool:     pool,
		hub:      hub,
		reporter: reporter,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Served behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle authenticates the caller, upgrades the connection, and sends a provider
// health snapshot. Circuit transitions are pushed later through the Hub.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := auth.TokenFromRequest(r)
	if err != nil {
		log.WithError(err).Info("WebSocketHandler: No usable token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.WithError(err).Info("WebSocketHandler: Token validation failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := db.GetOrCreateUser(ctx, h.pool, userEmail)
	if err != nil {
		log.WithError(err).Error("WebSocketHandler: Failed to get/create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("userId", userID).Warn("WebSocketHandler: Failed to upgrade connection")
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.WithField("userId", userID).Warn("WebSocketHandler: Connection rejected (max connections exceeded)")
		return
	}
	log.WithField("userId", userID).Debug("WebSocketHandler: Connection established")

	if err := client.WriteJSON(providerHealthEvent(h.reporter.ProviderReports(ctx))); err != nil {
		log.WithError(err).WithField("userId", userID).Warn("WebSocketHandler: Failed to send provider health snapshot")
	}

	go h.readLoop(userID, client)
}

func providerHealthEvent(reports map[string]health.ProviderReport) models.ProviderHealthEvent {
	providers := make(map[string]models.ProviderHealth, len(reports))
	for name, report := range reports {
		providers[name] = models.ProviderHealth{Status: string(report.Status), Failures: report.Failures}
	}
	return models.ProviderHealthEvent{Type: models.EventProviderHealth, Providers: providers}
}

// readLoop drains the connection until it closes, then unregisters the client.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(userID, client)
}
