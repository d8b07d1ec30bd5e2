// Package websocket tracks live WebSocket connections and fans messages out to them.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailpilot/internal/logger"
)

const writeTimeout = 10 * time.Second

// Client wraps a WebSocket connection. Writes are serialized per connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// WriteJSON marshals v and writes it to this client only.
func (c *Client) WriteJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Hub manages active WebSocket connections per user.
// It supports multiple connections per user (e.g., multiple tabs).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
	log        *logrus.Entry
}

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
		log:        logger.New("websocket"),
	}
}

// Register adds a WebSocket connection for the given user.
// If the per-user limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		h.log.WithFields(logrus.Fields{"userId": userID, "max": h.maxPerUser}).
			Warn("User exceeded max connections, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given user and closes the connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// broadcast writes a message to every connected client.
func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	targets := make(map[*Client]string)
	for userID, userClients := range h.clients {
		for client := range userClients {
			targets[client] = userID
		}
	}
	h.mu.RUnlock()

	for client, userID := range targets {
		h.deliver(userID, client, msg)
	}
}

// BroadcastJSON marshals v and writes it to every connected client.
// Clients are written to one after another, so a slow client delays the rest.
func (h *Hub) BroadcastJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.broadcast(msg)
	return nil
}

// ActiveConnections returns the number of active WebSocket connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// TotalConnections returns the number of active WebSocket connections across all users.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, userClients := range h.clients {
		total += len(userClients)
	}
	return total
}

func (h *Hub) deliver(userID string, client *Client, msg []byte) {
	if err := client.write(msg); err != nil {
		h.log.WithError(err).WithField("userId", userID).Warn("Failed to write message, dropping client")
		go h.Unregister(userID, client)
	}
}
