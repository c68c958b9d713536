// Package wshub pushes query notifications to WebSocket clients.
package wshub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/starford/tasklink/internal/models"
)

const writeTimeout = 5 * time.Second

// Message types.
const (
	TypeHello        = "hello"
	TypeNotification = "query.notification"
)

// Message is the envelope written to clients.
type Message struct {
	Type     string               `json:"type"`
	ClientID string               `json:"client_id,omitempty"`
	Data     *models.Notification `json:"data,omitempty"`
}

type client struct {
	id   string
	send chan []byte
}

// Hub tracks connected clients and broadcasts to them.
type Hub struct {
	origins []string
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a hub. origins are passed to websocket.AcceptOptions; empty
// means same-origin only.
func New(origins []string, logger *slog.Logger) *Hub {
	return &Hub{
		origins: origins,
		logger:  logger,
		clients: make(map[string]*client),
		closing: make(chan struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatch queues a notification for every client. Clients with a full
// buffer miss it.
func (h *Hub) Dispatch(_ context.Context, n models.Notification) {
	data, err := json.Marshal(Message{Type: TypeNotification, Data: &n})
	if err != nil {
		h.logger.Warn("wshub: marshal failed", slog.String("error", err.Error()))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("wshub: client buffer full, dropping", slog.String("client", c.id))
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.closing)
	})
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("wshub: client disconnected", slog.String("client", c.id), slog.Int("clients", n))
}

// ServeHTTP upgrades the request and streams notifications until the
// client goes away or the hub closes. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("wshub: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan []byte, 32)}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)
	h.logger.Info("wshub: client connected", slog.String("client", c.id))

	ctx := conn.CloseRead(r.Context())

	hello, _ := json.Marshal(Message{Type: TypeHello, ClientID: c.id})
	if err := write(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-h.closing:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-c.send:
			if err := write(ctx, conn, msg); err != nil {
				h.logger.Debug("wshub: write failed", slog.String("client", c.id), slog.String("error", err.Error()))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
