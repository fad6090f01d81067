// Package realtime pushes refresh events to connected agents over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Notifier delivers fire-and-forget refresh events to a staff member.
type Notifier interface {
	Notify(ctx context.Context, staffID, topic string, payload any)
}

// TokenVerifier resolves a bearer token to a staff id.
type TokenVerifier interface {
	ParseStaffID(token string) (string, error)
}

// Frame is the JSON document written to agents.
type Frame struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Hub keeps one websocket per staff member; a new login replaces the old socket.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	upgrader websocket.Upgrader
	tokens   TokenVerifier
	logger   *zap.Logger
}

// NewHub builds a hub authenticating sockets with tokens.
func NewHub(tokens TokenVerifier, logger *zap.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		tokens: tokens,
		logger: logger,
	}
}

var _ Notifier = (*Hub)(nil)

// Notify never blocks; delivery to an absent or slow agent is dropped.
func (h *Hub) Notify(_ context.Context, staffID, topic string, payload any) {
	h.mu.RLock()
	conn := h.conns[staffID]
	h.mu.RUnlock()
	if conn == nil {
		return
	}
	body, err := json.Marshal(Frame{Topic: topic, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("realtime frame encode failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := conn.Send(body); err != nil {
		h.logger.Debug("realtime frame dropped", zap.String("staff_id", staffID), zap.Error(err))
	}
}

// Connected reports whether staffID has a live socket.
func (h *Hub) Connected(staffID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[staffID]
	return ok
}

// ServeHTTP upgrades GET /ws?token=<jwt>.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	staffID, err := h.tokens.ParseStaffID(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(staffID, ws)
	h.attach(conn)
	go conn.writeLoop()

	conn.readLoop()
	h.detach(conn)
	conn.Close(websocket.CloseNormalClosure, "")
}

// Handler returns the mux serving the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	return mux
}

// Close disconnects every agent.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) attach(conn *Connection) {
	h.mu.Lock()
	previous := h.conns[conn.StaffID]
	h.conns[conn.StaffID] = conn
	h.mu.Unlock()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
	h.logger.Debug("agent connected", zap.String("staff_id", conn.StaffID))
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	if h.conns[conn.StaffID] == conn {
		delete(h.conns, conn.StaffID)
	}
	h.mu.Unlock()
}
