package push

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/logging"
)

const (
	writeTimeout = 10 * time.Second
	// sendBuffer bounds the per-client event queue. A client that falls
	// this far behind is disconnected.
	sendBuffer = 32
)

// Event is one acknowledgment transition pushed to clients.
type Event struct {
	Type    string            `json:"type"`
	Command ack.CommandRecord `json:"command"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub tracks WebSocket clients and fans acknowledgment events out to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The console is served from another origin in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection and
// registers it for acknowledgment events.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	logging.LogConnection(conn.RemoteAddr().String(), "push_client_connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast queues an event for every connected client. Clients whose
// queue is full are dropped.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logging.Warn("dropping slow push client",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
			)
			h.dropLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// dropLocked must be called with h.mu held.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// writeLoop serializes events onto the connection until the client is
// dropped.
func (h *Hub) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()

	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			logging.Debug("push write failed",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
				zap.Error(err),
			)
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; its purpose is detecting disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logging.LogConnection(c.conn.RemoteAddr().String(), "push_client_disconnected")
			h.drop(c)
			return
		}
	}
}
