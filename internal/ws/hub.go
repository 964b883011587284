// Package ws broadcasts server events to dashboard clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
)

const writeTimeout = 10 * time.Second

// envelope is the broadcast wire format. Event timestamps are server-side
// bookkeeping and do not go out to clients.
type envelope struct {
	Type events.EventType `json:"type"`
	Data map[string]any   `json:"data"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; the pump and ping replies race otherwise
}

func (c *client) writeText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans bus events out to every connected websocket client. It is both
// the event pump (Run) and the upgrade handler (ServeHTTP).
type Hub struct {
	bus      *events.Bus
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a hub reading from bus.
func New(bus *events.Bus, log *logging.Logger) *Hub {
	return &Hub{
		bus: bus,
		log: log.Component("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from a different origin than the API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Run pumps bus events to connected clients until ctx is canceled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(evt)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the peer goes away. The only inbound message honored is the text "ping",
// answered with a bare "pong"; everything else is ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn}
	h.add(c)
	defer h.drop(c)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && string(data) == "ping" {
			if err := c.writeText([]byte("pong")); err != nil {
				return
			}
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt events.Event) {
	payload, err := json.Marshal(envelope{Type: evt.Type, Data: evt.Data})
	if err != nil {
		h.log.Warn("event marshal failed", "type", evt.Type, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeText(payload); err != nil {
			h.log.Warn("websocket write failed", "error", err)
			h.drop(c)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(n))
	h.log.Info("websocket client connected", "clients", n)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !known {
		return
	}
	c.conn.Close()
	metrics.WSClients.Set(float64(n))
	h.log.Info("websocket client disconnected", "clients", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()

	for _, c := range targets {
		c.conn.Close()
	}
	metrics.WSClients.Set(0)
}
