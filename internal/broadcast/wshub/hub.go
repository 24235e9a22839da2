// Package wshub is the websocket transport. The hub fans every engine
// envelope out to all connected clients and feeds inbound client commands
// to a handler the server wires to the engine.
package wshub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loom-app/loom/internal/broadcast"
)

// Command is one inbound client message. Type selects which fields are
// meaningful.
type Command struct {
	Type string `json:"type"`

	// Speech and input responses.
	Text string `json:"text,omitempty"`

	// Pending-op resolution.
	NodeID   string            `json:"nodeId,omitempty"`
	ChoiceID string            `json:"choiceId,omitempty"`
	Label    string            `json:"label,omitempty"`
	OutputID string            `json:"outputId,omitempty"`
	Details  map[string]string `json:"details,omitempty"`

	// Button press.
	FlowID   string `json:"flowId,omitempty"`
	ButtonID string `json:"buttonId,omitempty"`

	// Device notifications from the bridge.
	DeviceKey string `json:"deviceKey,omitempty"`

	// Player state.
	StateType string  `json:"stateType,omitempty"`
	Value     float64 `json:"value,omitempty"`

	// Pause.
	Reason string `json:"reason,omitempty"`
}

// Handler consumes inbound commands. It runs on the client's read
// goroutine and must not block on the hub.
type Handler func(cmd Command)

// Hub owns the client set and implements broadcast.Sink. Run must be
// started before clients connect.
type Hub struct {
	handler  Handler
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	outbound   chan []byte
}

// NewHub builds a hub. handler may be nil, in which case inbound
// commands are dropped.
func NewHub(handler Handler) *Hub {
	if handler == nil {
		handler = func(Command) {}
	}
	return &Hub{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		outbound:   make(chan []byte, 256),
	}
}

// Run processes registrations and fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("websocket hub started")
	defer slog.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			slog.Debug("client connected", "remote", c.remote)

		case c := <-h.unregister:
			h.remove(c)

		case data := <-h.outbound:
			h.fanOut(data)
		}
	}
}

// Send implements broadcast.Sink. Envelopes are queued in order; if the
// queue is full the envelope is dropped rather than stalling the engine.
func (h *Hub) Send(_ context.Context, env broadcast.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case h.outbound <- data:
	default:
		slog.Warn("hub outbound queue full, dropping", "type", env.Type)
	}
	return nil
}

// ServeHTTP upgrades the request and runs the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(h, conn, r.RemoteAddr)
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; the write pump will tear it down.
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Debug("client disconnected", "remote", c.remote)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
