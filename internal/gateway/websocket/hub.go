// Package websocket provides the WebSocket gateway that fans task events
// out to connected dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/events/bus"
)

const (
	// pingSweepPeriod is how often the hub pings every client.
	pingSweepPeriod = 10 * time.Second

	// evictAfter is how long a client may go without a pong before the
	// hub drops the connection.
	evictAfter = 30 * time.Second
)

// EventPayload is the inner body of every downstream frame.
type EventPayload struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Envelope is the downstream wire frame: a fresh id plus the event body.
type Envelope struct {
	ID    string       `json:"id"`
	Event EventPayload `json:"event"`
}

// NewEnvelope wraps an event body in a frame with a fresh id.
func NewEnvelope(kind string, data interface{}) *Envelope {
	return &Envelope{
		ID: uuid.New().String(),
		Event: EventPayload{
			Type:      kind,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
	}
}

// Hub manages all WebSocket client connections for one daemon.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Envelope

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Envelope, 256),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop. It owns the ping sweep: every
// sweep the hub pings each client and evicts those whose last pong is older
// than evictAfter.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	sweep := time.NewTicker(pingSweepPeriod)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.broadcast:
			h.broadcastEnvelope(env)

		case <-sweep.C:
			h.sweepClients()
		}
	}
}

// sweepClients pings every client and evicts the unresponsive ones.
func (h *Hub) sweepClients() {
	h.mu.RLock()
	var stale []*Client
	for client := range h.clients {
		if time.Since(client.LastPong()) > evictAfter {
			stale = append(stale, client)
			continue
		}
		client.requestPing()
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.logger.Warn("Evicting unresponsive client", zap.String("client_id", client.ID))
		h.removeClient(client)
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// removeClient removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastEnvelope sends a frame to every client subscribed to its kind.
func (h *Hub) broadcastEnvelope(env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.SubscribedTo(env.Event.Type) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast fans one event out to every subscribed client.
func (h *Hub) Broadcast(kind string, data interface{}) {
	h.broadcast <- NewEnvelope(kind, data)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BindBus subscribes the hub to every task event subject so bus traffic is
// mirrored to WebSocket clients. It returns the subscriptions so the caller
// can tear them down on shutdown.
func (h *Hub) BindBus(eventBus bus.EventBus) ([]bus.Subscription, error) {
	subs := make([]bus.Subscription, 0, len(events.AllTaskEvents))
	for _, kind := range events.AllTaskEvents {
		kind := kind
		sub, err := eventBus.Subscribe(events.Subject(kind), func(ctx context.Context, event *bus.Event) error {
			h.Broadcast(kind, event.Data)
			return nil
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
