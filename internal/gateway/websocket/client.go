package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB
)

// Upstream message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
)

// clientMessage is the only upstream frame clients send: subscription
// changes for event kinds.
type clientMessage struct {
	Type       string   `json:"type"`
	EventTypes []string `json:"eventTypes"`
}

// Client represents a single WebSocket connection
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// Event kinds this client receives. Seeded with the primary task
	// events; subscribe/unsubscribe frames mutate it.
	subscriptions map[string]bool

	ping     chan struct{}
	lastPong time.Time

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewClient creates a new WebSocket client with the default subscription set.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	subs := make(map[string]bool, len(events.PrimaryTaskEvents))
	for _, kind := range events.PrimaryTaskEvents {
		subs[kind] = true
	}
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: subs,
		ping:          make(chan struct{}, 1),
		lastPong:      time.Now(),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// SubscribedTo reports whether the client receives the given event kind.
func (c *Client) SubscribedTo(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[kind]
}

// LastPong returns the time of the client's most recent pong.
func (c *Client) LastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// requestPing asks the write pump to send a ping frame. Non-blocking; a
// pending ping is enough.
func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("Ignoring malformed client frame", zap.Error(err))
			continue
		}
		c.handleMessage(&msg)
	}
}

// handleMessage applies a subscription change. Unknown kinds and unknown
// message types are ignored rather than killing the connection.
func (c *Client) handleMessage(msg *clientMessage) {
	switch msg.Type {
	case msgSubscribe, msgUnsubscribe:
	default:
		c.logger.Warn("Ignoring unknown client message type", zap.String("type", msg.Type))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range msg.EventTypes {
		if !events.Known(kind) {
			c.logger.Warn("Ignoring unknown event kind", zap.String("kind", kind))
			continue
		}
		if msg.Type == msgSubscribe {
			c.subscriptions[kind] = true
		} else {
			delete(c.subscriptions, kind)
		}
	}
	c.logger.Debug("Subscriptions updated",
		zap.String("change", msg.Type),
		zap.Int("count", len(c.subscriptions)))
}

// Send queues one frame for the client, dropping it when the buffer is full.
func (c *Client) Send(env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to marshal frame", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.ping:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
