package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to localhost; browser dashboards connect from
	// file:// or a dev server, so origin checking is left to the client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket connections and attaches the
// resulting clients to the hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a WebSocket handler for the given hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// Handle is the gin endpoint for /ws. A freshly connected client gets the
// default subscription set and an empty tasks_list frame so dashboards can
// render immediately.
func (h *Handler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	client.Send(NewEnvelope(events.TasksList, map[string]interface{}{
		"tasks": []interface{}{},
	}))

	h.logger.Info("WebSocket client connected", zap.String("client_id", client.ID))
}
