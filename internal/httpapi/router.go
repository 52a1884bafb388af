package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/gateway/websocket"
)

// SetupRoutes configures the REST routes and mounts the WebSocket upgrade
// path on the shared listener. wsHandler may be nil in headless test setups.
func SetupRoutes(router *gin.Engine, registry *environment.Registry, workflows WorkflowReporter, wsHandler *websocket.Handler, log *logger.Logger) {
	handler := NewHandler(registry, workflows, time.Now(), log)

	api := router.Group("/api/v1")

	tasks := api.Group("/tasks")
	{
		tasks.GET("", handler.ListTasks)
		tasks.POST("", handler.CreateTask)
		tasks.GET("/:taskId", handler.GetTask)
		tasks.PUT("/:taskId", handler.UpdateTask)
		tasks.DELETE("/:taskId", handler.DeleteTask)
		tasks.PUT("/:taskId/status", handler.UpdateStatus)
		tasks.PUT("/:taskId/priority", handler.UpdatePriority)
		tasks.PUT("/:taskId/assignment", handler.UpdateAssignment)
		tasks.GET("/:taskId/history", handler.TaskHistory)
	}

	api.GET("/queue", handler.Queue)
	api.GET("/analytics", handler.Analytics)
	api.GET("/environments", handler.Environments)
	api.GET("/status", handler.Status)

	if wsHandler != nil {
		router.GET("/ws", wsHandler.Handle)
	}
}
