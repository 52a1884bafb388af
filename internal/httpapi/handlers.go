// Package httpapi exposes the REST surface of the daemon: task CRUD, the
// queue and analytics projections, and daemon status. WebSocket upgrades
// share the same listener and are dispatched by path.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/task/service"
)

// environmentHeader selects the environment a request operates on. Absent
// means the configured default.
const environmentHeader = "X-Environment"

// WorkflowReporter is the slice of daemon control the status endpoint needs.
type WorkflowReporter interface {
	WorkflowStates() map[string]string
}

// Handler contains the HTTP handlers for the task API.
type Handler struct {
	registry  *environment.Registry
	workflows WorkflowReporter
	startTime time.Time
	logger    *logger.Logger
}

// NewHandler creates an API handler. workflows may be nil when the workflow
// loop is disabled.
func NewHandler(registry *environment.Registry, workflows WorkflowReporter, startTime time.Time, log *logger.Logger) *Handler {
	return &Handler{
		registry:  registry,
		workflows: workflows,
		startTime: startTime,
		logger:    log.WithFields(zap.String("component", "http_api")),
	}
}

// env resolves the request's environment stack, writing the error response
// itself when the name is unknown.
func (h *Handler) env(c *gin.Context) (*environment.Services, bool) {
	name := c.GetHeader(environmentHeader)
	if name == "" {
		name = c.Query("environment")
	}
	env, err := h.registry.Resolve(name)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return env, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Unknown(err.Error(), err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"success": false,
		"error": gin.H{
			"message": appErr.Message,
			"name":    appErr.Code,
		},
	})
}

// ListTasks returns every task in the environment.
// GET /api/v1/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	tasks, err := env.Tasks.ListTasks(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// GetTask retrieves one task.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	task, err := env.Tasks.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// CreateTask creates a new task.
// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Validation(err.Error()))
		return
	}
	task, err := env.Tasks.CreateTask(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// UpdateTask applies a partial merge to a task.
// PUT /api/v1/tasks/:taskId
func (h *Handler) UpdateTask(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var req service.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Validation(err.Error()))
		return
	}
	task, err := env.Tasks.UpdateTask(c.Request.Context(), c.Param("taskId"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// DeleteTask removes a task. Dependents keep their edge; the dependency
// validator reports the dangling reference.
// DELETE /api/v1/tasks/:taskId
func (h *Handler) DeleteTask(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	if err := env.Tasks.DeleteTask(c.Request.Context(), c.Param("taskId"), c.Query("actor")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("taskId")})
}

type statusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

// UpdateStatus changes a task's lifecycle status.
// PUT /api/v1/tasks/:taskId/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Validation(err.Error()))
		return
	}
	task, err := env.Tasks.SetStatus(c.Request.Context(), c.Param("taskId"), req.Status, req.Actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

type priorityRequest struct {
	Priority string `json:"priority"`
	Actor    string `json:"actor"`
}

// UpdatePriority changes a task's priority.
// PUT /api/v1/tasks/:taskId/priority
func (h *Handler) UpdatePriority(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Validation(err.Error()))
		return
	}
	task, err := env.Tasks.SetPriority(c.Request.Context(), c.Param("taskId"), req.Priority, req.Actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

type assignmentRequest struct {
	// Nil fields are left unchanged.
	AssignedTo    *string  `json:"assignedTo"`
	Collaborators []string `json:"collaborators"`
	Watchers      []string `json:"watchers"`
	Actor         string   `json:"actor"`
}

// UpdateAssignment sets assignee, collaborators and watchers in one call.
// PUT /api/v1/tasks/:taskId/assignment
func (h *Handler) UpdateAssignment(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Validation(err.Error()))
		return
	}
	ctx := c.Request.Context()
	id := c.Param("taskId")

	task, err := env.Tasks.GetTask(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.AssignedTo != nil {
		if task, err = env.Tasks.Assign(ctx, id, *req.AssignedTo, req.Actor); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Collaborators != nil {
		if task, err = env.Tasks.SetCollaborators(ctx, id, req.Collaborators, req.Actor); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Watchers != nil {
		if task, err = env.Tasks.SetWatchers(ctx, id, req.Watchers, req.Actor); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// TaskHistory returns the audit trail for one task.
// GET /api/v1/tasks/:taskId/history
func (h *Handler) TaskHistory(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	entries, err := env.Journal.History(c.Param("taskId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Queue returns the actionable tasks in execution order.
// GET /api/v1/queue
func (h *Handler) Queue(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	tasks, err := env.Tasks.Queue(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": tasks, "count": len(tasks)})
}

// Analytics returns the dashboard projection.
// GET /api/v1/analytics
func (h *Handler) Analytics(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	tasks, err := env.Store.Scan()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ComputeAnalytics(tasks, time.Now().UTC()))
}

// Environments lists the configured environment names.
// GET /api/v1/environments
func (h *Handler) Environments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"environments": h.registry.Names()})
}

// Status reports daemon liveness and workflow loop states.
// GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	resp := gin.H{
		"uptimeSeconds": int(time.Since(h.startTime).Seconds()),
		"environments":  h.registry.Names(),
	}
	if h.workflows != nil {
		resp["workflows"] = h.workflows.WorkflowStates()
	}
	c.JSON(http.StatusOK, resp)
}
