package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/events/bus"
	"github.com/taskforge/taskforge/internal/task/models"
)

type workflowStub map[string]string

func (w workflowStub) WorkflowStates() map[string]string { return w }

func setupTestRouter(t *testing.T) (*gin.Engine, *environment.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	registry, err := environment.NewRegistry(config.EnvironmentsConfig{
		BasePath: t.TempDir(),
		Names:    []string{"default", "staging"},
		Default:  "default",
	}, eventBus, log)
	require.NoError(t, err)
	t.Cleanup(registry.CloseAll)

	router := gin.New()
	SetupRoutes(router, registry, workflowStub{"default": "tasks-prepared"}, nil, log)
	return router, registry
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func createTask(t *testing.T, router *gin.Engine, title string, headers map[string]string) string {
	t.Helper()
	w, body := doRequest(t, router, http.MethodPost, "/api/v1/tasks",
		map[string]interface{}{"title": title}, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body["task"].(map[string]interface{})["id"].(string)
}

func TestCreateAndGetTask(t *testing.T) {
	router, _ := setupTestRouter(t)

	id := createTask(t, router, "Ship the release", nil)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := body["task"].(map[string]interface{})
	assert.Equal(t, "Ship the release", task["title"])
	assert.Equal(t, "todo", task["status"])
}

func TestGetTask_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/tasks/task-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NotFound", body["error"].(map[string]interface{})["name"])
}

func TestCreateTask_UnknownDependencyRejected(t *testing.T) {
	router, _ := setupTestRouter(t)

	w, body := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"title":        "blocked",
		"dependencies": []string{"task-missing"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "DependencyMissing", body["error"].(map[string]interface{})["name"])
}

func TestUpdateStatusAndQueue(t *testing.T) {
	router, _ := setupTestRouter(t)

	depID := createTask(t, router, "dep", nil)
	_, body := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"title":        "blocked until dep done",
		"dependencies": []string{depID},
	}, nil)
	blockedID := body["task"].(map[string]interface{})["id"].(string)

	// Only the unblocked task is queued.
	w, body := doRequest(t, router, http.MethodGet, "/api/v1/queue", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["count"])
	first := body["queue"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, depID, first["id"])

	w, _ = doRequest(t, router, http.MethodPut, "/api/v1/tasks/"+depID+"/status",
		map[string]interface{}{"status": "done", "actor": "tester"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doRequest(t, router, http.MethodGet, "/api/v1/queue", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["count"])
	first = body["queue"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, blockedID, first["id"])
}

func TestUpdateStatus_InvalidValue(t *testing.T) {
	router, _ := setupTestRouter(t)
	id := createTask(t, router, "task", nil)

	w, body := doRequest(t, router, http.MethodPut, "/api/v1/tasks/"+id+"/status",
		map[string]interface{}{"status": "nonsense"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation", body["error"].(map[string]interface{})["name"])
}

func TestUpdateAssignment(t *testing.T) {
	router, _ := setupTestRouter(t)
	id := createTask(t, router, "task", nil)

	w, body := doRequest(t, router, http.MethodPut, "/api/v1/tasks/"+id+"/assignment",
		map[string]interface{}{
			"assignedTo":    "alice",
			"collaborators": []string{"bob", "bob", "carol"},
		}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := body["task"].(map[string]interface{})
	assert.Equal(t, "alice", task["assignedTo"])
	assert.Len(t, task["collaborators"], 2)
}

func TestEnvironmentHeaderSelectsStack(t *testing.T) {
	router, _ := setupTestRouter(t)
	staging := map[string]string{"X-Environment": "staging"}

	createTask(t, router, "staging only", staging)

	_, body := doRequest(t, router, http.MethodGet, "/api/v1/tasks", nil, nil)
	assert.Equal(t, float64(0), body["count"])

	_, body = doRequest(t, router, http.MethodGet, "/api/v1/tasks", nil, staging)
	assert.Equal(t, float64(1), body["count"])

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/tasks", nil,
		map[string]string{"X-Environment": "production"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", body["error"].(map[string]interface{})["name"])
}

func TestTaskHistory(t *testing.T) {
	router, _ := setupTestRouter(t)
	id := createTask(t, router, "task", nil)

	w, _ := doRequest(t, router, http.MethodPut, "/api/v1/tasks/"+id+"/status",
		map[string]interface{}{"status": "in-progress"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+id+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	workflows := body["workflows"].(map[string]interface{})
	assert.Equal(t, "tasks-prepared", workflows["default"])
	assert.ElementsMatch(t, []interface{}{"default", "staging"}, body["environments"])
}

func TestAnalyticsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	id := createTask(t, router, "done task", nil)
	createTask(t, router, "open task", nil)
	w, _ := doRequest(t, router, http.MethodPut, "/api/v1/tasks/"+id+"/status",
		map[string]interface{}{"status": "done"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/analytics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["totalTasks"])
	byStatus := body["byStatus"].(map[string]interface{})
	assert.Equal(t, float64(1), byStatus["done"])
	assert.Equal(t, float64(1), byStatus["todo"])
	assert.NotZero(t, body["productivityScore"])
}

func TestComputeAnalytics(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)
	doneAt := now.Add(-24 * time.Hour)

	done := &models.Task{
		ID: "t1", Status: models.StatusDone, Priority: models.PriorityHigh,
		CreatedAt: created, UpdatedAt: doneAt,
		ActionLog: []models.ActionLogEntry{{
			Action:    "status_changed",
			Timestamp: doneAt,
			Details:   "in-progress -> done",
		}},
	}
	open := &models.Task{
		ID: "t2", Status: models.StatusTodo, Priority: models.PriorityLow,
		CreatedAt: created, UpdatedAt: created,
	}

	report := ComputeAnalytics([]*models.Task{done, open}, now)

	assert.Equal(t, 2, report.TotalTasks)
	assert.Equal(t, 1, report.ByStatus["done"])
	assert.Equal(t, 1, report.ByPriority["high"])
	assert.Equal(t, 2, report.CreatedPerDay[created.Format("2006-01-02")])
	assert.Equal(t, 1, report.CompletedPerDay[doneAt.Format("2006-01-02")])
	assert.InDelta(t, 24.0, report.AvgCompletionHrs, 0.01)
	// 50% completion ratio (35 points) plus one completion this week.
	assert.Equal(t, 36, report.ProductivityScore)
}

func TestComputeAnalytics_Empty(t *testing.T) {
	report := ComputeAnalytics(nil, time.Now())
	assert.Equal(t, 0, report.TotalTasks)
	assert.Equal(t, 0, report.ProductivityScore)
	assert.Zero(t, report.AvgCompletionHrs)
}
