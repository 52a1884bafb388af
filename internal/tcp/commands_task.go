package tcp

import (
	"context"
	"encoding/json"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/task/service"
)

// RegisterTaskCommands binds the task CRUD and projection verbs.
func RegisterTaskCommands(d *Dispatcher) {
	d.Register("create_task", handleCreateTask)
	d.Register("get_task", handleGetTask)
	d.Register("list_tasks", handleListTasks)
	d.Register("update_task", handleUpdateTask)
	d.Register("delete_task", handleDeleteTask)
	d.Register("update_task_status", handleSetStatus)
	d.Register("update_task_priority", handleSetPriority)
	d.Register("get_task_status", handleGetStatus)
	d.Register("assign_task", handleAssignTask)
	d.Register("set_collaborators", handleSetCollaborators)
	d.Register("set_watchers", handleSetWatchers)
	d.Register("get_task_queue", handleTaskQueue)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperrors.Validation("request data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Validation("malformed request data: " + err.Error())
	}
	return nil
}

func handleCreateTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req service.CreateTaskRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	task, err := env.Tasks.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

type taskIDRequest struct {
	TaskID string `json:"taskId"`
	Actor  string `json:"actor"`
}

func (r *taskIDRequest) validate() error {
	if r.TaskID == "" {
		return apperrors.Validation("taskId is required")
	}
	return nil
}

func handleGetTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleListTasks(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := env.Tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks, "count": len(tasks)}, nil
}

func handleUpdateTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		TaskID string `json:"taskId"`
		service.UpdateTaskRequest
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, apperrors.Validation("taskId is required")
	}
	task, err := env.Tasks.UpdateTask(ctx, req.TaskID, req.UpdateTaskRequest)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleDeleteTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := env.Tasks.DeleteTask(ctx, req.TaskID, req.Actor); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": req.TaskID}, nil
}

func handleSetStatus(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		taskIDRequest
		Status string `json:"status"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.SetStatus(ctx, req.TaskID, req.Status, req.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

// handleGetStatus is a projection, cheaper than get_task for pollers.
func handleGetStatus(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"taskId":    task.ID,
		"status":    task.Status,
		"updatedAt": task.UpdatedAt,
	}, nil
}

func handleSetPriority(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		taskIDRequest
		Priority string `json:"priority"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.SetPriority(ctx, req.TaskID, req.Priority, req.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleAssignTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		taskIDRequest
		AssignedTo string `json:"assignedTo"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.Assign(ctx, req.TaskID, req.AssignedTo, req.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleSetCollaborators(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		taskIDRequest
		Collaborators []string `json:"collaborators"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.SetCollaborators(ctx, req.TaskID, req.Collaborators, req.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleSetWatchers(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		taskIDRequest
		Watchers []string `json:"watchers"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	task, err := env.Tasks.SetWatchers(ctx, req.TaskID, req.Watchers, req.Actor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": task}, nil
}

func handleTaskQueue(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	queue, err := env.Tasks.Queue(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"queue": queue, "count": len(queue)}, nil
}
