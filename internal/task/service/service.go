// Package service provides task business logic: validated mutations over
// the store with audit and event fan-out.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/audit"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/events/bus"
	"github.com/taskforge/taskforge/internal/task/deps"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
)

// Service provides task business logic for one environment.
type Service struct {
	env      string
	store    *store.Store
	journal  *audit.Journal
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new task service
func NewService(env string, st *store.Store, journal *audit.Journal, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		env:      env,
		store:    st,
		journal:  journal,
		eventBus: eventBus,
		logger:   log.WithEnvironment(env),
	}
}

// Environment returns the environment name this service operates on.
func (s *Service) Environment() string {
	return s.env
}

// Store exposes the underlying store for read-only projections.
func (s *Service) Store() *store.Store {
	return s.store
}

// Journal exposes the audit journal for query commands.
func (s *Service) Journal() *audit.Journal {
	return s.journal
}

// CreateTaskRequest contains the data for creating a new task
type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	Type           string   `json:"type"`
	Dependencies   []string `json:"dependencies"`
	CreatedBy      string   `json:"createdBy"`
	AssignedTo     string   `json:"assignedTo"`
	Collaborators  []string `json:"collaborators"`
	Watchers       []string `json:"watchers"`
	EstimatedHours float64  `json:"estimatedHours"`
}

// UpdateTaskRequest carries the mutable fields of a task. Nil pointers mean
// "leave unchanged".
type UpdateTaskRequest struct {
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	Type           *string   `json:"type"`
	Dependencies   *[]string `json:"dependencies"`
	EstimatedHours *float64  `json:"estimatedHours"`
	AssignedTo     *string   `json:"assignedTo"`
	Collaborators  *[]string `json:"collaborators"`
	Watchers       *[]string `json:"watchers"`
	Actor          string    `json:"actor"`
}

// CreateTask validates and persists a new task, journals the creation and
// publishes task_created.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:             models.NewTaskID(),
		Title:          req.Title,
		Description:    req.Description,
		Status:         models.StatusTodo,
		Priority:       models.Priority(req.Priority),
		Type:           models.Type(req.Type),
		Dependencies:   req.Dependencies,
		CreatedBy:      req.CreatedBy,
		AssignedTo:     req.AssignedTo,
		Collaborators:  req.Collaborators,
		Watchers:       req.Watchers,
		EstimatedHours: req.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	task.Normalize()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	snapshot, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	if err := deps.CheckWrite(snapshot, task); err != nil {
		return nil, err
	}

	task.AppendAction("created", task.CreatedBy, "")
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindCreated, task.ID, task.CreatedBy, map[string]interface{}{
		"title": task.Title,
	})
	s.publish(ctx, events.TaskCreated, map[string]interface{}{"task": task})

	s.logger.WithTaskID(task.ID).Info("Task created", zap.String("title", task.Title))
	return task, nil
}

// GetTask retrieves a task by id.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.store.Get(id)
}

// ListTasks returns all tasks ordered by creation time and publishes the
// tasks_list snapshot so dashboards refresh alongside the caller.
func (s *Service) ListTasks(ctx context.Context) ([]*models.Task, error) {
	tasks, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TasksList, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
	return tasks, nil
}

// UpdateTask applies a partial update. Dependency changes re-run the full
// write-time graph check against the current snapshot.
func (s *Service) UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (*models.Task, error) {
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	changed := map[string]interface{}{}
	if req.Title != nil {
		task.Title = *req.Title
		changed["title"] = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
		changed["description"] = true
	}
	if req.Type != nil {
		task.Type = models.Type(*req.Type)
		changed["type"] = *req.Type
	}
	if req.Dependencies != nil {
		task.Dependencies = *req.Dependencies
		changed["dependencies"] = *req.Dependencies
	}
	if req.EstimatedHours != nil {
		task.EstimatedHours = *req.EstimatedHours
		changed["estimatedHours"] = *req.EstimatedHours
	}
	if req.AssignedTo != nil {
		task.AssignedTo = *req.AssignedTo
		changed["assignedTo"] = *req.AssignedTo
	}
	if req.Collaborators != nil {
		task.Collaborators = *req.Collaborators
		changed["collaborators"] = *req.Collaborators
	}
	if req.Watchers != nil {
		task.Watchers = *req.Watchers
		changed["watchers"] = *req.Watchers
	}
	if len(changed) == 0 {
		return task, nil
	}

	task.Normalize()
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if req.Dependencies != nil {
		snapshot, err := s.store.Scan()
		if err != nil {
			return nil, err
		}
		if err := deps.CheckWrite(snapshot, task); err != nil {
			return nil, err
		}
	}

	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("updated", actorOrSystem(req.Actor), "")
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindUpdated, task.ID, actorOrSystem(req.Actor), changed)
	s.publish(ctx, events.TaskUpdated, map[string]interface{}{"task": task})

	// People fields also get their dedicated events, same as the direct verbs.
	if req.AssignedTo != nil {
		s.publish(ctx, events.TaskAssigned, map[string]interface{}{
			"task":       task,
			"assignedTo": task.AssignedTo,
		})
	}
	if req.Collaborators != nil {
		s.publish(ctx, events.TaskCollaboratorsUpdated, map[string]interface{}{"task": task})
	}
	if req.Watchers != nil {
		s.publish(ctx, events.TaskWatchersUpdated, map[string]interface{}{"task": task})
	}
	return task, nil
}

// DeleteTask removes a task. Dependents keep their references; validation
// reports them as dangling rather than cascading the delete.
func (s *Service) DeleteTask(ctx context.Context, id, actor string) error {
	task, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}

	// The journal records after the delete commits, like every other
	// mutation; a failed delete never leaves a phantom audit entry.
	s.journalEntry(audit.KindDeleted, id, actorOrSystem(actor), map[string]interface{}{
		"title": task.Title,
	})
	s.publish(ctx, events.TaskDeleted, map[string]interface{}{"taskId": id})

	s.logger.WithTaskID(id).Info("Task deleted")
	return nil
}

// SetStatus transitions a task's status and emits both the mutation event
// and the notification event monitors listen for.
func (s *Service) SetStatus(ctx context.Context, id, status, actor string) (*models.Task, error) {
	if !models.ValidStatus(models.Status(status)) {
		return nil, apperrors.Validation("status: invalid value '" + status + "'")
	}
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	from := task.Status
	if from == models.Status(status) {
		return task, nil
	}

	task.Status = models.Status(status)
	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("status_changed", actorOrSystem(actor), string(from)+" -> "+status)
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindStatusChanged, task.ID, actorOrSystem(actor), map[string]interface{}{
		"from": string(from),
		"to":   status,
	})
	s.publish(ctx, events.TaskStatusChanged, map[string]interface{}{
		"task":      task,
		"oldStatus": string(from),
		"newStatus": status,
	})
	s.publish(ctx, events.TaskStatusNotification, map[string]interface{}{
		"taskId": task.ID,
		"title":  task.Title,
		"from":   string(from),
		"to":     status,
	})
	return task, nil
}

// SetPriority changes a task's priority.
func (s *Service) SetPriority(ctx context.Context, id, priority, actor string) (*models.Task, error) {
	if !models.ValidPriority(models.Priority(priority)) {
		return nil, apperrors.Validation("priority: invalid value '" + priority + "'")
	}
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	from := task.Priority
	if from == models.Priority(priority) {
		return task, nil
	}

	task.Priority = models.Priority(priority)
	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("priority_changed", actorOrSystem(actor), string(from)+" -> "+priority)
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindPriorityChanged, task.ID, actorOrSystem(actor), map[string]interface{}{
		"from": string(from),
		"to":   priority,
	})
	s.publish(ctx, events.TaskPriorityChanged, map[string]interface{}{
		"task":        task,
		"oldPriority": string(from),
		"newPriority": priority,
	})
	return task, nil
}

// Assign sets the assignee.
func (s *Service) Assign(ctx context.Context, id, assignee, actor string) (*models.Task, error) {
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	task.AssignedTo = assignee
	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("assigned", actorOrSystem(actor), assignee)
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindUpdated, task.ID, actorOrSystem(actor), map[string]interface{}{
		"assignedTo": assignee,
	})
	s.publish(ctx, events.TaskAssigned, map[string]interface{}{
		"task":       task,
		"assignedTo": assignee,
	})
	return task, nil
}

// SetCollaborators replaces the collaborator set.
func (s *Service) SetCollaborators(ctx context.Context, id string, collaborators []string, actor string) (*models.Task, error) {
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	task.Collaborators = collaborators
	task.Normalize()
	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("collaborators_updated", actorOrSystem(actor), "")
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindUpdated, task.ID, actorOrSystem(actor), map[string]interface{}{
		"collaborators": task.Collaborators,
	})
	s.publish(ctx, events.TaskCollaboratorsUpdated, map[string]interface{}{"task": task})
	return task, nil
}

// SetWatchers replaces the watcher set.
func (s *Service) SetWatchers(ctx context.Context, id string, watchers []string, actor string) (*models.Task, error) {
	task, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	task.Watchers = watchers
	task.Normalize()
	task.UpdatedAt = time.Now().UTC()
	task.AppendAction("watchers_updated", actorOrSystem(actor), "")
	if err := s.store.Put(task); err != nil {
		return nil, err
	}

	s.journalEntry(audit.KindUpdated, task.ID, actorOrSystem(actor), map[string]interface{}{
		"watchers": task.Watchers,
	})
	s.publish(ctx, events.TaskWatchersUpdated, map[string]interface{}{"task": task})
	return task, nil
}

// Queue returns the pending work queue: todo tasks whose dependencies are
// all done, in dependency-aware priority order. A cyclic graph falls back to
// plain priority order.
func (s *Service) Queue(ctx context.Context) ([]*models.Task, error) {
	snapshot, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Task, len(snapshot))
	for _, t := range snapshot {
		byID[t.ID] = t
	}

	ordered, err := deps.TopologicalSort(snapshot)
	if err != nil {
		ordered = deps.SortByPriority(snapshot)
	}

	queue := []*models.Task{}
	for _, t := range ordered {
		if t.Status != models.StatusTodo {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			depTask, ok := byID[dep]
			if ok && depTask.Status != models.StatusDone {
				ready = false
				break
			}
		}
		if ready {
			queue = append(queue, t)
		}
	}
	return queue, nil
}

// publish sends one event on the bus. Fan-out failures are logged and
// swallowed; a broken bus must not fail the mutation that already committed.
func (s *Service) publish(ctx context.Context, kind string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["environment"] = s.env
	event := bus.NewEvent(kind, "task-service", data)
	if err := s.eventBus.Publish(ctx, events.Subject(kind), event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event_type", kind),
			zap.Error(err))
	}
}

// journalEntry appends to the audit journal. The store write has already
// committed by the time this runs, so journal failures are logged, never
// propagated.
func (s *Service) journalEntry(kind, taskID, actor string, details map[string]interface{}) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(kind, taskID, actor, details); err != nil {
		s.logger.Warn("Failed to journal task mutation",
			zap.String("task_id", taskID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
