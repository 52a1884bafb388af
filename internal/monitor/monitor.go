// Package monitor manages monitoring sessions: long-lived subscriptions
// that mirror task status notifications onto TCP connections.
package monitor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/events/bus"
	"github.com/taskforge/taskforge/internal/task/models"
)

// Sink receives one serialized notification frame. Implementations must be
// safe for concurrent use; TCP connections wrap their write mutex.
type Sink func(frame []byte)

// Session is one active monitoring subscription.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	// All mirrors every notification regardless of task id.
	All bool `json:"all"`

	taskIDs map[string]bool
	sink    Sink
	mu      sync.RWMutex
}

// Watches reports whether the session mirrors notifications for taskID.
func (s *Session) Watches(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.All || s.taskIDs[taskID]
}

// TaskIDs returns the watched set, sorted.
func (s *Session) TaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.taskIDs))
	for id := range s.taskIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Manager owns the monitoring sessions for one environment and bridges the
// bus notification stream onto their sinks.
type Manager struct {
	env      string
	sessions map[string]*Session
	sub      bus.Subscription
	mu       sync.RWMutex
	logger   *logger.Logger
}

// NewManager creates a session manager and subscribes it to the status
// notification subject.
func NewManager(env string, eventBus bus.EventBus, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		env:      env,
		sessions: make(map[string]*Session),
		logger:   log.WithFields(zap.String("component", "monitor"), zap.String("environment", env)),
	}
	if eventBus != nil {
		sub, err := eventBus.Subscribe(events.Subject(events.TaskStatusNotification), m.onNotification)
		if err != nil {
			return nil, err
		}
		m.sub = sub
	}
	return m, nil
}

// Close tears down the bus subscription and drops every session.
func (m *Manager) Close() {
	if m.sub != nil {
		_ = m.sub.Unsubscribe()
	}
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}

// StartSession registers a new session. An empty id set with all=false
// yields a session that mirrors nothing until tasks are added.
func (m *Manager) StartSession(sink Sink, taskIDs []string, all bool) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		All:       all,
		taskIDs:   make(map[string]bool, len(taskIDs)),
		sink:      sink,
	}
	for _, id := range taskIDs {
		s.taskIDs[id] = true
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("Monitoring session started",
		zap.String("session_id", s.ID),
		zap.Int("task_count", len(taskIDs)),
		zap.Bool("all", all))
	return s
}

// StopSession removes a session.
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return apperrors.NotFound("monitoring session", id)
	}
	delete(m.sessions, id)
	m.logger.Info("Monitoring session stopped", zap.String("session_id", id))
	return nil
}

// GetSession looks a session up by id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("monitoring session", id)
	}
	return s, nil
}

// ListSessions returns every active session sorted by creation time.
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddTasks widens a session's watched set.
func (m *Manager) AddTasks(id string, taskIDs []string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, tid := range taskIDs {
		s.taskIDs[tid] = true
	}
	s.mu.Unlock()
	return nil
}

// RemoveTasks narrows a session's watched set.
func (m *Manager) RemoveTasks(id string, taskIDs []string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, tid := range taskIDs {
		delete(s.taskIDs, tid)
	}
	s.mu.Unlock()
	return nil
}

// Project filters a task snapshot down to one session's watched set. An
// all-session sees the whole snapshot.
func (m *Manager) Project(id string, tasks []*models.Task) ([]*models.Task, error) {
	s, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s.All {
		return tasks, nil
	}
	out := []*models.Task{}
	for _, t := range tasks {
		if s.Watches(t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// onNotification fans one bus notification out to every watching session.
func (m *Manager) onNotification(ctx context.Context, event *bus.Event) error {
	taskID, _ := event.Data["taskId"].(string)
	if env, ok := event.Data["environment"].(string); ok && env != m.env {
		return nil
	}

	frame, err := json.Marshal(map[string]interface{}{
		"type":      events.TaskStatusNotification,
		"timestamp": event.Timestamp,
		"data":      event.Data,
	})
	if err != nil {
		return err
	}

	m.mu.RLock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.Watches(taskID) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.sink(frame)
	}
	return nil
}
