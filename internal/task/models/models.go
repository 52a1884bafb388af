// Package models defines the persistent task entity and its value types.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusInvalid    Status = "invalid"
)

// Priority represents scheduling priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Type categorizes the task within the delivery workflow.
type Type string

const (
	TypeFeature        Type = "feature"
	TypeStory          Type = "story"
	TypeTask           Type = "task"
	TypeImplementation Type = "implementation"
	TypeIntegration    Type = "integration"
	TypeTesting        Type = "testing"
	TypeResearch       Type = "research"
)

// ActionLogEntry records a single mutation applied to a task.
type ActionLogEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Details   string    `json:"details,omitempty"`
}

// Task is the core persistent entity.
type Task struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Status        Status           `json:"status"`
	Priority      Priority         `json:"priority"`
	Type          Type             `json:"type"`
	Dependencies  []string         `json:"dependencies"`
	CreatedBy     string           `json:"createdBy"`
	AssignedTo    string           `json:"assignedTo,omitempty"`
	Collaborators []string         `json:"collaborators,omitempty"`
	Watchers      []string         `json:"watchers,omitempty"`
	ActionLog     []ActionLogEntry `json:"actionLog,omitempty"`
	// EstimatedHours feeds critical-path weighting; zero means unit weight.
	EstimatedHours float64   `json:"estimatedHours,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewTaskID generates a task id with a monotonic component plus randomness.
func NewTaskID() string {
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// ValidStatus reports whether s is a recognized status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusInvalid:
		return true
	}
	return false
}

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidType reports whether t is a recognized task type.
func ValidType(t Type) bool {
	switch t {
	case TypeFeature, TypeStory, TypeTask, TypeImplementation,
		TypeIntegration, TypeTesting, TypeResearch:
		return true
	}
	return false
}

// PriorityWeight returns the fixed total ordering used for tie-breaks:
// high > medium > low.
func PriorityWeight(p Priority) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Normalize fills legacy-record defaults and collapses duplicate set
// members. Records written by older daemons may lack dependencies,
// priority, status or type; reads return defaults rather than failing.
func (t *Task) Normalize() {
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	} else {
		t.Dependencies = dedupe(t.Dependencies)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Type == "" {
		t.Type = TypeTask
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "system"
	}
	t.Collaborators = dedupe(t.Collaborators)
	t.Watchers = dedupe(t.Watchers)
}

// Validate checks field-level constraints. Dependency existence and cycle
// checks live in the dependency engine; this only covers the record itself.
func (t *Task) Validate() error {
	var fields []string
	if t.Title == "" {
		fields = append(fields, "title must not be empty")
	}
	if !ValidStatus(t.Status) {
		fields = append(fields, fmt.Sprintf("status '%s' is not one of todo, in-progress, done, invalid", t.Status))
	}
	if !ValidPriority(t.Priority) {
		fields = append(fields, fmt.Sprintf("priority '%s' is not one of low, medium, high", t.Priority))
	}
	if !ValidType(t.Type) {
		fields = append(fields, fmt.Sprintf("type '%s' is not a recognized task type", t.Type))
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return apperrors.SelfDependency(t.ID)
		}
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields...)
	}
	return nil
}

// AppendAction records a mutation in the task's action log and refreshes
// the updated timestamp.
func (t *Task) AppendAction(action, userID, details string) {
	now := time.Now().UTC()
	t.ActionLog = append(t.ActionLog, ActionLogEntry{
		Action:    action,
		Timestamp: now,
		UserID:    userID,
		Details:   details,
	})
	t.UpdatedAt = now
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored record.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.Collaborators = append([]string(nil), t.Collaborators...)
	cp.Watchers = append([]string(nil), t.Watchers...)
	cp.ActionLog = append([]ActionLogEntry(nil), t.ActionLog...)
	return &cp
}

// dedupe collapses duplicates preserving first-seen order. A nil input
// stays nil so optional sets keep their omitempty behavior.
func dedupe(in []string) []string {
	if in == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
