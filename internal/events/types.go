// Package events defines the event kinds published on the TaskForge bus.
package events

// Event types for task mutations.
const (
	TaskCreated         = "task_created"
	TaskUpdated         = "task_updated"
	TaskDeleted         = "task_deleted"
	TaskStatusChanged   = "task_status_changed"
	TaskPriorityChanged = "task_priority_changed"
)

// Event types for task collaboration fields.
const (
	TaskAssigned             = "task_assigned"
	TaskCollaboratorsUpdated = "task_collaborators_updated"
	TaskWatchersUpdated      = "task_watchers_updated"
)

// Event types for list snapshots and notification fan-out.
const (
	TasksList              = "tasks_list"
	TaskStatusNotification = "task_status_notification"
)

// PrimaryTaskEvents are the default subscription set for a freshly
// connected WebSocket client.
var PrimaryTaskEvents = []string{
	TaskCreated,
	TaskUpdated,
	TaskDeleted,
	TaskStatusChanged,
	TaskPriorityChanged,
}

// AllTaskEvents enumerates every published kind, used for bus bridges that
// need to observe the full stream.
var AllTaskEvents = []string{
	TaskCreated,
	TaskUpdated,
	TaskDeleted,
	TaskStatusChanged,
	TaskPriorityChanged,
	TaskAssigned,
	TaskCollaboratorsUpdated,
	TaskWatchersUpdated,
	TasksList,
	TaskStatusNotification,
}

// Subject maps an event kind onto its bus subject.
func Subject(kind string) string {
	return "tasks." + kind
}

// Known reports whether kind is a recognized event type.
func Known(kind string) bool {
	for _, k := range AllTaskEvents {
		if k == kind {
			return true
		}
	}
	return false
}
