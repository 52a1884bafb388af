package tcp

import (
	"context"
	"encoding/json"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/environment"
)

// RegisterMonitorCommands binds the monitoring session verbs. Sessions
// started on a connection mirror notifications onto that same socket and
// are torn down when the connection closes.
func RegisterMonitorCommands(d *Dispatcher) {
	d.Register("subscribe_to_task_notifications", handleSubscribeNotifications)
	d.Register("unsubscribe_from_task_notifications", handleUnsubscribeNotifications)
	d.Register("list_monitoring_sessions", handleListSessions)
	d.Register("monitor_add_tasks", handleMonitorAddTasks)
	d.Register("monitor_remove_tasks", handleMonitorRemoveTasks)
	d.Register("monitor_tasks", handleMonitorTasks)
}

func handleSubscribeNotifications(ctx context.Context, conn *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		TaskIDs []string `json:"taskIds"`
		All     bool     `json:"all"`
	}
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return nil, err
		}
	}
	if !req.All && len(req.TaskIDs) == 0 {
		return nil, apperrors.Validation("taskIds is required unless all is set")
	}

	session := env.Monitor.StartSession(func(frame []byte) {
		// Mirrored notifications share the socket with command responses;
		// WriteFrame serializes them.
		_ = conn.WriteFrame(frame)
	}, req.TaskIDs, req.All)

	sessionID := session.ID
	conn.OnClose(func() {
		_ = env.Monitor.StopSession(sessionID)
	})

	return map[string]interface{}{"sessionId": session.ID}, nil
}

type sessionIDRequest struct {
	SessionID string   `json:"sessionId"`
	TaskIDs   []string `json:"taskIds"`
}

func (r *sessionIDRequest) validate() error {
	if r.SessionID == "" {
		return apperrors.Validation("sessionId is required")
	}
	return nil
}

func handleUnsubscribeNotifications(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req sessionIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := env.Monitor.StopSession(req.SessionID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"stopped": req.SessionID}, nil
}

func handleListSessions(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	sessions := env.Monitor.ListSessions()
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"id":        s.ID,
			"createdAt": s.CreatedAt,
			"all":       s.All,
			"taskIds":   s.TaskIDs(),
		})
	}
	return map[string]interface{}{"sessions": out, "count": len(out)}, nil
}

func handleMonitorAddTasks(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req sessionIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := env.Monitor.AddTasks(req.SessionID, req.TaskIDs); err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": req.SessionID}, nil
}

func handleMonitorRemoveTasks(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req sessionIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := env.Monitor.RemoveTasks(req.SessionID, req.TaskIDs); err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": req.SessionID}, nil
}

// handleMonitorTasks returns the session-scoped task projection.
func handleMonitorTasks(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req sessionIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	all, err := env.Store.Scan()
	if err != nil {
		return nil, err
	}
	tasks, err := env.Monitor.Project(req.SessionID, all)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tasks": tasks, "count": len(tasks)}, nil
}
