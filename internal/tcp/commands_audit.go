package tcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taskforge/taskforge/internal/audit"
	"github.com/taskforge/taskforge/internal/environment"
)

// RegisterAuditCommands binds the audit journal verbs.
func RegisterAuditCommands(d *Dispatcher) {
	d.Register("task_history", handleTaskHistory)
	d.Register("audit_query", handleAuditQuery)
	d.Register("audit_summary", handleAuditSummary)
	d.Register("audit_prune", handleAuditPrune)
}

func handleTaskHistory(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	entries, err := env.Journal.History(req.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries, "count": len(entries)}, nil
}

func handleAuditQuery(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		TaskID string     `json:"taskId"`
		Actor  string     `json:"actor"`
		Kind   string     `json:"kind"`
		Since  *time.Time `json:"since"`
		Until  *time.Time `json:"until"`
		Limit  int        `json:"limit"`
	}
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return nil, err
		}
	}

	filter := audit.Filter{
		TaskID: req.TaskID,
		Actor:  req.Actor,
		Kind:   req.Kind,
		Limit:  req.Limit,
	}
	if req.Since != nil {
		filter.Since = *req.Since
	}
	if req.Until != nil {
		filter.Until = *req.Until
	}

	entries, err := env.Journal.Query(filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries, "count": len(entries)}, nil
}

func handleAuditSummary(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	summary, err := env.Journal.Summarize()
	if err != nil {
		return nil, err
	}
	active, err := env.Journal.MostActive(5)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"summary":    summary,
		"mostActive": active,
	}, nil
}

func handleAuditPrune(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		RetentionDays int `json:"retentionDays"`
	}
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return nil, err
		}
	}
	removed, err := env.Journal.Prune(req.RetentionDays)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": removed}, nil
}
