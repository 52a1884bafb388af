package tcp

import (
	"context"
	"encoding/json"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/task/service"
)

// RegisterScheduleCommands binds the recurring-task verbs.
func RegisterScheduleCommands(d *Dispatcher) {
	d.Register("schedule_task", handleScheduleTask)
	d.Register("update_schedule", handleUpdateSchedule)
	d.Register("remove_schedule", handleRemoveSchedule)
	d.Register("get_schedule", handleGetSchedule)
	d.Register("list_schedules", handleListSchedules)
	d.Register("pause_schedule", handlePauseSchedule)
	d.Register("resume_schedule", handleResumeSchedule)
	d.Register("validate_cron", handleValidateCron)
	d.Register("schedule_failures", handleScheduleFailures)
	d.Register("optimize_schedule_order", handleOptimizeScheduleOrder)
}

func handleScheduleTask(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		Name     string                    `json:"name"`
		CronExpr string                    `json:"cronExpr"`
		Template service.CreateTaskRequest `json:"template"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Add(req.Name, req.CronExpr, req.Template)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedule": sched}, nil
}

type scheduleIDRequest struct {
	ScheduleID string `json:"scheduleId"`
}

func (r *scheduleIDRequest) validate() error {
	if r.ScheduleID == "" {
		return apperrors.Validation("scheduleId is required")
	}
	return nil
}

func handleUpdateSchedule(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		scheduleIDRequest
		Name     string                     `json:"name"`
		CronExpr string                     `json:"cronExpr"`
		Template *service.CreateTaskRequest `json:"template"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Update(req.ScheduleID, req.Name, req.CronExpr, req.Template)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedule": sched}, nil
}

func handleRemoveSchedule(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req scheduleIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := env.Scheduler.Remove(req.ScheduleID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": req.ScheduleID}, nil
}

func handleGetSchedule(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req scheduleIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Get(req.ScheduleID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedule": sched}, nil
}

func handleListSchedules(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	schedules, err := env.Scheduler.List()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedules": schedules, "count": len(schedules)}, nil
}

func handlePauseSchedule(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req scheduleIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Pause(req.ScheduleID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedule": sched}, nil
}

func handleResumeSchedule(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req scheduleIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Resume(req.ScheduleID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schedule": sched}, nil
}

func handleScheduleFailures(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req scheduleIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	sched, err := env.Scheduler.Get(req.ScheduleID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"scheduleId": sched.ID,
		"runCount":   sched.RunCount,
		"failures":   sched.Failures,
	}, nil
}

func handleOptimizeScheduleOrder(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	schedules, err := env.Scheduler.OptimizeOrder()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(schedules))
	for _, sched := range schedules {
		order = append(order, sched.ID)
	}
	return map[string]interface{}{"schedules": schedules, "order": order}, nil
}

func handleValidateCron(ctx context.Context, _ *Conn, _ *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		CronExpr string `json:"cronExpr"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := scheduler.ValidateExpr(req.CronExpr); err != nil {
		return map[string]interface{}{"valid": false, "reason": err.Error()}, nil
	}
	return map[string]interface{}{"valid": true}, nil
}
