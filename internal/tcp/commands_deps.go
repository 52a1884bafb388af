package tcp

import (
	"context"
	"encoding/json"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/task/deps"
	"github.com/taskforge/taskforge/internal/task/models"
)

// RegisterDepsCommands binds the dependency analysis verbs.
func RegisterDepsCommands(d *Dispatcher) {
	d.Register("dependency_graph", handleDependencyGraph)
	d.Register("visualize_dependencies", handleVisualize)
	d.Register("validate_dependencies", handleValidateDeps)
	d.Register("find_cycles", handleFindCycles)
	d.Register("critical_path", handleCriticalPath)
	d.Register("find_bottlenecks", handleBottlenecks)
	d.Register("task_impact", handleTaskImpact)
	d.Register("what_if", handleWhatIf)
	d.Register("execution_order", handleExecutionOrder)
}

func snapshot(env *environment.Services) ([]*models.Task, error) {
	return env.Store.Scan()
}

func handleDependencyGraph(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"nodes": tasks,
		"edges": deps.Edges(tasks),
	}, nil
}

func handleVisualize(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"visualization": deps.Visualize(tasks)}, nil
}

func handleValidateDeps(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	return deps.Validate(tasks), nil
}

func handleFindCycles(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	cycle := deps.FindCycle(tasks)
	return map[string]interface{}{
		"hasCycle": cycle != nil,
		"cycle":    cycle,
	}, nil
}

func handleCriticalPath(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	return deps.CriticalPath(tasks)
}

func handleBottlenecks(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	result, err := deps.CriticalPath(tasks)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"bottlenecks": result.Bottlenecks}, nil
}

func handleTaskImpact(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	if _, err := env.Store.Get(req.TaskID); err != nil {
		return nil, err
	}
	return deps.Impact(tasks, req.TaskID), nil
}

// handleWhatIf evaluates a hypothetical dependency change without writing:
// would setting the given task's dependencies pass the write-time check?
func handleWhatIf(ctx context.Context, _ *Conn, env *environment.Services, data json.RawMessage) (interface{}, error) {
	var req struct {
		TaskID       string   `json:"taskId"`
		Dependencies []string `json:"dependencies"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, apperrors.Validation("taskId is required")
	}

	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	current, err := env.Store.Get(req.TaskID)
	if err != nil {
		return nil, err
	}

	proposed := current.Clone()
	proposed.Dependencies = req.Dependencies
	if err := deps.CheckWrite(tasks, proposed); err != nil {
		return map[string]interface{}{
			"allowed": false,
			"reason":  err.Error(),
			"code":    apperrors.CodeOf(err),
		}, nil
	}
	return map[string]interface{}{"allowed": true}, nil
}

func handleExecutionOrder(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
	tasks, err := snapshot(env)
	if err != nil {
		return nil, err
	}
	ordered, err := deps.TopologicalSort(tasks)
	if err != nil {
		// Cyclic graphs still get a best-effort priority order.
		return map[string]interface{}{
			"order":    deps.SortByPriority(tasks),
			"fallback": true,
			"reason":   err.Error(),
		}, nil
	}
	return map[string]interface{}{"order": ordered, "fallback": false}, nil
}
