package tcp

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/taskforge/taskforge/internal/environment"
)

// DaemonControl is implemented by the daemon entrypoint; command handlers
// use it to drive lifecycle transitions.
type DaemonControl interface {
	// Stop initiates a clean shutdown.
	Stop()
	// Restart initiates a clean shutdown with the restart exit code so the
	// supervising process relaunches the daemon.
	Restart()
	// PauseWorkflow pauses the workflow loop for one environment.
	PauseWorkflow(env string) error
	// ResumeWorkflow resumes a paused workflow loop.
	ResumeWorkflow(env string) error
	// WorkflowStates reports each processing environment's loop state.
	WorkflowStates() map[string]string
}

// RegisterDaemonCommands binds the daemon lifecycle verbs.
func RegisterDaemonCommands(d *Dispatcher, control DaemonControl, startTime time.Time) {
	d.Register("ping", func(ctx context.Context, _ *Conn, _ *environment.Services, _ json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"pong": true}, nil
	})

	d.Register("list_commands", func(ctx context.Context, _ *Conn, _ *environment.Services, _ json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"commands": d.Commands()}, nil
	})

	d.Register("get_daemon_status", func(ctx context.Context, _ *Conn, _ *environment.Services, _ json.RawMessage) (interface{}, error) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		states := control.WorkflowStates()
		paused := false
		for _, state := range states {
			if strings.HasSuffix(state, "(paused)") {
				paused = true
			}
		}
		return map[string]interface{}{
			"paused":        paused,
			"pid":           os.Getpid(),
			"uptimeSeconds": int(time.Since(startTime).Seconds()),
			"goroutines":    runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"allocBytes": mem.Alloc,
				"sysBytes":   mem.Sys,
				"numGC":      mem.NumGC,
			},
			"workflows": states,
		}, nil
	})

	d.Register("stop_daemon", func(ctx context.Context, _ *Conn, _ *environment.Services, _ json.RawMessage) (interface{}, error) {
		// The response is written before the listener unwinds because
		// dispatch completes synchronously on this connection.
		control.Stop()
		return map[string]interface{}{"stopping": true}, nil
	})

	d.Register("restart", func(ctx context.Context, _ *Conn, _ *environment.Services, _ json.RawMessage) (interface{}, error) {
		control.Restart()
		return map[string]interface{}{"restarting": true}, nil
	})

	d.Register("pause_daemon", func(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
		if err := control.PauseWorkflow(env.Name); err != nil {
			return nil, err
		}
		return map[string]interface{}{"environment": env.Name, "paused": true}, nil
	})

	d.Register("resume_daemon", func(ctx context.Context, _ *Conn, env *environment.Services, _ json.RawMessage) (interface{}, error) {
		if err := control.ResumeWorkflow(env.Name); err != nil {
			return nil, err
		}
		return map[string]interface{}{"environment": env.Name, "paused": false}, nil
	})
}
