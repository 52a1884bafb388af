package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
)

// Loop drives one environment's state machine. Each loop owns its token and
// its agent session; loops never share state.
type Loop struct {
	env     string
	tasks   *environment.Services
	machine *Machine
	agents  *agent.Manager

	tick    time.Duration
	backoff time.Duration

	paused atomic.Bool
	mu     sync.Mutex
	token  Token

	logger *logger.Logger
}

// NewLoop builds a workflow loop for one environment with its own agent
// session manager and effect set.
func NewLoop(env *environment.Services, cfg *config.Config, log *logger.Logger) *Loop {
	agents := agent.NewManager(cfg.Agent, log)
	effects := NewActionSet(agents, env.Tasks, cfg.Workflow, log)
	return &Loop{
		env:     env.Name,
		tasks:   env,
		machine: BuildMachine(effects, log),
		agents:  agents,
		tick:    cfg.Workflow.TickDuration(),
		backoff: cfg.Workflow.BackoffDuration(),
		token:   Token{State: StateNewFeatureProposed},
		logger: log.WithFields(
			zap.String("component", "workflow_loop"),
			zap.String("environment", env.Name)),
	}
}

// Run ticks the loop until the context is canceled. Database-unavailable
// errors propagate so the daemon terminates and a supervisor restarts it;
// everything else is retried.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Workflow loop started",
		zap.Duration("tick", l.tick),
		zap.String("state", l.State()))
	defer l.agents.CloseSession()

	delay := l.tick
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Workflow loop stopped")
			return nil
		case <-time.After(delay):
		}

		if l.paused.Load() {
			delay = l.tick
			continue
		}

		err := l.step(ctx)
		switch {
		case err == nil:
			delay = l.tick
		case apperrors.IsFatal(err):
			l.logger.WithError(err).Error("Workflow loop fatal error")
			return err
		case apperrors.CodeOf(err) == apperrors.ErrCodeSessionTimeout,
			apperrors.CodeOf(err) == apperrors.ErrCodeTransport:
			// Agent hiccups retry from the same state on the normal cadence.
			l.logger.Warn("Agent effect failed, retrying next tick", zap.Error(err))
			delay = l.tick
		default:
			l.logger.Warn("Workflow tick failed, backing off", zap.Error(err))
			delay = l.backoff
		}
	}
}

func (l *Loop) step(ctx context.Context) error {
	snapshot, err := l.tasks.Store.Scan()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.machine.Step(ctx, snapshot, &l.token)
	return err
}

// Pause suspends the loop between ticks. Commands keep serving.
func (l *Loop) Pause() {
	l.paused.Store(true)
	l.logger.Info("Workflow loop paused")
}

// Resume lifts a pause.
func (l *Loop) Resume() {
	l.paused.Store(false)
	l.logger.Info("Workflow loop resumed")
}

// Paused reports the pause flag.
func (l *Loop) Paused() bool {
	return l.paused.Load()
}

// State returns the token's current state name.
func (l *Loop) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token.State
}

// Runner owns the workflow loops for every processing environment and maps
// daemon control verbs onto them.
type Runner struct {
	loops  map[string]*Loop
	logger *logger.Logger
}

// NewRunner builds one loop per processing environment.
func NewRunner(envs []*environment.Services, cfg *config.Config, log *logger.Logger) *Runner {
	loops := make(map[string]*Loop, len(envs))
	for _, env := range envs {
		loops[env.Name] = NewLoop(env, cfg, log)
	}
	return &Runner{
		loops:  loops,
		logger: log.WithFields(zap.String("component", "workflow_runner")),
	}
}

// Run starts every loop and blocks until all exit. A fatal loop error
// cancels the sibling loops through the group context.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range r.loops {
		loop := loop
		g.Go(func() error { return loop.Run(ctx) })
	}
	return g.Wait()
}

// Pause suspends one environment's loop.
func (r *Runner) Pause(env string) error {
	loop, ok := r.loops[env]
	if !ok {
		return apperrors.NotFound("workflow loop", env)
	}
	loop.Pause()
	return nil
}

// Resume lifts one environment's pause.
func (r *Runner) Resume(env string) error {
	loop, ok := r.loops[env]
	if !ok {
		return apperrors.NotFound("workflow loop", env)
	}
	loop.Resume()
	return nil
}

// States reports each loop's current state, marking paused loops.
func (r *Runner) States() map[string]string {
	out := make(map[string]string, len(r.loops))
	for env, loop := range r.loops {
		state := loop.State()
		if loop.Paused() {
			state += " (paused)"
		}
		out[env] = state
	}
	return out
}
