package workflow

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/service"
)

// ActionSet is the production EffectSet: agent turns through the session
// manager, test and commit effects through subprocesses in the configured
// working tree, task completion through the task service.
type ActionSet struct {
	agents *agent.Manager
	tasks  *service.Service
	cfg    config.WorkflowConfig
	logger *logger.Logger
}

// NewActionSet wires the production effects for one environment.
func NewActionSet(agents *agent.Manager, tasks *service.Service, cfg config.WorkflowConfig, log *logger.Logger) *ActionSet {
	return &ActionSet{
		agents: agents,
		tasks:  tasks,
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "workflow_effects")),
	}
}

// AgentTurn returns an effect running one prompt against the given profile.
func (a *ActionSet) AgentTurn(profile, prompt string) Effect {
	return &agentTurnEffect{set: a, profile: profile, prompt: prompt}
}

// TestRun returns the local test effect.
func (a *ActionSet) TestRun() Effect {
	return &testRunEffect{set: a}
}

// Commit returns the local commit effect.
func (a *ActionSet) Commit() Effect {
	return &commitEffect{set: a}
}

// FinishTasks returns the effect that marks in-progress tasks done.
func (a *ActionSet) FinishTasks() Effect {
	return &finishTasksEffect{set: a}
}

type agentTurnEffect struct {
	set     *ActionSet
	profile string
	prompt  string
}

func (e *agentTurnEffect) Name() string {
	return fmt.Sprintf("agent-turn[%s]", e.profile)
}

func (e *agentTurnEffect) Run(ctx context.Context, token *Token) error {
	result, err := e.set.agents.RunTurn(ctx, e.profile, e.prompt, map[string]interface{}{
		"state": token.State,
	})
	if err != nil {
		return err
	}
	token.Context.LastAgentOutput = result.Output
	token.Context.Turns++
	return nil
}

type testRunEffect struct {
	set *ActionSet
}

func (e *testRunEffect) Name() string { return "test-run" }

// Run executes the configured test command and records the outcome in the
// token context. A failing test suite is a recorded result, not an error;
// the tests-completed decider branches on it.
func (e *testRunEffect) Run(ctx context.Context, token *Token) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.set.cfg.TestCommand)
	cmd.Dir = e.set.cfg.RepoPath
	output, err := cmd.CombinedOutput()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	result := &TestResult{
		Passed: err == nil,
		Output: string(output),
		RanAt:  time.Now().UTC(),
	}
	token.Context.LastTestResult = result

	e.set.logger.Info("Test run finished",
		zap.Bool("passed", result.Passed),
		zap.Int("output_bytes", len(result.Output)))
	return nil
}

type commitEffect struct {
	set *ActionSet
}

func (e *commitEffect) Name() string { return "commit" }

// Run commits pending changes in the working tree. A clean tree and a
// disabled commit gate are both no-ops.
func (e *commitEffect) Run(ctx context.Context, token *Token) error {
	if !e.set.cfg.CommitEnabled {
		return nil
	}

	status := exec.CommandContext(ctx, "git", "status", "--porcelain")
	status.Dir = e.set.cfg.RepoPath
	out, err := status.Output()
	if err != nil {
		return fmt.Errorf("git status failed: %w", err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil
	}

	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = e.set.cfg.RepoPath
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %w: %s", err, out)
	}

	message := fmt.Sprintf("Apply workflow changes after %d agent turns", token.Context.Turns)
	commit := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commit.Dir = e.set.cfg.RepoPath
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %w: %s", err, out)
	}

	e.set.logger.Info("Committed working tree", zap.String("message", message))
	return nil
}

type finishTasksEffect struct {
	set *ActionSet
}

func (e *finishTasksEffect) Name() string { return "finish-tasks" }

// Run marks every in-progress task done. Runs after a passing test cycle, so
// in-progress work is by definition complete.
func (e *finishTasksEffect) Run(ctx context.Context, token *Token) error {
	tasks, err := e.set.tasks.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != models.StatusInProgress {
			continue
		}
		if _, err := e.set.tasks.SetStatus(ctx, t.ID, string(models.StatusDone), "workflow"); err != nil {
			return err
		}
	}
	return nil
}
