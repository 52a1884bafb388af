package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/events/bus"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	log := newTestLogger(t)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	cfg := &config.Config{
		Environments: config.EnvironmentsConfig{
			BasePath: t.TempDir(),
			Names:    []string{"default"},
			Default:  "default",
		},
		Agent: config.AgentConfig{
			Transport:   "stub",
			TurnTimeout: 1,
		},
		Workflow: config.WorkflowConfig{
			TickInterval: 1,
			ErrorBackoff: 1,
			TestCommand:  "true",
			RepoPath:     ".",
		},
	}

	registry, err := environment.NewRegistry(cfg.Environments, eventBus, log)
	require.NoError(t, err)
	t.Cleanup(registry.CloseAll)

	return NewRunner(registry.Processing(), cfg, log)
}

func TestRunner_StatesAndPause(t *testing.T) {
	r := newTestRunner(t)

	states := r.States()
	require.Len(t, states, 1)
	assert.Equal(t, StateNewFeatureProposed, states["default"])

	require.NoError(t, r.Pause("default"))
	assert.Equal(t, StateNewFeatureProposed+" (paused)", r.States()["default"])

	require.NoError(t, r.Resume("default"))
	assert.Equal(t, StateNewFeatureProposed, r.States()["default"])
}

func TestRunner_UnknownEnvironment(t *testing.T) {
	r := newTestRunner(t)

	err := r.Pause("production")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.Error(t, r.Resume("production"))
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	r := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
