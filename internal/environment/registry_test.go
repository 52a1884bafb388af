package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events/bus"
)

func testConfig(t *testing.T, names ...string) config.EnvironmentsConfig {
	t.Helper()
	return config.EnvironmentsConfig{
		BasePath: t.TempDir(),
		Names:    names,
		Default:  names[0],
	}
}

func newTestRegistry(t *testing.T, cfg config.EnvironmentsConfig) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	r, err := NewRegistry(cfg, eventBus, log)
	require.NoError(t, err)
	t.Cleanup(r.CloseAll)
	return r
}

func TestRegistry_OpensAllEnvironments(t *testing.T) {
	r := newTestRegistry(t, testConfig(t, "default", "staging"))

	assert.Equal(t, []string{"default", "staging"}, r.Names())

	def, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "default", def.Name)
	require.NotNil(t, def.Store)
	require.NotNil(t, def.Journal)
	require.NotNil(t, def.Tasks)
	require.NotNil(t, def.Monitor)
	require.NotNil(t, def.Scheduler)

	staging, err := r.Resolve("staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", staging.Name)
	assert.NotEqual(t, def.Store.Path(), staging.Store.Path())
}

func TestRegistry_UnknownEnvironment(t *testing.T) {
	r := newTestRegistry(t, testConfig(t, "default"))

	_, err := r.Resolve("production")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_LockHeldPropagates(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	cfg := testConfig(t, "default")

	first, err := NewRegistry(cfg, eventBus, log)
	require.NoError(t, err)
	defer first.CloseAll()

	// The same directories are locked; a second daemon must refuse to start.
	_, err = NewRegistry(cfg, eventBus, log)
	require.Error(t, err)
	assert.True(t, apperrors.IsLockHeld(err))
}

func TestRegistry_Processing(t *testing.T) {
	cfg := testConfig(t, "default", "staging")
	cfg.Process = []string{"staging"}
	r := newTestRegistry(t, cfg)

	procs := r.Processing()
	require.Len(t, procs, 1)
	assert.Equal(t, "staging", procs[0].Name)

	cfg2 := testConfig(t, "default", "staging")
	cfg2.ProcessAll = true
	r2 := newTestRegistry(t, cfg2)
	assert.Len(t, r2.Processing(), 2)
}
