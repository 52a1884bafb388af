package deps

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/task/models"
)

var baseTime = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newTask(id string, priority models.Priority, dependencies ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Title:        "Task " + id,
		Status:       models.StatusTodo,
		Priority:     priority,
		Dependencies: dependencies,
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestFindCycle(t *testing.T) {
	t.Run("acyclic", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("a", models.PriorityMedium),
			newTask("b", models.PriorityMedium, "a"),
			newTask("c", models.PriorityMedium, "a", "b"),
		}
		assert.Nil(t, FindCycle(tasks))
	})

	t.Run("two node cycle", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("a", models.PriorityMedium, "b"),
			newTask("b", models.PriorityMedium, "a"),
		}
		assert.Equal(t, []string{"a", "b", "a"}, FindCycle(tasks))
	})

	t.Run("self loop", func(t *testing.T) {
		tasks := []*models.Task{newTask("a", models.PriorityMedium, "a")}
		assert.Equal(t, []string{"a", "a"}, FindCycle(tasks))
	})

	t.Run("dangling edges are not cycles", func(t *testing.T) {
		tasks := []*models.Task{newTask("a", models.PriorityMedium, "ghost")}
		assert.Nil(t, FindCycle(tasks))
	})
}

func TestCheckWrite(t *testing.T) {
	existing := []*models.Task{
		newTask("a", models.PriorityMedium),
		newTask("b", models.PriorityMedium, "a"),
	}

	t.Run("valid edge", func(t *testing.T) {
		proposed := newTask("c", models.PriorityMedium, "b")
		assert.NoError(t, CheckWrite(existing, proposed))
	})

	t.Run("self dependency", func(t *testing.T) {
		proposed := newTask("c", models.PriorityMedium, "c")
		err := CheckWrite(existing, proposed)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSelfDependency, apperrors.CodeOf(err))
	})

	t.Run("missing dependency", func(t *testing.T) {
		proposed := newTask("c", models.PriorityMedium, "ghost")
		err := CheckWrite(existing, proposed)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeDependencyMissing, apperrors.CodeOf(err))
	})

	t.Run("closing edge rejected", func(t *testing.T) {
		// a gaining a dependency on b closes a -> b -> a.
		proposed := newTask("a", models.PriorityMedium, "b")
		err := CheckWrite(existing, proposed)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeCycleWouldForm, apperrors.CodeOf(err))
		// The snapshot passed in is untouched.
		assert.Empty(t, existing[0].Dependencies)
	})

	t.Run("replacing existing record", func(t *testing.T) {
		proposed := newTask("b", models.PriorityMedium)
		assert.NoError(t, CheckWrite(existing, proposed))
	})
}

func TestValidate(t *testing.T) {
	t.Run("clean graph", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("a", models.PriorityMedium),
			newTask("b", models.PriorityMedium, "a"),
		}
		result := Validate(tasks)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	t.Run("dangling reference is an error", func(t *testing.T) {
		tasks := []*models.Task{newTask("a", models.PriorityMedium, "ghost")}
		result := Validate(tasks)
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "non-existent")
	})

	t.Run("dependency on done task warns", func(t *testing.T) {
		done := newTask("a", models.PriorityMedium)
		done.Status = models.StatusDone
		tasks := []*models.Task{done, newTask("b", models.PriorityMedium, "a")}

		result := Validate(tasks)
		assert.True(t, result.Valid)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "completed")
	})

	t.Run("deep chain warns", func(t *testing.T) {
		tasks := []*models.Task{newTask("t00", models.PriorityMedium)}
		for i := 1; i <= maxChainDepth+1; i++ {
			tasks = append(tasks, newTask(
				fmt.Sprintf("t%02d", i), models.PriorityMedium, fmt.Sprintf("t%02d", i-1)))
		}
		result := Validate(tasks)
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "chain")
	})

	t.Run("cycle reported by title", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("a", models.PriorityMedium, "b"),
			newTask("b", models.PriorityMedium, "a"),
		}
		result := Validate(tasks)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "Task a -> Task b -> Task a")
	})
}

func TestTopologicalSort(t *testing.T) {
	t.Run("dependencies come first", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("c", models.PriorityHigh, "b"),
			newTask("b", models.PriorityHigh, "a"),
			newTask("a", models.PriorityLow),
		}
		ordered, err := TopologicalSort(tasks)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(ordered))
	})

	t.Run("ready ties break by priority then id", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("low", models.PriorityLow),
			newTask("high", models.PriorityHigh),
			newTask("med-b", models.PriorityMedium),
			newTask("med-a", models.PriorityMedium),
		}
		ordered, err := TopologicalSort(tasks)
		require.NoError(t, err)
		assert.Equal(t, []string{"high", "med-a", "med-b", "low"}, ids(ordered))
	})

	t.Run("older task wins inside a priority band", func(t *testing.T) {
		older := newTask("z-older", models.PriorityMedium)
		older.CreatedAt = baseTime.Add(-time.Hour)
		tasks := []*models.Task{newTask("a-newer", models.PriorityMedium), older}

		ordered, err := TopologicalSort(tasks)
		require.NoError(t, err)
		assert.Equal(t, []string{"z-older", "a-newer"}, ids(ordered))
	})

	t.Run("cyclic input errors", func(t *testing.T) {
		tasks := []*models.Task{
			newTask("a", models.PriorityMedium, "b"),
			newTask("b", models.PriorityMedium, "a"),
		}
		_, err := TopologicalSort(tasks)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeCycleWouldForm, apperrors.CodeOf(err))
	})
}

func TestSortByPriority(t *testing.T) {
	tasks := []*models.Task{
		newTask("low", models.PriorityLow),
		newTask("high", models.PriorityHigh),
		newTask("med", models.PriorityMedium),
	}
	ordered := SortByPriority(tasks)
	assert.Equal(t, []string{"high", "med", "low"}, ids(ordered))
	// Input order is preserved.
	assert.Equal(t, "low", tasks[0].ID)
}
