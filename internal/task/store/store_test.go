package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/task/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testTask(id string) *models.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Task{
		ID:           id,
		Title:        "Task " + id,
		Status:       models.StatusTodo,
		Priority:     models.PriorityMedium,
		Type:         models.TypeTask,
		Dependencies: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	st := openTestStore(t)

	task := testTask("task-1")
	task.Description = "build the thing"
	require.NoError(t, st.Put(task))

	got, err := st.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, task.CreatedAt, got.CreatedAt)
}

func TestStore_GetMissing(t *testing.T) {
	st := openTestStore(t)

	_, err := st.Get("task-missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestStore_DeleteIsNotIdempotent(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.Put(testTask("task-1")))

	require.NoError(t, st.Delete("task-1"))

	err := st.Delete("task-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestStore_ScanOrdersByCreationTime(t *testing.T) {
	st := openTestStore(t)

	older := testTask("task-z")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := testTask("task-a")
	require.NoError(t, st.Put(newer))
	require.NoError(t, st.Put(older))

	tasks, err := st.Scan()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-z", tasks[0].ID)
	assert.Equal(t, "task-a", tasks[1].ID)
}

func TestStore_Count(t *testing.T) {
	st := openTestStore(t)

	n, err := st.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, st.Put(testTask("task-1")))
	require.NoError(t, st.Put(testTask("task-2")))

	n, err = st.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_SecondOpenReportsLockHeld(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	_, err = Open(dir)
	require.Error(t, err)
	assert.True(t, apperrors.IsLockHeld(err))
}

func TestStore_ReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.Put(testTask("task-1")))
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, "Task task-1", got.Title)
}

func TestStore_ClosedStoreReportsDatabaseNotOpen(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = st.Get("task-1")
	assert.Equal(t, apperrors.ErrCodeDatabaseNotOpen, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.ErrCodeDatabaseNotOpen, apperrors.CodeOf(st.Put(testTask("x"))))
	_, err = st.Scan()
	assert.Equal(t, apperrors.ErrCodeDatabaseNotOpen, apperrors.CodeOf(err))
}

// Legacy records written by older daemons may lack priority, status and
// dependency fields; reads normalize instead of failing.
func TestStore_LegacyRecordNormalizedOnRead(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	legacy := map[string]interface{}{
		"id":        "task-legacy",
		"title":     "old record",
		"createdAt": time.Now().UTC(),
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte("task-legacy"), raw)
	}))

	got, err := st.Get("task-legacy")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTodo, got.Status)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.NotNil(t, got.Dependencies)

	tasks, err := st.Scan()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.PriorityMedium, tasks[0].Priority)
}
