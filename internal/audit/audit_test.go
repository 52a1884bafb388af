package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndHistory(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Record(KindCreated, "task-1", "alice", nil))
	require.NoError(t, j.Record(KindStatusChanged, "task-1", "bob", map[string]interface{}{
		"from": "todo",
		"to":   "in-progress",
	}))
	require.NoError(t, j.Record(KindCreated, "task-2", "alice", nil))

	history, err := j.History("task-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, KindCreated, history[0].Kind)
	assert.Equal(t, KindStatusChanged, history[1].Kind)
	assert.Equal(t, "bob", history[1].Actor)
	assert.Equal(t, "in-progress", history[1].Details["to"])
	assert.Greater(t, history[1].Seq, history[0].Seq)
}

func TestJournal_QueryFilters(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Record(KindCreated, "task-1", "alice", nil))
	require.NoError(t, j.Record(KindUpdated, "task-1", "alice", nil))
	require.NoError(t, j.Record(KindDeleted, "task-2", "bob", nil))

	byActor, err := j.Query(Filter{Actor: "alice"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	byKind, err := j.Query(Filter{Kind: KindDeleted})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "task-2", byKind[0].TaskID)

	limited, err := j.Query(Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	future, err := j.Query(Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestJournal_Summarize(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Record(KindCreated, "task-1", "alice", nil))
	require.NoError(t, j.Record(KindUpdated, "task-1", "alice", nil))
	require.NoError(t, j.Record(KindUpdated, "task-1", "bob", nil))
	require.NoError(t, j.Record(KindCreated, "task-2", "bob", nil))

	s, err := j.Summarize()
	require.NoError(t, err)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.ByKind[KindCreated])
	assert.Equal(t, 2, s.ByKind[KindUpdated])
	assert.Equal(t, 2, s.ByActor["alice"])
	assert.Equal(t, 3, s.ByTask["task-1"])
	assert.False(t, s.Earliest.After(s.Latest))

	active, err := j.MostActive(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, active)
}

func TestJournal_Prune(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Record(KindCreated, "task-1", "alice", nil))

	// Everything is fresh, nothing should go.
	removed, err := j.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	entries, err := j.Query(Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Zero retention disables pruning entirely.
	removed, err = j.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestJournal_ClosedJournal(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Error(t, j.Record(KindCreated, "task-1", "alice", nil))
	_, err = j.Query(Filter{})
	assert.Error(t, err)
}
