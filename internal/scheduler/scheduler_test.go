package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/service"
)

type fakeCreator struct {
	mu   sync.Mutex
	reqs []service.CreateTaskRequest
	err  error
}

func (f *fakeCreator) CreateTask(ctx context.Context, req service.CreateTaskRequest) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Task{ID: models.NewTaskID(), Title: req.Title}, nil
}

func newTestScheduler(t *testing.T, creator TaskCreator) *Scheduler {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	s, err := New(t.TempDir(), creator, log)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestValidateExpr(t *testing.T) {
	assert.NoError(t, ValidateExpr("*/5 * * * *"))
	assert.NoError(t, ValidateExpr("@hourly"))

	err := ValidateExpr("not a cron line")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestScheduler_AddGetListRemove(t *testing.T) {
	s := newTestScheduler(t, &fakeCreator{})

	sched, err := s.Add("nightly-report", "0 2 * * *", service.CreateTaskRequest{
		Title: "Generate nightly report",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.False(t, sched.Paused)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-report", got.Name)
	assert.Equal(t, "0 2 * * *", got.CronExpr)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Remove(sched.ID))
	_, err = s.Get(sched.ID)
	assert.True(t, apperrors.IsNotFound(err))

	err = s.Remove(sched.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScheduler_AddValidation(t *testing.T) {
	s := newTestScheduler(t, &fakeCreator{})

	_, err := s.Add("", "@daily", service.CreateTaskRequest{Title: "x"})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	_, err = s.Add("no-title", "@daily", service.CreateTaskRequest{})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	_, err = s.Add("bad-expr", "99 99 * * *", service.CreateTaskRequest{Title: "x"})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestScheduler_PauseResume(t *testing.T) {
	s := newTestScheduler(t, &fakeCreator{})

	sched, err := s.Add("weekly", "@weekly", service.CreateTaskRequest{Title: "weekly sweep"})
	require.NoError(t, err)

	paused, err := s.Pause(sched.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)

	s.mu.Lock()
	_, registered := s.entries[sched.ID]
	s.mu.Unlock()
	assert.False(t, registered)

	resumed, err := s.Resume(sched.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)

	s.mu.Lock()
	_, registered = s.entries[sched.ID]
	s.mu.Unlock()
	assert.True(t, registered)
}

func TestScheduler_FireRecordsOutcome(t *testing.T) {
	creator := &fakeCreator{}
	s := newTestScheduler(t, creator)

	sched, err := s.Add("fire-test", "@daily", service.CreateTaskRequest{Title: "fired task"})
	require.NoError(t, err)

	s.fire(sched.ID)

	require.Len(t, creator.reqs, 1)
	assert.Equal(t, "fired task", creator.reqs[0].Title)
	assert.Equal(t, "scheduler", creator.reqs[0].CreatedBy)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	require.NotNil(t, got.LastRun)
	assert.Empty(t, got.Failures)
}

func TestScheduler_FireLogsFailures(t *testing.T) {
	creator := &fakeCreator{err: errors.New("store is full")}
	s := newTestScheduler(t, creator)

	sched, err := s.Add("failing", "@daily", service.CreateTaskRequest{Title: "doomed"})
	require.NoError(t, err)

	s.fire(sched.ID)
	s.fire(sched.ID)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	require.Len(t, got.Failures, 2)
	assert.Contains(t, got.Failures[0].Error, "store is full")
}

func TestScheduler_PersistsAcrossReopen(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	dir := t.TempDir()

	s, err := New(dir, &fakeCreator{}, log)
	require.NoError(t, err)
	sched, err := s.Add("persistent", "@hourly", service.CreateTaskRequest{Title: "hourly"})
	require.NoError(t, err)
	s.Stop()

	reopened, err := New(dir, &fakeCreator{}, log)
	require.NoError(t, err)
	defer reopened.Stop()

	got, err := reopened.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Name)

	reopened.mu.Lock()
	_, registered := reopened.entries[sched.ID]
	reopened.mu.Unlock()
	assert.True(t, registered)
}

func TestScheduler_OptimizeOrder(t *testing.T) {
	s := newTestScheduler(t, &fakeCreator{})

	low, err := s.Add("cleanup", "@daily", service.CreateTaskRequest{Title: "cleanup", Priority: "low"})
	require.NoError(t, err)
	high, err := s.Add("backup", "@daily", service.CreateTaskRequest{Title: "backup", Priority: "high"})
	require.NoError(t, err)
	medFirst, err := s.Add("report-a", "@daily", service.CreateTaskRequest{Title: "report a", Priority: "medium"})
	require.NoError(t, err)
	medSecond, err := s.Add("report-b", "@daily", service.CreateTaskRequest{Title: "report b", Priority: "medium"})
	require.NoError(t, err)

	ordered, err := s.OptimizeOrder()
	require.NoError(t, err)
	require.Len(t, ordered, 4)

	// Priority weight first, creation time breaking ties inside a band.
	assert.Equal(t, high.ID, ordered[0].ID)
	assert.Equal(t, medFirst.ID, ordered[1].ID)
	assert.Equal(t, medSecond.ID, ordered[2].ID)
	assert.Equal(t, low.ID, ordered[3].ID)
}
