// Package scheduler runs recurring task creation on cron expressions.
//
// Each environment owns one Scheduler. Definitions persist in their own
// bbolt database so restarts pick schedules back up, and each definition
// keeps a bounded failure log for diagnostics.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/service"
)

var bucketSchedules = []byte("schedules")

const (
	lockTimeout = 500 * time.Millisecond

	// maxFailureLog bounds the per-schedule failure history.
	maxFailureLog = 20
)

// TaskCreator is the slice of the task service the scheduler needs.
type TaskCreator interface {
	CreateTask(ctx context.Context, req service.CreateTaskRequest) (*models.Task, error)
}

// Failure is one failed firing.
type Failure struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// Schedule is a persistent recurring task definition.
type Schedule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CronExpr string `json:"cronExpr"`
	// Template is instantiated into a new task on every firing.
	Template service.CreateTaskRequest `json:"template"`
	Paused   bool                      `json:"paused"`

	CreatedAt time.Time  `json:"createdAt"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	RunCount  int        `json:"runCount"`
	Failures  []Failure  `json:"failures,omitempty"`
}

// Scheduler owns the cron runner and the schedule store for one environment.
type Scheduler struct {
	creator TaskCreator
	cron    *cron.Cron
	db      *bolt.DB
	entries map[string]cron.EntryID
	mu      sync.Mutex
	logger  *logger.Logger
}

// New opens the schedule store under dir and registers every persisted,
// unpaused schedule with the cron runner. Start must be called to begin
// firing.
func New(dir string, creator TaskCreator, log *logger.Logger) (*Scheduler, error) {
	schedDir := filepath.Join(dir, "task-schedules")
	if err := os.MkdirAll(schedDir, 0755); err != nil {
		return nil, apperrors.Unknown("failed to create schedule directory", err)
	}

	db, err := bolt.Open(filepath.Join(schedDir, "schedules.db"), 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, apperrors.LockHeld(schedDir)
		}
		return nil, apperrors.Unknown("failed to open schedule store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSchedules)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Unknown("failed to create schedule bucket", err)
	}

	s := &Scheduler{
		creator: creator,
		cron:    cron.New(),
		db:      db,
		entries: make(map[string]cron.EntryID),
		logger:  log.WithFields(zap.String("component", "scheduler")),
	}

	schedules, err := s.List()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, sched := range schedules {
		if sched.Paused {
			continue
		}
		if err := s.register(sched); err != nil {
			s.logger.Warn("Skipping unschedulable persisted entry",
				zap.String("schedule_id", sched.ID),
				zap.Error(err))
		}
	}
	return s, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop halts firing and closes the schedule store. Running jobs finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	s.logger.Info("Scheduler stopped")
}

// ValidateExpr checks a cron expression without registering anything.
func ValidateExpr(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return apperrors.Validation("cronExpr: " + err.Error())
	}
	return nil
}

// Add validates and persists a new schedule, registering it immediately.
func (s *Scheduler) Add(name, expr string, template service.CreateTaskRequest) (*Schedule, error) {
	if name == "" {
		return nil, apperrors.Validation("name must not be empty")
	}
	if template.Title == "" {
		return nil, apperrors.Validation("template.title must not be empty")
	}
	if err := ValidateExpr(expr); err != nil {
		return nil, err
	}

	sched := &Schedule{
		ID:        "sched-" + uuid.New().String()[:8],
		Name:      name,
		CronExpr:  expr,
		Template:  template,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.put(sched); err != nil {
		return nil, err
	}
	if err := s.register(sched); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule added",
		zap.String("schedule_id", sched.ID),
		zap.String("cron", expr))
	return sched, nil
}

// Update replaces a schedule's name, expression or template.
func (s *Scheduler) Update(id, name, expr string, template *service.CreateTaskRequest) (*Schedule, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		sched.Name = name
	}
	if expr != "" {
		if err := ValidateExpr(expr); err != nil {
			return nil, err
		}
		sched.CronExpr = expr
	}
	if template != nil {
		if template.Title == "" {
			return nil, apperrors.Validation("template.title must not be empty")
		}
		sched.Template = *template
	}

	if err := s.put(sched); err != nil {
		return nil, err
	}
	s.unregister(id)
	if !sched.Paused {
		if err := s.register(sched); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Remove deletes a schedule and stops its firings.
func (s *Scheduler) Remove(id string) error {
	if s.db == nil {
		return apperrors.DatabaseNotOpen()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		if b.Get([]byte(id)) == nil {
			return apperrors.NotFound("schedule", id)
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	s.unregister(id)
	s.logger.Info("Schedule removed", zap.String("schedule_id", id))
	return nil
}

// Pause stops firings without deleting the definition.
func (s *Scheduler) Pause(id string) (*Schedule, error) {
	return s.setPaused(id, true)
}

// Resume re-registers a paused schedule.
func (s *Scheduler) Resume(id string) (*Schedule, error) {
	return s.setPaused(id, false)
}

func (s *Scheduler) setPaused(id string, paused bool) (*Schedule, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sched.Paused == paused {
		return sched, nil
	}
	sched.Paused = paused
	if err := s.put(sched); err != nil {
		return nil, err
	}
	if paused {
		s.unregister(id)
	} else if err := s.register(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Get loads one schedule.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	if s.db == nil {
		return nil, apperrors.DatabaseNotOpen()
	}
	var sched Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(id))
		if data == nil {
			return apperrors.NotFound("schedule", id)
		}
		return json.Unmarshal(data, &sched)
	})
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// List returns every schedule ordered by creation time.
func (s *Scheduler) List() ([]*Schedule, error) {
	if s.db == nil {
		return nil, apperrors.DatabaseNotOpen()
	}
	schedules := []*Schedule{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var sched Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			schedules = append(schedules, &sched)
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list schedules")
	}
	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		}
		return schedules[i].ID < schedules[j].ID
	})
	return schedules, nil
}

// OptimizeOrder returns the schedules in recommended firing order, using the
// same tie-break the dependency engine applies to ready tasks: template
// priority high before low, then creation time, then id. Schedule templates
// carry no edges between each other, so the ready-set ordering is the whole
// ordering.
func (s *Scheduler) OptimizeOrder() ([]*Schedule, error) {
	schedules, err := s.List()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		wi := models.PriorityWeight(models.Priority(schedules[i].Template.Priority))
		wj := models.PriorityWeight(models.Priority(schedules[j].Template.Priority))
		if wi != wj {
			return wi > wj
		}
		if !schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		}
		return schedules[i].ID < schedules[j].ID
	})
	return schedules, nil
}

// register adds a schedule to the cron runner.
func (s *Scheduler) register(sched *Schedule) error {
	id := sched.ID
	entryID, err := s.cron.AddFunc(sched.CronExpr, func() { s.fire(id) })
	if err != nil {
		return apperrors.Validation("cronExpr: " + err.Error())
	}
	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

// unregister removes a schedule from the cron runner.
func (s *Scheduler) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire instantiates the template into a new task and records the outcome on
// the schedule.
func (s *Scheduler) fire(id string) {
	sched, err := s.Get(id)
	if err != nil {
		s.logger.Warn("Firing for missing schedule", zap.String("schedule_id", id), zap.Error(err))
		return
	}

	req := sched.Template
	if req.CreatedBy == "" {
		req.CreatedBy = "scheduler"
	}

	_, createErr := s.creator.CreateTask(context.Background(), req)

	now := time.Now().UTC()
	sched.LastRun = &now
	sched.RunCount++
	if createErr != nil {
		sched.Failures = append(sched.Failures, Failure{Timestamp: now, Error: createErr.Error()})
		if len(sched.Failures) > maxFailureLog {
			sched.Failures = sched.Failures[len(sched.Failures)-maxFailureLog:]
		}
		s.logger.Error("Scheduled task creation failed",
			zap.String("schedule_id", id),
			zap.Error(createErr))
	}
	if err := s.put(sched); err != nil {
		s.logger.Warn("Failed to persist schedule outcome",
			zap.String("schedule_id", id),
			zap.Error(err))
	}
}

func (s *Scheduler) put(sched *Schedule) error {
	if s.db == nil {
		return apperrors.DatabaseNotOpen()
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return apperrors.Unknown("failed to marshal schedule", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(sched.ID), data)
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to write schedule")
	}
	return nil
}
