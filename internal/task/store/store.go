// Package store provides the embedded task store backed by bbolt.
//
// Each environment directory owns exactly one store. bbolt takes an
// exclusive file lock on open, which gives the one-daemon-per-directory
// guarantee: a second open attempt times out and is surfaced as LockHeld.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/task/models"
)

var bucketTasks = []byte("tasks")

// lockTimeout bounds how long Open waits for the directory's file lock
// before concluding another daemon owns it.
const lockTimeout = 500 * time.Millisecond

// Store is a durable, ordered mapping from task id to Task.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if necessary) the task store in dir. It fails fast
// with LockHeld when another process owns the directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Unknown("failed to create store directory", err)
	}

	dbPath := filepath.Join(dir, "tasks.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, apperrors.LockHeld(dir)
		}
		return nil, apperrors.Unknown("failed to open store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Unknown("failed to create tasks bucket", err)
	}

	return &Store{db: db, path: dir}, nil
}

// Path returns the environment directory this store owns.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database and its file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put writes a task keyed by its id. Writes are atomic per key.
func (s *Store) Put(task *models.Task) error {
	if s.db == nil {
		return apperrors.DatabaseNotOpen()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return apperrors.Unknown("failed to marshal task", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
	if err != nil {
		return apperrors.Unknown("failed to write task", err)
	}
	return nil
}

// Get retrieves a task by id, normalizing legacy records.
func (s *Store) Get(id string) (*models.Task, error) {
	if s.db == nil {
		return nil, apperrors.DatabaseNotOpen()
	}
	var task models.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return apperrors.NotFound("task", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, "failed to read task")
	}
	task.Normalize()
	return &task, nil
}

// Delete removes a task by id. Deleting an absent id returns NotFound
// without mutating state.
func (s *Store) Delete(id string) error {
	if s.db == nil {
		return apperrors.DatabaseNotOpen()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get([]byte(id)) == nil {
			return apperrors.NotFound("task", id)
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return err
		}
		return apperrors.Wrap(err, "failed to delete task")
	}
	return nil
}

// Scan returns every task ordered by creation time (then id for equal
// timestamps). The cursor is fully consumed inside the read transaction so
// iterator resources are always released.
func (s *Store) Scan() ([]*models.Task, error) {
	if s.db == nil {
		return nil, apperrors.DatabaseNotOpen()
	}
	var tasks []*models.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var task models.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			task.Normalize()
			tasks = append(tasks, &task)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan tasks")
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// Count returns the number of stored tasks.
func (s *Store) Count() (int, error) {
	if s.db == nil {
		return 0, apperrors.DatabaseNotOpen()
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTasks).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count tasks")
	}
	return n, nil
}
