// Package audit keeps an append-only journal of task mutations.
//
// The journal lives in its own bbolt database next to the task store so a
// corrupt or slow journal can never hold up task writes. Entries are keyed
// by a monotonically increasing sequence number.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
)

var bucketEntries = []byte("entries")

const lockTimeout = 500 * time.Millisecond

// Kinds of journal entries, one per task mutation.
const (
	KindCreated         = "created"
	KindUpdated         = "updated"
	KindStatusChanged   = "status_changed"
	KindPriorityChanged = "priority_changed"
	KindDeleted         = "deleted"
)

// Entry is one journal record.
type Entry struct {
	Seq       uint64                 `json:"seq"`
	Kind      string                 `json:"kind"`
	TaskID    string                 `json:"taskId"`
	Actor     string                 `json:"actor"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	TaskID string
	Actor  string
	Kind   string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Summary aggregates the journal for reporting.
type Summary struct {
	Total    int            `json:"total"`
	ByKind   map[string]int `json:"byKind"`
	ByActor  map[string]int `json:"byActor"`
	ByTask   map[string]int `json:"byTask"`
	Earliest time.Time      `json:"earliest"`
	Latest   time.Time      `json:"latest"`
}

// Journal is an append-only audit log for one environment.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the audit journal under dir. The
// journal gets its own subdirectory so backup tooling can treat it
// independently of the task store.
func Open(dir string) (*Journal, error) {
	auditDir := filepath.Join(dir, "task-audit")
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return nil, apperrors.Unknown("failed to create audit directory", err)
	}

	dbPath := filepath.Join(auditDir, "audit.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, apperrors.LockHeld(auditDir)
		}
		return nil, apperrors.Unknown("failed to open audit journal", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Unknown("failed to create audit bucket", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the journal database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record appends one entry. The sequence number and timestamp are assigned
// here; callers supply kind, task id, actor and optional details.
func (j *Journal) Record(kind, taskID, actor string, details map[string]interface{}) error {
	if j.db == nil {
		return apperrors.DatabaseNotOpen()
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := Entry{
			Seq:       seq,
			Kind:      kind,
			TaskID:    taskID,
			Actor:     actor,
			Timestamp: time.Now().UTC(),
			Details:   details,
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to append audit entry")
	}
	return nil
}

// Query returns matching entries in sequence order.
func (j *Journal) Query(f Filter) ([]Entry, error) {
	if j.db == nil {
		return nil, apperrors.DatabaseNotOpen()
	}
	entries := []Entry{}
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !matches(&e, f) {
				continue
			}
			entries = append(entries, e)
			if f.Limit > 0 && len(entries) >= f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query audit journal")
	}
	return entries, nil
}

// History returns every entry for one task, oldest first.
func (j *Journal) History(taskID string) ([]Entry, error) {
	return j.Query(Filter{TaskID: taskID})
}

// Summarize aggregates the whole journal.
func (j *Journal) Summarize() (*Summary, error) {
	entries, err := j.Query(Filter{})
	if err != nil {
		return nil, err
	}
	s := &Summary{
		Total:   len(entries),
		ByKind:  map[string]int{},
		ByActor: map[string]int{},
		ByTask:  map[string]int{},
	}
	for i, e := range entries {
		s.ByKind[e.Kind]++
		s.ByActor[e.Actor]++
		s.ByTask[e.TaskID]++
		if i == 0 || e.Timestamp.Before(s.Earliest) {
			s.Earliest = e.Timestamp
		}
		if e.Timestamp.After(s.Latest) {
			s.Latest = e.Timestamp
		}
	}
	return s, nil
}

// MostActive returns up to n task ids ordered by entry count descending,
// ties by id.
func (j *Journal) MostActive(n int) ([]string, error) {
	s, err := j.Summarize()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.ByTask))
	for id := range s.ByTask {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		if s.ByTask[ids[a]] != s.ByTask[ids[b]] {
			return s.ByTask[ids[a]] > s.ByTask[ids[b]]
		}
		return ids[a] < ids[b]
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

// Prune deletes entries older than the retention window and returns how
// many were removed.
func (j *Journal) Prune(retentionDays int) (int, error) {
	if j.db == nil {
		return 0, apperrors.DatabaseNotOpen()
	}
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Timestamp.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to prune audit journal")
	}
	return removed, nil
}

func matches(e *Entry, f Filter) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
