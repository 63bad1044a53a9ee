// Package queue implements the durable task queue (SPEC_FULL §4.2): a
// three-table design over internal/kvstore so pop is an ordered-key read
// rather than a scan, grounded on the canonical redb design in
// original_source/backend/src/storage/queue.rs.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/models"
)

// ErrQueueFull is returned by Push when max_queue_size would be exceeded.
var ErrQueueFull = errors.New("queue: full")

// ErrNotFound is returned when a task id is absent from all three tables.
var ErrNotFound = errors.New("queue: task not found")

const (
	tblPending    = "pending"
	tblProcessing = "processing"
	tblCompleted  = "completed"

	// DefaultStallTimeout is how long a task may sit in processing before
	// recover_stalled resets it to pending.
	DefaultStallTimeout = 5 * time.Minute
)

// Clock abstracts time for deterministic stall-recovery tests.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Queue is the KV-backed three-table task queue.
type Queue struct {
	store *kvstore.Store
	clock Clock

	mu          sync.Mutex
	maxQueue    int
	pendingSize int

	wake chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the queue's time source.
func WithClock(c Clock) Option { return func(q *Queue) { q.clock = c } }

// WithMaxQueueSize sets a hard cap on pending entries; 0 means unbounded.
func WithMaxQueueSize(n int) Option { return func(q *Queue) { q.maxQueue = n } }

// New constructs a Queue over an already-open KV store.
func New(store *kvstore.Store, opts ...Option) (*Queue, error) {
	q := &Queue{store: store, clock: realClock{}, wake: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(q)
	}
	if q.maxQueue > 0 {
		n, err := q.countLocked(tblPending)
		if err != nil {
			return nil, err
		}
		q.pendingSize = n
	}
	return q, nil
}

func (q *Queue) countLocked(table string) (int, error) {
	n := 0
	err := q.store.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(table).ForEach(func(_, _ []byte) error { n++; return nil })
	})
	return n, err
}

// priorityKey derives the 64-bit ordered key from a millisecond timestamp.
func priorityKey(ms int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	return b[:]
}

// Push submits a task: it is assigned an id if missing, stamped Pending with
// created_at=now, and written to pending in one commit. One blocked waiter
// (if any) is woken.
func (q *Queue) Push(task models.Task) (models.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.ExecutionID == "" {
		task.ExecutionID = task.ID
	}
	task.Status = models.TaskPending
	task.CreatedAt = models.NowMillis()
	task.StartedAt = 0
	task.CompletedAt = 0

	q.mu.Lock()
	if q.maxQueue > 0 && q.pendingSize >= q.maxQueue {
		q.mu.Unlock()
		return models.Task{}, ErrQueueFull
	}
	q.mu.Unlock()

	data, err := json.Marshal(task)
	if err != nil {
		return models.Task{}, fmt.Errorf("queue: marshal task: %w", err)
	}
	key := priorityKey(task.CreatedAt)
	if err := q.store.Update(func(tx *kvstore.Tx) error {
		b := tx.Bucket(tblPending)
		// Disambiguate same-millisecond collisions by appending the id.
		for b.Get(key) != nil {
			key = append(key, task.ID...)
		}
		return b.Put(key, data)
	}); err != nil {
		return models.Task{}, err
	}

	q.mu.Lock()
	q.pendingSize++
	q.mu.Unlock()
	q.notify()
	return task, nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryPop attempts a single non-blocking pop: the first pending entry (in key
// order) is moved to processing, stamped Running with started_at=now, inside
// one write transaction. Returns (task, true) on success, (_, false) if
// pending is empty.
func (q *Queue) TryPop() (models.Task, bool, error) {
	var (
		task   models.Task
		popped bool
	)
	err := q.store.Update(func(tx *kvstore.Tx) error {
		pending := tx.Bucket(tblPending)
		c := pending.Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		if err := json.Unmarshal(v, &task); err != nil {
			return fmt.Errorf("queue: unmarshal pending task: %w", err)
		}
		task.Status = models.TaskRunning
		task.StartedAt = models.NowMillis()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := pending.Delete(k); err != nil {
			return err
		}
		if err := tx.Bucket(tblProcessing).Put([]byte(task.ID), data); err != nil {
			return err
		}
		popped = true
		return nil
	})
	if err != nil {
		return models.Task{}, false, err
	}
	if popped {
		q.mu.Lock()
		if q.pendingSize > 0 {
			q.pendingSize--
		}
		q.mu.Unlock()
	}
	return task, popped, nil
}

// PopBlocking waits until a task is available or ctx is done. The wake
// channel has capacity 1 so a notification posted between the emptiness
// check and the select is never lost: Push always sends non-blockingly
// after committing, and a waiter that is already parked on the select will
// receive it even if TryPop had just failed.
func (q *Queue) PopBlocking(ctx context.Context) (models.Task, error) {
	for {
		task, ok, err := q.TryPop()
		if err != nil {
			return models.Task{}, err
		}
		if ok {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return models.Task{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Complete moves a processing task to completed with output and status
// Completed, in one write transaction.
func (q *Queue) Complete(taskID string, output any) error {
	return q.finish(taskID, func(t *models.Task) {
		t.Status = models.TaskCompleted
		t.Output = output
	})
}

// Fail moves a processing task to completed with the given error and status
// Failed, in one write transaction.
func (q *Queue) Fail(taskID string, taskErr string) error {
	return q.finish(taskID, func(t *models.Task) {
		t.Status = models.TaskFailed
		t.Error = taskErr
	})
}

func (q *Queue) finish(taskID string, mutate func(*models.Task)) error {
	return q.store.Update(func(tx *kvstore.Tx) error {
		processing := tx.Bucket(tblProcessing)
		v := processing.Get([]byte(taskID))
		if v == nil {
			return ErrNotFound
		}
		var task models.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		mutate(&task)
		task.CompletedAt = models.NowMillis()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := processing.Delete([]byte(taskID)); err != nil {
			return err
		}
		return tx.Bucket(tblCompleted).Put([]byte(taskID), data)
	})
}

// Get looks up a task across processing, then completed, then pending
// (scanned), matching the spec's lookup order.
func (q *Queue) Get(taskID string) (models.Task, error) {
	var task models.Task
	found := false
	err := q.store.View(func(tx *kvstore.Tx) error {
		if v := tx.Bucket(tblProcessing).Get([]byte(taskID)); v != nil {
			found = true
			return json.Unmarshal(v, &task)
		}
		if v := tx.Bucket(tblCompleted).Get([]byte(taskID)); v != nil {
			found = true
			return json.Unmarshal(v, &task)
		}
		return tx.Bucket(tblPending).ForEach(func(_, v []byte) error {
			if found {
				return nil
			}
			var t models.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ID == taskID {
				task = t
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return models.Task{}, err
	}
	if !found {
		return models.Task{}, ErrNotFound
	}
	return task, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	ExecutionID string
	Status      models.TaskStatus
}

func (f ListFilter) matches(t models.Task) bool {
	if f.ExecutionID != "" && t.ExecutionID != f.ExecutionID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// List iterates all three tables, applies filter, and sorts by created_at
// descending.
func (q *Queue) List(filter ListFilter) ([]models.Task, error) {
	var out []models.Task
	err := q.store.View(func(tx *kvstore.Tx) error {
		for _, table := range []string{tblPending, tblProcessing, tblCompleted} {
			if err := tx.Bucket(table).ForEach(func(_, v []byte) error {
				var t models.Task
				if err := json.Unmarshal(v, &t); err != nil {
					return err
				}
				if filter.matches(t) {
					out = append(out, t)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// RecoverStalled resets every processing entry whose age exceeds timeout
// back to pending with a fresh priority key, inside one write transaction,
// and wakes one waiter per recovered task. Calling it twice without
// intervening pushes is a no-op the second time, since the first call has
// already emptied processing of stale entries.
func (q *Queue) RecoverStalled(timeout time.Duration) (int, error) {
	now := q.clock.Now().UnixMilli()
	var recovered int
	err := q.store.Update(func(tx *kvstore.Tx) error {
		processing := tx.Bucket(tblProcessing)
		pending := tx.Bucket(tblPending)

		var stale [][2][]byte
		if err := processing.ForEach(func(k, v []byte) error {
			var t models.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.StartedAt > 0 && now-t.StartedAt > timeout.Milliseconds() {
				stale = append(stale, [2][]byte{append([]byte(nil), k...), append([]byte(nil), v...)})
			}
			return nil
		}); err != nil {
			return err
		}

		for _, kv := range stale {
			var t models.Task
			if err := json.Unmarshal(kv[1], &t); err != nil {
				return err
			}
			t.Status = models.TaskPending
			t.StartedAt = 0
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := processing.Delete(kv[0]); err != nil {
				return err
			}
			key := priorityKey(models.NowMillis())
			for pending.Get(key) != nil {
				key = append(key, t.ID...)
			}
			if err := pending.Put(key, data); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		q.mu.Lock()
		q.pendingSize += recovered
		q.mu.Unlock()
		q.notify()
	}
	return recovered, nil
}
