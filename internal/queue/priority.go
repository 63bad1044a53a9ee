package queue

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restflow/restflow/internal/models"
)

// Stats holds atomic counters for the in-memory priority queue variant.
type Stats struct {
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64

	totalExecMs int64
	execCount   int64
	totalWaitMs int64
	waitCount   int64
}

func (s *Stats) recordExec(d time.Duration) {
	atomic.AddInt64(&s.totalExecMs, d.Milliseconds())
	atomic.AddInt64(&s.execCount, 1)
}

func (s *Stats) recordWait(d time.Duration) {
	atomic.AddInt64(&s.totalWaitMs, d.Milliseconds())
	atomic.AddInt64(&s.waitCount, 1)
}

// AvgExecMs returns the average execution duration observed so far.
func (s *Stats) AvgExecMs() int64 {
	if n := atomic.LoadInt64(&s.execCount); n > 0 {
		return atomic.LoadInt64(&s.totalExecMs) / n
	}
	return 0
}

// AvgWaitMs returns the average queue-wait duration observed so far.
func (s *Stats) AvgWaitMs() int64 {
	if n := atomic.LoadInt64(&s.waitCount); n > 0 {
		return atomic.LoadInt64(&s.totalWaitMs) / n
	}
	return 0
}

// entry wraps a task with the time it was enqueued, for wait-time stats.
type entry struct {
	task      models.Task
	enqueued  time.Time
}

// PriorityQueue is the high-performance in-memory variant: one FIFO per
// priority class, drained strictly Critical > High > Normal > Low, guarded
// by a semaphore limiting in-flight work (SPEC_FULL §4.2).
type PriorityQueue struct {
	mu    sync.Mutex
	lanes map[models.Priority]*list.List
	wake  chan struct{}
	sem   chan struct{}

	Stats Stats
}

// classOrder is Critical, High, Normal, Low — S2's required pop order.
var classOrder = []models.Priority{
	models.PriorityCritical,
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityLow,
}

// NewPriorityQueue builds an in-memory queue whose Acquire/Release pair caps
// concurrency at maxInFlight.
func NewPriorityQueue(maxInFlight int) *PriorityQueue {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	lanes := make(map[models.Priority]*list.List, len(classOrder))
	for _, p := range classOrder {
		lanes[p] = list.New()
	}
	return &PriorityQueue{
		lanes: lanes,
		wake:  make(chan struct{}, 1),
		sem:   make(chan struct{}, maxInFlight),
	}
}

// Push enqueues a task into its priority class's FIFO.
func (q *PriorityQueue) Push(task models.Task) {
	q.mu.Lock()
	q.lanes[task.Priority].PushBack(entry{task: task, enqueued: time.Now()})
	q.mu.Unlock()
	atomic.AddInt64(&q.Stats.Pending, 1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// tryPop returns the front of the highest-priority non-empty lane.
func (q *PriorityQueue) tryPop() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range classOrder {
		lane := q.lanes[p]
		if el := lane.Front(); el != nil {
			lane.Remove(el)
			e := el.Value.(entry)
			q.Stats.recordWait(time.Since(e.enqueued))
			return e.task, true
		}
	}
	return models.Task{}, false
}

// Acquire blocks until a concurrency permit and a task are both available,
// in that order, matching the runner's "acquire permit then pop" sequence
// (SPEC_FULL §4.8).
func (q *PriorityQueue) Acquire(ctx context.Context) (models.Task, func(success bool, dur time.Duration), error) {
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return models.Task{}, nil, ctx.Err()
	}
	for {
		if task, ok := q.tryPop(); ok {
			atomic.AddInt64(&q.Stats.Pending, -1)
			atomic.AddInt64(&q.Stats.Running, 1)
			release := func(success bool, dur time.Duration) {
				<-q.sem
				atomic.AddInt64(&q.Stats.Running, -1)
				q.Stats.recordExec(dur)
				if success {
					atomic.AddInt64(&q.Stats.Completed, 1)
				} else {
					atomic.AddInt64(&q.Stats.Failed, 1)
				}
			}
			return task, release, nil
		}
		select {
		case <-ctx.Done():
			<-q.sem
			return models.Task{}, nil, ctx.Err()
		case <-q.wake:
		}
	}
}
