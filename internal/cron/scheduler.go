package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
)

// DefaultTickInterval is how often the scheduler re-evaluates every
// scheduled trigger looking for one that has come due.
const DefaultTickInterval = time.Second

// Scheduler evaluates every scheduled ActiveTrigger on a tick and pushes a
// models.Task into the queue when its cron expression comes due. A
// trigger's Schedule.Payload carries two well-known keys: "agent_ref"
// (string, required) and "input" (any, optional) — the task template this
// trigger instantiates on each fire.
type Scheduler struct {
	triggers *TriggerStore
	queue    *queue.Queue
	execs    ExecutionStore
	logger   *slog.Logger
	now      func() time.Time
	tick     time.Duration

	mu      sync.Mutex
	next    map[string]time.Time
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) { s.execs = store }
}

func withClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a Scheduler over a TriggerStore and the task queue it feeds.
func New(triggers *TriggerStore, q *queue.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		triggers: triggers,
		queue:    q,
		execs:    NewMemoryExecutionStore(),
		logger:   slog.Default(),
		now:      time.Now,
		tick:     DefaultTickInterval,
		next:     map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the evaluation loop; Stop or ctx cancellation ends it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the evaluation loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateOnce(ctx)
		}
	}
}

// evaluateOnce loads every scheduled trigger, computes or reuses its cached
// next-fire time, and enqueues a task for each one that has come due.
func (s *Scheduler) evaluateOnce(ctx context.Context) {
	triggers, err := s.triggers.ListScheduled()
	if err != nil {
		s.logger.Warn("cron: list scheduled triggers failed", "error", err)
		return
	}

	now := s.now()
	for _, t := range triggers {
		due, nextRun, err := s.dueNow(t, now)
		if err != nil {
			s.logger.Warn("cron: bad schedule", "trigger_id", t.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(ctx, t, now)
		s.setNext(t.ID, nextRun)
	}
}

func (s *Scheduler) dueNow(t models.ActiveTrigger, now time.Time) (bool, time.Time, error) {
	sched, err := ParseSchedule(*t.Schedule)
	if err != nil {
		return false, time.Time{}, err
	}

	s.mu.Lock()
	cached, ok := s.next[t.ID]
	s.mu.Unlock()
	if !ok {
		next := sched.Next(now.Add(-time.Nanosecond))
		return !next.After(now), sched.Next(next), nil
	}
	if cached.After(now) {
		return false, cached, nil
	}
	return true, sched.Next(now), nil
}

func (s *Scheduler) setNext(triggerID string, t time.Time) {
	s.mu.Lock()
	s.next[triggerID] = t
	s.mu.Unlock()
}

func (s *Scheduler) fire(ctx context.Context, trigger models.ActiveTrigger, at time.Time) {
	exec := &JobExecution{
		ID:        uuid.NewString(),
		JobID:     trigger.ID,
		Status:    ExecutionRunning,
		StartedAt: at,
	}
	s.execs.Create(ctx, exec)

	task, err := taskFromPayload(trigger)
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		exec.CompletedAt = s.now()
		s.execs.Update(ctx, exec)
		s.logger.Warn("cron: bad task template", "trigger_id", trigger.ID, "error", err)
		return
	}

	if _, err := s.queue.Push(task); err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		exec.CompletedAt = s.now()
		s.execs.Update(ctx, exec)
		s.logger.Warn("cron: enqueue failed", "trigger_id", trigger.ID, "error", err)
		return
	}

	if err := s.triggers.RecordFired(trigger.ID, models.NowMillis()); err != nil {
		s.logger.Warn("cron: record fired failed", "trigger_id", trigger.ID, "error", err)
	}

	exec.Status = ExecutionSucceeded
	exec.CompletedAt = s.now()
	exec.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	s.execs.Update(ctx, exec)

	s.logger.Info("cron: task enqueued", "trigger_id", trigger.ID, "task_id", task.ID, "agent_ref", task.AgentRef)
}

func taskFromPayload(trigger models.ActiveTrigger) (models.Task, error) {
	payload := trigger.Schedule.Payload
	agentRef, _ := payload["agent_ref"].(string)
	if agentRef == "" {
		return models.Task{}, fmt.Errorf("cron: trigger %s schedule payload missing agent_ref", trigger.ID)
	}
	return models.Task{
		ID:        uuid.NewString(),
		AgentRef:  agentRef,
		Input:     payload["input"],
		Status:    models.TaskPending,
		Priority:  models.PriorityNormal,
		CreatedAt: models.NowMillis(),
		Schedule:  trigger.Schedule,
	}, nil
}
