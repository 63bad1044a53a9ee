// Package runner drains the task queue with a bounded worker pool, dispatching
// each popped task to an agent executor and reporting progress and audit
// events as it runs.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/restflow/restflow/internal/audit"
	"github.com/restflow/restflow/internal/executor"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
	"github.com/restflow/restflow/internal/tools"
	"github.com/restflow/restflow/internal/workingmem"
)

// AgentDefinition is the resolved configuration an executor needs to run a
// task: model, system prompt, and resource limits. It corresponds to the
// agent_ref a task carries.
type AgentDefinition struct {
	ID                  string
	Model               string
	System              string
	MaxIterations       int
	ToolTimeout         time.Duration
	MaxToolResultLength int
}

// AgentStore resolves an agent_ref into its definition.
type AgentStore interface {
	Get(ctx context.Context, agentRef string) (AgentDefinition, error)
}

// ProgressEvent is emitted as a task moves through the runner. Event is one
// of "task_started", "heartbeat", "task_completed", "task_failed".
type ProgressEvent struct {
	TaskID      string
	ExecutionID string
	Event       string
	Detail      string
	At          time.Time
}

// ProgressPublisher receives progress events. Implementations must not block
// the runner for long; outbound channel delivery (§4.10) should buffer or
// drop rather than stall a worker slot.
type ProgressPublisher interface {
	Publish(ProgressEvent)
}

// noopPublisher discards every event. Used when no publisher is configured.
type noopPublisher struct{}

func (noopPublisher) Publish(ProgressEvent) {}

// Metrics receives coarse counters. All methods must be safe for concurrent
// use and must not block.
type Metrics interface {
	TaskStarted()
	TaskCompleted(d time.Duration)
	TaskFailed(d time.Duration)
	StalledRecovered(n int)
}

// noopMetrics discards every observation.
type noopMetrics struct{}

func (noopMetrics) TaskStarted()                  {}
func (noopMetrics) TaskCompleted(time.Duration)   {}
func (noopMetrics) TaskFailed(time.Duration)      {}
func (noopMetrics) StalledRecovered(int)          {}

const (
	// DefaultMaxConcurrent bounds simultaneous in-flight tasks absent an
	// explicit WithMaxConcurrent.
	DefaultMaxConcurrent = 4
	// DefaultStallTimeout is how long a running task may go unfinished
	// before the recovery sweep resets it to pending.
	DefaultStallTimeout = 5 * time.Minute
	// DefaultStallSweepInterval is how often the recovery sweep runs.
	DefaultStallSweepInterval = time.Minute
	// DefaultHeartbeatInterval is how often a running task emits a
	// heartbeat progress event.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultGracefulTimeout bounds how long Stop waits for in-flight
	// tasks before returning with survivors left in processing.
	DefaultGracefulTimeout = 30 * time.Second
)

// Runner pops tasks from a queue and runs them through an agent executor,
// bounded to a fixed number of concurrent in-flight tasks. Its lifecycle
// (functional-options construction, Start/Stop over a WaitGroup) mirrors
// internal/cron.Scheduler.
type Runner struct {
	queue    *queue.Queue
	agents   AgentStore
	registry *tools.Registry
	provider llm.Provider
	auditSt  *audit.Store

	logger      *slog.Logger
	publisher   ProgressPublisher
	metrics     Metrics
	artifacts   *executor.ArtifactWriter
	approvals   *executor.ApprovalChecker

	maxConcurrent       int
	stallTimeout        time.Duration
	stallSweepInterval  time.Duration
	heartbeatInterval   time.Duration
	gracefulTimeout     time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueue sets the task queue the runner drains. Required.
func WithQueue(q *queue.Queue) Option {
	return func(r *Runner) { r.queue = q }
}

// WithAgentStore sets the agent-definition resolver. Required.
func WithAgentStore(store AgentStore) Option {
	return func(r *Runner) { r.agents = store }
}

// WithToolRegistry sets the tool registry executors are built against.
func WithToolRegistry(registry *tools.Registry) Option {
	return func(r *Runner) { r.registry = registry }
}

// WithProvider sets the LLM provider executors prompt against.
func WithProvider(p llm.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithAuditSink attaches the audit store executors append to.
func WithAuditSink(store *audit.Store) Option {
	return func(r *Runner) { r.auditSt = store }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithProgressPublisher attaches a progress-event sink.
func WithProgressPublisher(p ProgressPublisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithArtifacts sets the artifact writer used for oversized tool output.
func WithArtifacts(w *executor.ArtifactWriter) Option {
	return func(r *Runner) { r.artifacts = w }
}

// WithApprovals sets the approval checker applied to every executor.
func WithApprovals(checker *executor.ApprovalChecker) Option {
	return func(r *Runner) { r.approvals = checker }
}

// WithMaxConcurrent overrides the worker pool size.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithStallTimeout overrides the stalled-task recovery threshold.
func WithStallTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stallTimeout = d
		}
	}
}

// WithStallSweepInterval overrides how often the recovery sweep runs.
func WithStallSweepInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stallSweepInterval = d
		}
	}
}

// WithHeartbeatInterval overrides the heartbeat cadence for running tasks.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.heartbeatInterval = d
		}
	}
}

// WithGracefulTimeout overrides how long Stop waits for in-flight tasks.
func WithGracefulTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.gracefulTimeout = d
		}
	}
}

// New constructs a Runner. queue and agents must be set via options.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{
		logger:             slog.Default().With("component", "runner"),
		publisher:          noopPublisher{},
		metrics:            noopMetrics{},
		maxConcurrent:      DefaultMaxConcurrent,
		stallTimeout:       DefaultStallTimeout,
		stallSweepInterval: DefaultStallSweepInterval,
		heartbeatInterval:  DefaultHeartbeatInterval,
		gracefulTimeout:    DefaultGracefulTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		return nil, errors.New("runner: queue is required")
	}
	if r.agents == nil {
		return nil, errors.New("runner: agent store is required")
	}
	return r, nil
}

// Start launches the worker pool and the stalled-task sweep, returning
// immediately. Both run until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	for i := 0; i < r.maxConcurrent; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	return nil
}

// Stop stops accepting new pops and waits up to the configured graceful
// timeout for in-flight tasks to finish. Tasks still running when the
// timeout elapses are left in the processing table for a future recovery
// sweep to reclaim.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timeout := time.NewTimer(r.gracefulTimeout)
	defer timeout.Stop()

	select {
	case <-done:
		return nil
	case <-timeout.C:
		r.logger.Warn("graceful timeout elapsed, leaving in-flight tasks for recovery sweep")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, slot int) {
	defer r.wg.Done()
	logger := r.logger.With("worker", slot)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := r.queue.PopBlocking(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("pop_blocking failed", "error", err)
			continue
		}

		select {
		case <-r.stopCh:
			// Task was already claimed; run it to completion rather than
			// abandon it mid-flight with no way to return it to pending.
		default:
		}

		r.runTask(ctx, logger, task)
	}
}

func (r *Runner) runTask(ctx context.Context, logger *slog.Logger, task models.Task) {
	start := time.Now()
	r.metrics.TaskStarted()
	r.publisher.Publish(ProgressEvent{TaskID: task.ID, ExecutionID: task.ExecutionID, Event: "task_started", At: start})

	def, err := r.agents.Get(ctx, task.AgentRef)
	if err != nil {
		r.fail(logger, task, start, fmt.Errorf("load agent config: %w", err))
		return
	}

	input := inputText(task.Input)

	exec := executor.New(executor.Config{
		AgentID:             def.ID,
		Model:               def.Model,
		System:              def.System,
		MaxIterations:       def.MaxIterations,
		ToolTimeout:         def.ToolTimeout,
		MaxToolResultLength: def.MaxToolResultLength,
	}, r.provider, r.registry, tools.NewExecutor(r.registry, tools.DefaultExecConfig()), nil, workingmem.New(0, 0))

	if r.auditSt != nil {
		exec.WithAuditStore(r.auditSt)
	}
	if r.artifacts != nil {
		exec.WithArtifacts(r.artifacts)
	}
	if r.approvals != nil {
		exec.WithApprovals(r.approvals)
	}
	steering := executor.NewSteeringQueue()
	exec.WithSteering(steering)

	heartbeat := time.NewTicker(r.heartbeatInterval)
	defer heartbeat.Stop()

	resultCh := make(chan struct {
		res *executor.Result
		err error
	}, 1)
	go func() {
		res, err := exec.Run(ctx, task.ID, task.ExecutionID, input)
		resultCh <- struct {
			res *executor.Result
			err error
		}{res, err}
	}()

	var result *executor.Result
	var runErr error
loop:
	for {
		select {
		case out := <-resultCh:
			result, runErr = out.res, out.err
			break loop
		case <-heartbeat.C:
			r.publisher.Publish(ProgressEvent{TaskID: task.ID, ExecutionID: task.ExecutionID, Event: "heartbeat", At: time.Now()})
		}
	}

	if runErr != nil {
		r.fail(logger, task, start, runErr)
		return
	}

	switch result.Status {
	case executor.StatusFailed:
		r.fail(logger, task, start, errors.New(result.FinalText))
	default:
		if err := r.queue.Complete(task.ID, result.FinalText); err != nil {
			logger.Error("queue.complete failed", "task_id", task.ID, "error", err)
		}
		r.metrics.TaskCompleted(time.Since(start))
		r.publisher.Publish(ProgressEvent{TaskID: task.ID, ExecutionID: task.ExecutionID, Event: "task_completed", Detail: string(result.Status), At: time.Now()})
	}
}

// inputText renders a task's free-form input as the initial user message
// text. Strings pass through; everything else is JSON-encoded.
func inputText(input any) string {
	if s, ok := input.(string); ok {
		return s
	}
	if input == nil {
		return ""
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(b)
}

func (r *Runner) fail(logger *slog.Logger, task models.Task, start time.Time, cause error) {
	if err := r.queue.Fail(task.ID, cause.Error()); err != nil {
		logger.Error("queue.fail failed", "task_id", task.ID, "error", err)
	}
	r.metrics.TaskFailed(time.Since(start))
	r.publisher.Publish(ProgressEvent{TaskID: task.ID, ExecutionID: task.ExecutionID, Event: "task_failed", Detail: cause.Error(), At: time.Now()})
}

func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.stallSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.RecoverStalled(r.stallTimeout)
			if err != nil {
				r.logger.Error("recover_stalled failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("recovered stalled tasks", "count", n)
				r.metrics.StalledRecovered(n)
			}
		}
	}
}
