package tools

import (
	"context"
	"sync"
	"time"

	"github.com/restflow/restflow/internal/models"
)

// Call is one tool invocation requested by a model turn.
type Call struct {
	ID       string
	ToolName string
	Args     []byte
}

// ExecResult pairs a call with its outcome and timing, ordered identically
// to the input slice regardless of completion order, matching the
// teacher's ExecuteConcurrently contract.
type ExecResult struct {
	Call      Call
	Output    models.ToolOutput
	StartedAt time.Time
	EndedAt   time.Time
}

// EventFunc is a non-blocking lifecycle callback; nil is permitted.
type EventFunc func(event string, call Call)

// ExecConfig bounds a fan-out's concurrency and per-call timeout.
type ExecConfig struct {
	Concurrency    int
	PerCallTimeout time.Duration
}

// DefaultExecConfig mirrors SPEC_FULL §4.4's batch fanout cap of 25
// concurrent invocations and the registry's 300s default timeout.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{Concurrency: 25, PerCallTimeout: DefaultTimeout}
}

// Executor runs groups of tool calls concurrently against a Registry,
// tracking per-call-id cancellation so a steering "cancel this call"
// instruction can interrupt one in-flight invocation without affecting its
// siblings.
type Executor struct {
	registry *Registry
	config   ExecConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewExecutor builds an Executor over a Registry with the given bounds.
// Zero fields fall back to DefaultExecConfig.
func NewExecutor(registry *Registry, config ExecConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 25
	}
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = DefaultTimeout
	}
	return &Executor{registry: registry, config: config, cancels: make(map[string]context.CancelFunc)}
}

// ExecuteGroup runs a set of tool calls concurrently (bounded by
// Concurrency), returning results in input order once every call in the
// group has completed. Calls whose tool declares itself not parallel-safe
// for the given arguments must be pre-split into single-call groups by the
// caller (the executor loop, per SPEC_FULL §4.7).
func (e *Executor) ExecuteGroup(ctx context.Context, agentID, taskID string, calls []Call, emit EventFunc) []ExecResult {
	results := make([]ExecResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c Call) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ExecResult{Call: c, Output: ToOutput(c.ToolName, ctx.Err())}
				return
			}

			if emit != nil {
				emit("tool_started", c)
			}
			callCtx, cancel := context.WithCancel(ctx)
			e.registerCancel(c.ID, cancel)
			defer e.clearCancel(c.ID)

			start := time.Now()
			out := e.registry.Execute(callCtx, c.ID, c.ToolName, c.Args, agentID, taskID, e.config.PerCallTimeout)
			end := time.Now()

			results[idx] = ExecResult{Call: c, Output: out, StartedAt: start, EndedAt: end}
			if emit != nil {
				if out.Success {
					emit("tool_completed", c)
				} else {
					emit("tool_failed", c)
				}
			}
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *Executor) registerCancel(callID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[callID] = cancel
}

func (e *Executor) clearCancel(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, callID)
}

// CancelToolCall cancels an in-flight call by tool_call_id, returning false
// if no such call is currently running (already finished, or unknown id).
func (e *Executor) CancelToolCall(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.cancels[callID]
	if !ok {
		return false
	}
	cancel()
	delete(e.cancels, callID)
	return true
}

// GroupByParallelism splits a turn's tool calls into contiguous run groups:
// consecutive calls that all support parallel execution for their given
// arguments run together; any call that does not run alone, preserving
// overall call order across groups.
func GroupByParallelism(registry *Registry, calls []Call) [][]Call {
	var groups [][]Call
	var current []Call
	for _, c := range calls {
		parallelSafe := false
		if t, ok := registry.Get(c.ToolName); ok {
			parallelSafe = t.SupportsParallelFor(c.Args)
		}
		if !parallelSafe {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			groups = append(groups, []Call{c})
			continue
		}
		current = append(current, c)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
