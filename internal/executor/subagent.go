package executor

import "sync"

// SubagentStatus is the lifecycle state of a tracked subagent run.
type SubagentStatus string

const (
	SubagentPending   SubagentStatus = "pending"
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
)

// SubagentRun is a flat record of one child execution a parent execution
// is waiting on.
type SubagentRun struct {
	ID        string
	AgentName string
	Status    SubagentStatus
	Result    string
	Error     string
}

// SubagentTracker is the fan-in point for sub-agent completions, grounded
// on internal/multiagent/subagent_registry.go's run-record bookkeeping but
// trimmed to the flat {subagent_id, agent_name, status, result?} shape
// this spec calls for; the teacher's capability-routing/handoff machinery
// has no counterpart here.
type SubagentTracker struct {
	mu       sync.Mutex
	runs     map[string]*SubagentRun
	notified map[string]bool
}

// NewSubagentTracker builds an empty tracker.
func NewSubagentTracker() *SubagentTracker {
	return &SubagentTracker{
		runs:     make(map[string]*SubagentRun),
		notified: make(map[string]bool),
	}
}

// Register begins tracking a new subagent run.
func (t *SubagentTracker) Register(id, agentName string) *SubagentRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	run := &SubagentRun{ID: id, AgentName: agentName, Status: SubagentPending}
	t.runs[id] = run
	return run
}

// MarkRunning transitions a run to running.
func (t *SubagentTracker) MarkRunning(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[id]; ok {
		r.Status = SubagentRunning
	}
}

// Complete records a successful outcome.
func (t *SubagentTracker) Complete(id, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[id]; ok {
		r.Status = SubagentCompleted
		r.Result = result
	}
}

// Fail records a failed outcome.
func (t *SubagentTracker) Fail(id, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[id]; ok {
		r.Status = SubagentFailed
		r.Error = errMsg
	}
}

// PollCompletions returns every run that has reached a terminal status
// since the last poll, so the executor can inject one
// <subagent_notification> per run exactly once.
func (t *SubagentTracker) PollCompletions() []*SubagentRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*SubagentRun
	for id, r := range t.runs {
		if t.notified[id] {
			continue
		}
		if r.Status == SubagentCompleted || r.Status == SubagentFailed {
			out = append(out, r)
			t.notified[id] = true
		}
	}
	return out
}

// Active returns every run not yet in a terminal status.
func (t *SubagentTracker) Active() []*SubagentRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*SubagentRun
	for _, r := range t.runs {
		if r.Status != SubagentCompleted && r.Status != SubagentFailed {
			out = append(out, r)
		}
	}
	return out
}
