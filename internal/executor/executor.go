// Package executor implements the ReAct agent loop: prompt the model,
// run any requested tools, feed results back, and repeat until the model
// stops asking for tools, the caller interrupts, or an iteration budget
// runs out. Grounded on internal/agent/steering.go, internal/agent/
// approval.go, and internal/multiagent/subagent_registry.go, generalized
// onto this module's models/llm/tools packages.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/restflow/restflow/internal/audit"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/tools"
	"github.com/restflow/restflow/internal/workingmem"
)

// DefaultMaxIterations bounds a run absent an explicit override.
const DefaultMaxIterations = 25

// Status is the terminal state of a Run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusInterrupted   Status = "interrupted"
	StatusMaxIterations Status = "max_iterations"
	StatusFailed        Status = "failed"
)

// Result is what a finished Run reports back to its caller.
type Result struct {
	Status     Status
	FinalText  string
	Iterations int
}

// Config holds one execution's fixed parameters.
type Config struct {
	AgentID             string
	Model               string
	System              string
	MaxIterations       int
	ToolTimeout         time.Duration
	MaxToolResultLength int
}

// usage captures one completion's token accounting for the audit log.
type usage struct {
	InputTokens  int
	OutputTokens int
}

// deferredCall remembers a tool call whose approval is still pending so a
// later iteration can run it, or surface its denial/timeout, once resolved.
type deferredCall struct {
	call        tools.Call
	taskID      string
	executionID string
}

// AgentExecutor runs one conversation's ReAct loop. Built with New and the
// With* options; reused across iterations of a single Run, not across
// multiple Runs.
type AgentExecutor struct {
	cfg          Config
	provider     llm.Provider
	toolRegistry *tools.Registry
	toolExecutor *tools.Executor
	toolDecls    []llm.ToolDecl
	memory       *workingmem.WorkingMemory

	approvals *ApprovalChecker
	steering  *SteeringQueue
	subagents *SubagentTracker
	audit_    *audit.Store
	artifacts *ArtifactWriter

	deferredMu sync.Mutex
	deferred   map[string]deferredCall
}

// New builds an executor. toolDecls describes the tools available to the
// model this run; memory seeds the conversation (pass a fresh
// workingmem.New(0, 0) for a clean start).
func New(cfg Config, provider llm.Provider, registry *tools.Registry, toolExecutor *tools.Executor, toolDecls []llm.ToolDecl, memory *workingmem.WorkingMemory) *AgentExecutor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = tools.DefaultTimeout
	}
	if memory == nil {
		memory = workingmem.New(0, 0)
	}
	return &AgentExecutor{
		cfg:          cfg,
		provider:     provider,
		toolRegistry: registry,
		toolExecutor: toolExecutor,
		toolDecls:    toolDecls,
		memory:       memory,
		deferred:     make(map[string]deferredCall),
	}
}

// WithApprovals installs an approval checker; absent one, every tool call
// runs unchecked.
func (e *AgentExecutor) WithApprovals(c *ApprovalChecker) *AgentExecutor {
	e.approvals = c
	return e
}

// WithSteering installs a steering queue the caller can push onto from
// another goroutine while Run is in flight.
func (e *AgentExecutor) WithSteering(q *SteeringQueue) *AgentExecutor {
	e.steering = q
	return e
}

// WithSubagents installs a tracker for sub-agent fan-out.
func (e *AgentExecutor) WithSubagents(t *SubagentTracker) *AgentExecutor {
	e.subagents = t
	return e
}

// WithAuditStore installs the sink every LlmCall/ToolCall/Execution* entry
// is appended to; absent one, auditing is a no-op.
func (e *AgentExecutor) WithAuditStore(s *audit.Store) *AgentExecutor {
	e.audit_ = s
	return e
}

// WithArtifacts installs the writer oversized tool output is spilled to.
func (e *AgentExecutor) WithArtifacts(w *ArtifactWriter) *AgentExecutor {
	e.artifacts = w
	return e
}

// Run drives the loop to completion, interruption, or exhaustion of
// MaxIterations.
func (e *AgentExecutor) Run(ctx context.Context, taskID, executionID, userInput string) (*Result, error) {
	e.memory.Add(models.Message{Role: models.RoleUser, Content: userInput})
	e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionStart})

	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionFailed, Error: ctx.Err().Error(), Iteration: iter})
			return &Result{Status: StatusFailed, Iterations: iter}, ctx.Err()
		default:
		}

		assistantMsg, toolCalls, u, err := e.prompt(ctx)
		if err != nil {
			e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionFailed, Error: err.Error(), Iteration: iter})
			return &Result{Status: StatusFailed, Iterations: iter}, err
		}
		e.memory.Add(assistantMsg)
		e.appendAudit(taskID, executionID, models.AuditEntry{
			Type: models.AuditLlmCall, Model: e.cfg.Model, Iteration: iter,
			InputTokens: u.InputTokens, OutputTokens: u.OutputTokens,
		})

		if len(toolCalls) == 0 {
			e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionComplete, Iteration: iter})
			return &Result{Status: StatusCompleted, FinalText: assistantMsg.Content, Iterations: iter + 1}, nil
		}

		if e.steering != nil {
			for _, id := range e.steering.DrainCancelToolCalls() {
				e.toolExecutor.CancelToolCall(id)
			}
		}

		for _, r := range e.runToolCalls(ctx, taskID, executionID, toolCalls) {
			e.memory.Add(toolResultMessage(r))
		}

		interrupted := false
		if e.steering != nil {
			for _, m := range e.steering.DrainMessages() {
				switch m.Kind {
				case SteerInstruction:
					e.applyInstruction(ctx, m)
				case SteerInterrupt:
					interrupted = true
				}
			}
		}
		if interrupted {
			e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionFailed, Error: "interrupted", Iteration: iter})
			return &Result{Status: StatusInterrupted, Iterations: iter + 1}, nil
		}

		if e.approvals != nil {
			e.processResolvedDeferred(ctx)
		}

		if e.subagents != nil {
			for _, run := range e.subagents.PollCompletions() {
				e.memory.Add(models.Message{Role: models.RoleSystem, Content: subagentNotification(run)})
			}
		}
	}

	e.appendAudit(taskID, executionID, models.AuditEntry{Type: models.AuditExecutionComplete, Iteration: e.cfg.MaxIterations})
	return &Result{Status: StatusMaxIterations, Iterations: e.cfg.MaxIterations}, nil
}

// prompt sends the current conversation to the model and collects one
// assistant turn: text, requested tool calls, and token usage.
func (e *AgentExecutor) prompt(ctx context.Context) (models.Message, []models.ToolCall, usage, error) {
	req := &llm.Request{
		Model:    e.cfg.Model,
		System:   e.cfg.System,
		Messages: e.memory.Messages(),
		Tools:    e.toolDecls,
	}
	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		return models.Message{}, nil, usage{}, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	var u usage
	for chunk := range chunks {
		if chunk.Error != nil {
			return models.Message{}, nil, usage{}, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			u.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			u.OutputTokens = chunk.OutputTokens
		}
	}

	msg := models.Message{Role: models.RoleAssistant, Content: text.String()}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return msg, toolCalls, u, nil
}

// runToolCalls gates each call through the approval checker (if any),
// executes everything cleared to run in parallel-safe groups, truncates
// oversized results, and records an audit entry per call.
func (e *AgentExecutor) runToolCalls(ctx context.Context, taskID, executionID string, toolCalls []models.ToolCall) []tools.ExecResult {
	calls := make([]tools.Call, len(toolCalls))
	for i, tc := range toolCalls {
		calls[i] = tools.Call{ID: tc.ID, ToolName: tc.Name, Args: tc.Arguments}
	}

	var all []tools.ExecResult
	for _, group := range tools.GroupByParallelism(e.toolRegistry, calls) {
		var runNow []tools.Call
		var gated []tools.ExecResult

		for _, call := range group {
			if e.approvals == nil {
				runNow = append(runNow, call)
				continue
			}
			decision, reason := e.approvals.Check(ctx, e.cfg.AgentID, toolCallOf(call))
			switch decision {
			case ApprovalDenied:
				gated = append(gated, deniedResult(call, reason))
			case ApprovalPending:
				req, err := e.approvals.CreateApprovalRequest(ctx, e.cfg.AgentID, taskID, toolCallOf(call), reason)
				if err != nil {
					gated = append(gated, deniedResult(call, "approval request failed: "+err.Error()))
					continue
				}
				e.deferredMu.Lock()
				e.deferred[req.ID] = deferredCall{call: call, taskID: taskID, executionID: executionID}
				e.deferredMu.Unlock()
				gated = append(gated, awaitingApprovalResult(call, req))
			default:
				runNow = append(runNow, call)
			}
		}

		groupResults := e.toolExecutor.ExecuteGroup(ctx, e.cfg.AgentID, taskID, runNow, nil)
		for i := range groupResults {
			e.truncateResult(&groupResults[i], taskID)
			e.auditToolResult(taskID, executionID, groupResults[i])
		}
		all = append(all, gated...)
		all = append(all, groupResults...)
	}
	return all
}

// processResolvedDeferred checks every outstanding deferred call's
// approval request and, once it is no longer pending, runs it (if
// allowed) or synthesizes its denial/timeout result.
func (e *AgentExecutor) processResolvedDeferred(ctx context.Context) {
	e.deferredMu.Lock()
	ids := make([]string, 0, len(e.deferred))
	for id := range e.deferred {
		ids = append(ids, id)
	}
	e.deferredMu.Unlock()

	for _, id := range ids {
		req, err := e.approvals.Resolved(ctx, id)
		if err != nil || req.Decision == ApprovalPending {
			continue
		}

		e.deferredMu.Lock()
		dc, ok := e.deferred[id]
		delete(e.deferred, id)
		e.deferredMu.Unlock()
		if !ok {
			continue
		}

		var result tools.ExecResult
		switch req.Decision {
		case ApprovalAllowed:
			if results := e.toolExecutor.ExecuteGroup(ctx, e.cfg.AgentID, dc.taskID, []tools.Call{dc.call}, nil); len(results) == 1 {
				result = results[0]
				e.truncateResult(&result, dc.taskID)
			}
		case ApprovalDenied:
			result = deniedResult(dc.call, "denied by "+req.DecidedBy)
		case ApprovalTimedOut:
			result = deniedResult(dc.call, "approval request timed out")
		}
		e.auditToolResult(dc.taskID, dc.executionID, result)
		e.memory.Add(toolResultMessage(result))
	}
}

// applyInstruction handles one buffered steer message of kind
// SteerInstruction: either it is the "approval <id> approved|denied"
// syntax, routed to the approval checker with a system-message echo, or a
// plain user follow-up injected as a "[User Update]" message.
func (e *AgentExecutor) applyInstruction(ctx context.Context, m SteerMessage) {
	if id, approved, reason, ok := parseApprovalInstruction(m.Instruction); ok && e.approvals != nil {
		var err error
		status := "denied"
		if approved {
			status = "approved"
			err = e.approvals.Approve(ctx, id, m.Source)
		} else {
			err = e.approvals.Deny(ctx, id, m.Source)
		}
		if err != nil {
			e.memory.Add(models.Message{Role: models.RoleSystem, Content: fmt.Sprintf("[Approval %s]: failed to record %s: %v", id, status, err)})
			return
		}
		echo := fmt.Sprintf("[Approval %s]: %s", id, status)
		if reason != "" {
			echo += " (" + reason + ")"
		}
		e.memory.Add(models.Message{Role: models.RoleSystem, Content: echo})
		return
	}
	e.memory.Add(models.Message{Role: models.RoleUser, Content: "[User Update]: " + m.Instruction})
}

// truncateResult replaces an oversized string tool result with a
// middle-elided summary pointing at an on-disk artifact.
func (e *AgentExecutor) truncateResult(r *tools.ExecResult, taskID string) {
	s, ok := r.Output.Result.(string)
	if !ok || !r.Output.Success {
		return
	}
	maxLen := e.cfg.MaxToolResultLength
	if maxLen <= 0 {
		maxLen = DefaultMaxToolResultLength
	}
	if truncated, _, was := Truncate(s, maxLen, e.artifacts, taskID, r.Call.ID); was {
		r.Output.Result = truncated
	}
}

func (e *AgentExecutor) auditToolResult(taskID, executionID string, r tools.ExecResult) {
	e.appendAudit(taskID, executionID, models.AuditEntry{
		Type:       models.AuditToolCall,
		ToolName:   r.Call.ToolName,
		Success:    r.Output.Success,
		DurationMs: r.EndedAt.Sub(r.StartedAt).Milliseconds(),
		Error:      r.Output.Error,
	})
}

func (e *AgentExecutor) appendAudit(taskID, executionID string, entry models.AuditEntry) {
	if e.audit_ == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.TaskID = taskID
	entry.ExecutionID = executionID
	entry.TimestampMs = models.NowMillis()
	_ = e.audit_.Append(entry)
}

func toolCallOf(c tools.Call) models.ToolCall {
	return models.ToolCall{ID: c.ID, Name: c.ToolName, Arguments: c.Args}
}

func deniedResult(call tools.Call, reason string) tools.ExecResult {
	now := time.Now()
	return tools.ExecResult{
		Call:      call,
		Output:    models.ToolOutput{Success: false, Error: "denied: " + reason, ErrorCategory: models.ErrAuth},
		StartedAt: now,
		EndedAt:   now,
	}
}

func awaitingApprovalResult(call tools.Call, req *ApprovalRequest) tools.ExecResult {
	now := time.Now()
	return tools.ExecResult{
		Call: call,
		Output: models.ToolOutput{
			Success:       false,
			Result:        map[string]string{"approval_request_id": req.ID},
			Error:         "awaiting approval",
			ErrorCategory: models.ErrAuth,
			Retryable:     true,
		},
		StartedAt: now,
		EndedAt:   now,
	}
}

func toolResultMessage(r tools.ExecResult) models.Message {
	content, _ := json.Marshal(r.Output)
	return models.Message{Role: models.RoleTool, Content: string(content), ToolCallID: r.Call.ID}
}

func subagentNotification(r *SubagentRun) string {
	if r.Status == SubagentFailed {
		return fmt.Sprintf("<subagent_notification id=%q agent=%q status=%q error=%q></subagent_notification>", r.ID, r.AgentName, r.Status, r.Error)
	}
	return fmt.Sprintf("<subagent_notification id=%q agent=%q status=%q>%s</subagent_notification>", r.ID, r.AgentName, r.Status, r.Result)
}
