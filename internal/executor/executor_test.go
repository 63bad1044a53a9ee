package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/tools"
	"github.com/restflow/restflow/internal/workingmem"
)

// stubProvider replays a scripted sequence of turns: each Complete call
// returns the next scripted turn's chunks.
type stubProvider struct {
	turns [][]*llm.Chunk
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan *llm.Chunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}
func (p *stubProvider) Name() string          { return "stub" }
func (p *stubProvider) Models() []llm.Model   { return nil }
func (p *stubProvider) SupportsTools() bool   { return true }

func textTurn(text string) []*llm.Chunk {
	return []*llm.Chunk{{Text: text, Done: true}}
}

func toolCallTurn(id, name string, args string) []*llm.Chunk {
	return []*llm.Chunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Arguments: []byte(args)}},
		{Done: true},
	}
}

type echoTool struct{}

func (echoTool) Name() string                                 { return "echo" }
func (echoTool) Description() string                          { return "echoes input" }
func (echoTool) Parameters() json.RawMessage                  { return json.RawMessage(`{}`) }
func (echoTool) SupportsParallelFor(json.RawMessage) bool     { return true }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) models.ToolOutput {
	return models.ToolOutput{Success: true, Result: string(args)}
}

func newTestExecutor(t *testing.T, provider llm.Provider) (*AgentExecutor, *tools.Registry) {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	toolExecutor := tools.NewExecutor(registry, tools.DefaultExecConfig())
	exec := New(Config{AgentID: "agent-1", Model: "stub-model"}, provider, registry, toolExecutor, nil, workingmem.New(0, 0))
	return exec, registry
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	provider := &stubProvider{turns: [][]*llm.Chunk{textTurn("hello there")}}
	exec, _ := newTestExecutor(t, provider)

	result, err := exec.Run(context.Background(), "task-1", "exec-1", "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v", result.Status)
	}
	if result.FinalText != "hello there" {
		t.Fatalf("unexpected final text: %q", result.FinalText)
	}
}

func TestRunExecutesToolCallThenCompletes(t *testing.T) {
	provider := &stubProvider{turns: [][]*llm.Chunk{
		toolCallTurn("call-1", "echo", `{"x":1}`),
		textTurn("done"),
	}}
	exec, _ := newTestExecutor(t, provider)

	result, err := exec.Run(context.Background(), "task-1", "exec-1", "run the tool")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v", result.Status)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}

	msgs := exec.memory.Messages()
	var sawToolResult bool
	for _, m := range msgs {
		if m.Role == models.RoleTool && m.ToolCallID == "call-1" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool-result message in memory")
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	turns := make([][]*llm.Chunk, 3)
	for i := range turns {
		turns[i] = toolCallTurn("call", "echo", `{}`)
	}
	provider := &stubProvider{turns: turns}
	exec, _ := newTestExecutor(t, provider)
	exec.cfg.MaxIterations = 3

	result, err := exec.Run(context.Background(), "task-1", "exec-1", "loop forever")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusMaxIterations {
		t.Fatalf("expected max_iterations, got %v", result.Status)
	}
}

func TestRunHonorsSteeringInterrupt(t *testing.T) {
	turns := make([][]*llm.Chunk, 5)
	for i := range turns {
		turns[i] = toolCallTurn("call", "echo", `{}`)
	}
	provider := &stubProvider{turns: turns}
	exec, _ := newTestExecutor(t, provider)
	queue := NewSteeringQueue()
	exec.WithSteering(queue)
	queue.Push(SteerMessage{Source: "user", Kind: SteerInterrupt, Reason: "stop"})

	result, err := exec.Run(context.Background(), "task-1", "exec-1", "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusInterrupted {
		t.Fatalf("expected interrupted, got %v", result.Status)
	}
}

func TestRunDeniesToolByPolicy(t *testing.T) {
	provider := &stubProvider{turns: [][]*llm.Chunk{
		toolCallTurn("call-1", "echo", `{}`),
		textTurn("done"),
	}}
	exec, _ := newTestExecutor(t, provider)
	checker := NewApprovalChecker(&ApprovalPolicy{Denylist: []string{"echo"}, DefaultDecision: ApprovalDenied})
	exec.WithApprovals(checker)

	result, err := exec.Run(context.Background(), "task-1", "exec-1", "run the tool")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v", result.Status)
	}

	var sawDenied bool
	for _, m := range exec.memory.Messages() {
		if m.Role == models.RoleTool && m.ToolCallID == "call-1" {
			var out models.ToolOutput
			if err := json.Unmarshal([]byte(m.Content), &out); err == nil && !out.Success {
				sawDenied = true
			}
		}
	}
	if !sawDenied {
		t.Fatal("expected a denied tool result in memory")
	}
}

func TestDeferredApprovalRunsToolOnceApproved(t *testing.T) {
	provider := &stubProvider{turns: [][]*llm.Chunk{toolCallTurn("call-1", "echo", `{"y":2}`)}}
	exec, _ := newTestExecutor(t, provider)
	checker := NewApprovalChecker(&ApprovalPolicy{RequireApproval: []string{"echo"}, DefaultDecision: ApprovalPending, RequestTTL: time.Minute})
	exec.WithApprovals(checker)

	ctx := context.Background()
	results := exec.runToolCalls(ctx, "task-1", "exec-1", []models.ToolCall{{ID: "call-1", Name: "echo", Arguments: []byte(`{"y":2}`)}})
	if len(results) != 1 || results[0].Output.Success {
		t.Fatalf("expected one unresolved awaiting-approval result, got %+v", results)
	}

	exec.deferredMu.Lock()
	var requestID string
	for id := range exec.deferred {
		requestID = id
	}
	exec.deferredMu.Unlock()
	if requestID == "" {
		t.Fatal("expected a deferred call to be registered")
	}

	if err := checker.Approve(ctx, requestID, "operator"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	exec.processResolvedDeferred(ctx)

	exec.deferredMu.Lock()
	remaining := len(exec.deferred)
	exec.deferredMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected deferred call cleared after resolution, got %d remaining", remaining)
	}

	var sawSuccess bool
	for _, m := range exec.memory.Messages() {
		if m.Role == models.RoleTool && m.ToolCallID == "call-1" {
			var out models.ToolOutput
			if err := json.Unmarshal([]byte(m.Content), &out); err == nil && out.Success {
				sawSuccess = true
			}
		}
	}
	if !sawSuccess {
		t.Fatal("expected the deferred tool call to have run successfully after approval")
	}
}
