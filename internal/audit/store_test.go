package audit

import (
	"path/filepath"
	"testing"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv)
}

func TestAppendAndListExecutionEntries(t *testing.T) {
	s := newTestStore(t)

	entries := []models.AuditEntry{
		{ID: "1", TaskID: "task-a", ExecutionID: "exec-1", TimestampMs: 300, Type: models.AuditLlmCall, Model: "gpt-4o"},
		{ID: "2", TaskID: "task-a", ExecutionID: "exec-1", TimestampMs: 100, Type: models.AuditExecutionStart},
		{ID: "3", TaskID: "task-a", ExecutionID: "exec-1", TimestampMs: 200, Type: models.AuditToolCall, ToolName: "shell"},
		{ID: "4", TaskID: "task-a", ExecutionID: "exec-2", TimestampMs: 150, Type: models.AuditExecutionStart},
	}
	for _, e := range entries {
		if err := s.Append(e); err != nil {
			t.Fatalf("append %s: %v", e.ID, err)
		}
	}

	got, err := s.ListByExecution("exec-1")
	if err != nil {
		t.Fatalf("list by execution: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	wantOrder := []string{"2", "3", "1"}
	for i, e := range got {
		if e.ID != wantOrder[i] {
			t.Errorf("entry %d: got id %q, want %q", i, e.ID, wantOrder[i])
		}
	}
}

func TestListByTaskReturnsMostRecentExecutionsFirst(t *testing.T) {
	s := newTestStore(t)

	must := func(e models.AuditEntry) {
		if err := s.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	must(models.AuditEntry{ID: "1", TaskID: "task-a", ExecutionID: "exec-1", TimestampMs: 100, Type: models.AuditExecutionStart})
	must(models.AuditEntry{ID: "2", TaskID: "task-a", ExecutionID: "exec-2", TimestampMs: 200, Type: models.AuditExecutionStart})
	must(models.AuditEntry{ID: "3", TaskID: "task-b", ExecutionID: "exec-3", TimestampMs: 300, Type: models.AuditExecutionStart})

	got, err := s.ListByTask("task-a", 0)
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for task-a, got %d", len(got))
	}
	if got[0].ID != "2" {
		t.Errorf("expected most recent entry first, got id %q", got[0].ID)
	}

	limited, err := s.ListByTask("task-a", 1)
	if err != nil {
		t.Fatalf("list by task limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results, got %d", len(limited))
	}
}

func TestSummarizeExecutionAggregatesMetrics(t *testing.T) {
	s := newTestStore(t)

	must := func(e models.AuditEntry) {
		if err := s.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	must(models.AuditEntry{ID: "1", TaskID: "t", ExecutionID: "e", TimestampMs: 100, Type: models.AuditExecutionStart})
	must(models.AuditEntry{ID: "2", TaskID: "t", ExecutionID: "e", TimestampMs: 200, Type: models.AuditLlmCall,
		Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, CostUSD: 0.02, DurationMs: 500})
	must(models.AuditEntry{ID: "3", TaskID: "t", ExecutionID: "e", TimestampMs: 300, Type: models.AuditLlmCall,
		Model: "gpt-4o", InputTokens: 80, OutputTokens: 40, CostUSD: 0.01, DurationMs: 400})
	must(models.AuditEntry{ID: "4", TaskID: "t", ExecutionID: "e", TimestampMs: 400, Type: models.AuditToolCall,
		ToolName: "shell", Success: true, DurationMs: 120})
	must(models.AuditEntry{ID: "5", TaskID: "t", ExecutionID: "e", TimestampMs: 500, Type: models.AuditToolCall,
		ToolName: "shell", Success: false, DurationMs: 80})
	must(models.AuditEntry{ID: "6", TaskID: "t", ExecutionID: "e", TimestampMs: 600, Type: models.AuditExecutionComplete, DurationMs: 1200})

	summary, err := s.SummarizeExecution("e")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary == nil {
		t.Fatal("expected non-nil summary")
	}
	if summary.TotalLlmCalls != 2 {
		t.Errorf("expected 2 llm calls, got %d", summary.TotalLlmCalls)
	}
	if summary.TotalTokens != 270 {
		t.Errorf("expected 270 total tokens, got %d", summary.TotalTokens)
	}
	if summary.TotalToolCalls != 2 {
		t.Errorf("expected 2 tool calls, got %d", summary.TotalToolCalls)
	}
	if !summary.Success {
		t.Error("expected execution marked successful")
	}
	ts := summary.PerTool["shell"]
	if ts == nil || ts.Success != 1 || ts.Failure != 1 {
		t.Errorf("unexpected per-tool summary: %+v", ts)
	}
	ms := summary.PerModel["gpt-4o"]
	if ms == nil || ms.CallCount != 2 || ms.TotalTokens != 270 {
		t.Errorf("unexpected per-model summary: %+v", ms)
	}
}

func TestCleanupBeforeRemovesOldEntries(t *testing.T) {
	s := newTestStore(t)

	must := func(e models.AuditEntry) {
		if err := s.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	must(models.AuditEntry{ID: "1", TaskID: "t", ExecutionID: "e", TimestampMs: 100, Type: models.AuditExecutionStart})
	must(models.AuditEntry{ID: "2", TaskID: "t", ExecutionID: "e", TimestampMs: 200, Type: models.AuditExecutionStart})
	must(models.AuditEntry{ID: "3", TaskID: "t", ExecutionID: "e", TimestampMs: 900, Type: models.AuditExecutionStart})

	removed, err := s.CleanupBefore(500)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}

	remaining, err := s.ListByExecution("e")
	if err != nil {
		t.Fatalf("list after cleanup: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "3" {
		t.Fatalf("unexpected remaining entries: %+v", remaining)
	}
}
