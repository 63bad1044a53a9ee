package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
	"github.com/restflow/restflow/internal/tools"
)

type stubProvider struct{ text string }

func (p *stubProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	ch := make(chan *llm.Chunk, 1)
	ch <- &llm.Chunk{Text: p.text, Done: true}
	close(ch)
	return ch, nil
}
func (p *stubProvider) Name() string        { return "stub" }
func (p *stubProvider) Models() []llm.Model { return nil }
func (p *stubProvider) SupportsTools() bool { return true }

type staticAgentStore struct{ def AgentDefinition }

func (s staticAgentStore) Get(ctx context.Context, agentRef string) (AgentDefinition, error) {
	return s.def, nil
}

type recordingPublisher struct {
	events []ProgressEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{}
}

func (p *recordingPublisher) Publish(e ProgressEvent) {
	p.events = append(p.events, e)
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	kv, err := kvstore.Open(t.TempDir() + "/q.db")
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	q, err := queue.New(kv)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestRunnerCompletesPoppedTask(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Push(models.Task{AgentRef: "agent-1", Input: "say hi"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	agents := staticAgentStore{def: AgentDefinition{ID: "agent-1", Model: "stub-model"}}
	registry := tools.NewRegistry()
	publisher := newRecordingPublisher()

	r, err := New(
		WithQueue(q),
		WithAgentStore(agents),
		WithToolRegistry(registry),
		WithProvider(&stubProvider{text: "hello"}),
		WithProgressPublisher(publisher),
		WithMaxConcurrent(1),
		WithHeartbeatInterval(time.Hour),
		WithStallSweepInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := q.Get(task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == models.TaskCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never completed, status=%v", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRunnerFailsWhenAgentUnresolvable(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Push(models.Task{AgentRef: "missing", Input: "hi"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	registry := tools.NewRegistry()
	r, err := New(
		WithQueue(q),
		WithAgentStore(failingAgentStore{}),
		WithToolRegistry(registry),
		WithProvider(&stubProvider{text: "hello"}),
		WithMaxConcurrent(1),
		WithHeartbeatInterval(time.Hour),
		WithStallSweepInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := q.Get(task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == models.TaskFailed {
			if got.Error == "" {
				t.Fatal("expected a failure reason")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never failed, status=%v", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type failingAgentStore struct{}

func (failingAgentStore) Get(ctx context.Context, agentRef string) (AgentDefinition, error) {
	return AgentDefinition{}, errUnknownAgent(agentRef)
}

type errUnknownAgent string

func (e errUnknownAgent) Error() string { return "unknown agent: " + string(e) }

func TestInputTextMarshalsNonStringValues(t *testing.T) {
	got := inputText(map[string]any{"a": 1})
	var roundTrip map[string]any
	if err := json.Unmarshal([]byte(got), &roundTrip); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", got, err)
	}
	if inputText("plain") != "plain" {
		t.Fatal("expected plain string to pass through unchanged")
	}
	if inputText(nil) != "" {
		t.Fatal("expected nil input to render as empty string")
	}
}

func TestKVAgentStorePutAndGet(t *testing.T) {
	kv, err := kvstore.Open(t.TempDir() + "/agents.db")
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	store := NewKVAgentStore(kv)
	def := AgentDefinition{ID: "agent-1", Model: "gpt", System: "be helpful"}
	if err := store.Put(def); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Model != "gpt" || got.System != "be helpful" {
		t.Fatalf("unexpected definition: %+v", got)
	}

	if _, err := store.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}
