package workingmem

import (
	"testing"

	"github.com/restflow/restflow/internal/models"
)

func TestNew_Defaults(t *testing.T) {
	w := New(0, 0)
	if w.maxMessages != DefaultMaxMessages {
		t.Fatalf("expected default max messages %d, got %d", DefaultMaxMessages, w.maxMessages)
	}
}

func TestAddAndMessages(t *testing.T) {
	w := New(100, 0)
	w.Add(models.Message{Role: models.RoleUser, Content: "hello"})
	w.Add(models.Message{Role: models.RoleAssistant, Content: "hi there"})

	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
}

func TestSlidingWindowEviction(t *testing.T) {
	w := New(3, 0)
	w.Add(models.Message{Role: models.RoleUser, Content: "one"})
	w.Add(models.Message{Role: models.RoleUser, Content: "two"})
	w.Add(models.Message{Role: models.RoleUser, Content: "three"})

	if !w.IsFull() {
		t.Fatal("expected memory to be full")
	}

	w.Add(models.Message{Role: models.RoleUser, Content: "four"})

	msgs := w.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after eviction, got %d", len(msgs))
	}
	want := []string{"two", "three", "four"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d: got %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestSystemMessagePreserved(t *testing.T) {
	w := New(3, 0)
	w.Add(models.Message{Role: models.RoleSystem, Content: "you are a helpful assistant"})
	w.Add(models.Message{Role: models.RoleUser, Content: "hello"})
	w.Add(models.Message{Role: models.RoleAssistant, Content: "hi"})

	w.Add(models.Message{Role: models.RoleUser, Content: "how are you?"})

	msgs := w.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Errorf("expected system message preserved at index 0, got role %v", msgs[0].Role)
	}
}

func TestMultipleEvictionsFallBackToOldestOverall(t *testing.T) {
	w := New(2, 0)
	w.Add(models.Message{Role: models.RoleSystem, Content: "system"})
	w.Add(models.Message{Role: models.RoleUser, Content: "user 1"})
	w.Add(models.Message{Role: models.RoleUser, Content: "user 2"})
	w.Add(models.Message{Role: models.RoleUser, Content: "user 3"})

	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Errorf("expected system message preserved, got role %v", msgs[0].Role)
	}
	if msgs[1].Content != "user 3" {
		t.Errorf("expected most recent user message retained, got %q", msgs[1].Content)
	}
}

func TestLastN(t *testing.T) {
	w := New(100, 0)
	for _, c := range []string{"one", "two", "three", "four"} {
		w.Add(models.Message{Role: models.RoleUser, Content: c})
	}

	last := w.LastN(2)
	if len(last) != 2 || last[0].Content != "three" || last[1].Content != "four" {
		t.Fatalf("unexpected LastN(2) result: %+v", last)
	}

	all := w.LastN(10)
	if len(all) != 4 {
		t.Fatalf("expected LastN to clamp to available messages, got %d", len(all))
	}
}

func TestClear(t *testing.T) {
	w := New(100, 0)
	w.Add(models.Message{Role: models.RoleUser, Content: "hello"})
	w.Clear()

	if w.Len() != 0 {
		t.Fatalf("expected empty memory after Clear, got %d", w.Len())
	}
	if w.TokenCount() != 0 {
		t.Fatalf("expected zero token count after Clear, got %d", w.TokenCount())
	}
}

func TestTokenCeilingEviction(t *testing.T) {
	w := New(100, 5)
	w.Add(models.Message{Role: models.RoleUser, Content: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	if w.Len() != 1 {
		t.Fatalf("expected first message to be retained even over budget, got %d messages", w.Len())
	}
	w.Add(models.Message{Role: models.RoleUser, Content: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"})
	if w.Len() != 1 {
		t.Fatalf("expected oldest message evicted to respect token ceiling, got %d messages", w.Len())
	}
}
