package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/restflow/restflow/internal/models"
)

func TestTerminalTypeAndConfigured(t *testing.T) {
	a, err := NewAdapter(Config{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if a.Type() != models.ChannelTerminal {
		t.Errorf("Type() = %v", a.Type())
	}
	if !a.IsConfigured() {
		t.Error("expected always configured")
	}
}

func TestTerminalReadLoopForwardsLines(t *testing.T) {
	a, err := NewAdapter(Config{In: strings.NewReader("hello\nworld\n"), Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := <-a.Messages()
	if first.Content != "hello" {
		t.Errorf("first = %q, want hello", first.Content)
	}
	second := <-a.Messages()
	if second.Content != "world" {
		t.Errorf("second = %q, want world", second.Content)
	}
}

func TestTerminalSendWritesOutput(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewAdapter(Config{In: strings.NewReader(""), Out: &buf})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Send(context.Background(), &models.OutboundMessage{Content: "hi there"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if buf.String() != "hi there\n" {
		t.Errorf("output = %q", buf.String())
	}
}
