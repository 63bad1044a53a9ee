package executor

import "testing"

func TestDrainCancelToolCallsLeavesOtherMessages(t *testing.T) {
	q := NewSteeringQueue()
	q.Push(SteerMessage{Kind: SteerInstruction, Instruction: "do the thing"})
	q.Push(SteerMessage{Kind: SteerCancelToolCall, ToolCallID: "call-1"})
	q.Push(SteerMessage{Kind: SteerInterrupt, Reason: "stop"})

	cancels := q.DrainCancelToolCalls()
	if len(cancels) != 1 || cancels[0] != "call-1" {
		t.Fatalf("unexpected cancels: %+v", cancels)
	}

	rest := q.DrainMessages()
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(rest))
	}
	if rest[0].Kind != SteerInstruction || rest[1].Kind != SteerInterrupt {
		t.Fatalf("unexpected order preserved: %+v", rest)
	}
}

func TestDrainMessagesEmptiesQueue(t *testing.T) {
	q := NewSteeringQueue()
	q.Push(SteerMessage{Kind: SteerInstruction, Instruction: "one"})
	q.Push(SteerMessage{Kind: SteerInstruction, Instruction: "two"})

	first := q.DrainMessages()
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(first))
	}
	if q.HasPending() {
		t.Fatal("expected queue empty after drain")
	}
}

func TestParseApprovalInstruction(t *testing.T) {
	id, approved, reason, ok := parseApprovalInstruction("approval req-123 approved looks safe")
	if !ok || id != "req-123" || !approved || reason != "looks safe" {
		t.Fatalf("unexpected parse: id=%q approved=%v reason=%q ok=%v", id, approved, reason, ok)
	}

	_, _, _, ok = parseApprovalInstruction("please do the dishes")
	if ok {
		t.Fatal("expected non-approval instruction to not parse")
	}
}
