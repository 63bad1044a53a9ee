package executor

import "sync"

// SteerKind tags the variant a SteerMessage carries.
type SteerKind string

const (
	SteerInstruction     SteerKind = "message"
	SteerInterrupt       SteerKind = "interrupt"
	SteerCancelToolCall  SteerKind = "cancel_tool_call"
)

// SteerMessage is one externally-injected instruction to a running
// execution: a user follow-up, an interrupt, or a request to cancel one
// in-flight tool call. Grounded on internal/agent/steering.go's
// SteeringMessage, generalized onto a single tagged variant instead of the
// teacher's separate steering/follow-up queues since this spec doesn't
// distinguish delivery modes (OneAtATime/All).
type SteerMessage struct {
	Source      string
	Kind        SteerKind
	Instruction string // SteerInstruction
	Reason      string // SteerInterrupt
	ToolCallID  string // SteerCancelToolCall
}

// SteeringQueue buffers steer messages between loop iterations. Cancel
// requests are drained non-blocking and immediately, ahead of a tool
// fan-out; everything else is buffered and drained together after tool
// results are appended, preserving arrival order.
type SteeringQueue struct {
	mu      sync.Mutex
	pending []SteerMessage
}

// NewSteeringQueue builds an empty queue.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{}
}

// Push enqueues a steer message.
func (q *SteeringQueue) Push(msg SteerMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// DrainCancelToolCalls removes and returns every queued cancel-tool-call id,
// leaving other queued messages in place in their original order.
func (q *SteeringQueue) DrainCancelToolCalls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var cancels []string
	rest := q.pending[:0:0]
	for _, m := range q.pending {
		if m.Kind == SteerCancelToolCall {
			cancels = append(cancels, m.ToolCallID)
			continue
		}
		rest = append(rest, m)
	}
	q.pending = rest
	return cancels
}

// DrainMessages removes and returns every remaining queued message
// (instructions and interrupts), in arrival order.
func (q *SteeringQueue) DrainMessages() []SteerMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// HasPending reports whether any message, of any kind, is queued.
func (q *SteeringQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}
