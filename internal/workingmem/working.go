// Package workingmem implements the bounded sliding-window message buffer
// used to keep an execution's conversation history within a model's
// context budget. Grounded on
// original_source/crates/restflow-ai/src/memory/working.rs.
package workingmem

import (
	"sync"

	"github.com/restflow/restflow/internal/models"
)

// DefaultMaxMessages is the default message-count bound.
const DefaultMaxMessages = 100

// WorkingMemory is a bounded, sliding-window buffer of conversation
// messages. When full, the oldest non-system message is evicted to make
// room; the first system message is retained as long as any non-system
// message remains to evict instead. Safe for concurrent use.
type WorkingMemory struct {
	mu          sync.Mutex
	messages    []models.Message
	maxMessages int
	maxTokens   int // 0 means unbounded
	tokenCount  int
}

// New creates a working memory bounded by maxMessages. maxTokens of 0
// disables the token ceiling.
func New(maxMessages, maxTokens int) *WorkingMemory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &WorkingMemory{maxMessages: maxMessages, maxTokens: maxTokens}
}

// Add appends msg, evicting oldest messages until both the message-count
// and (if set) token-count bounds are satisfied.
func (w *WorkingMemory) Add(msg models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	msgTokens := estimateTokens(msg)

	for len(w.messages) >= w.maxMessages {
		if !w.evictOldestNonSystem() {
			break
		}
	}
	for w.maxTokens > 0 && w.tokenCount+msgTokens > w.maxTokens && len(w.messages) > 0 {
		if !w.evictOldestNonSystem() {
			break
		}
	}

	w.tokenCount += msgTokens
	w.messages = append(w.messages, msg)
}

// evictOldestNonSystem removes the oldest non-system message, falling
// back to the oldest message overall when none remain. Returns false
// when the buffer is already empty.
func (w *WorkingMemory) evictOldestNonSystem() bool {
	if len(w.messages) == 0 {
		return false
	}
	idx := -1
	for i, m := range w.messages {
		if m.Role != models.RoleSystem {
			idx = i
			break
		}
	}
	if idx == -1 {
		idx = 0
	}
	removed := w.messages[idx]
	w.messages = append(w.messages[:idx], w.messages[idx+1:]...)
	w.tokenCount -= estimateTokens(removed)
	if w.tokenCount < 0 {
		w.tokenCount = 0
	}
	return true
}

// Messages returns a copy of the buffered messages, oldest first.
func (w *WorkingMemory) Messages() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// LastN returns up to n of the most recent messages.
func (w *WorkingMemory) LastN(n int) []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n >= len(w.messages) {
		out := make([]models.Message, len(w.messages))
		copy(out, w.messages)
		return out
	}
	start := len(w.messages) - n
	out := make([]models.Message, n)
	copy(out, w.messages[start:])
	return out
}

// Clear empties the buffer.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
	w.tokenCount = 0
}

// Len returns the number of buffered messages.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// IsFull reports whether the message-count bound has been reached.
func (w *WorkingMemory) IsFull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages) >= w.maxMessages
}

// TokenCount returns the current estimated token total.
func (w *WorkingMemory) TokenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokenCount
}

// estimateTokens approximates a message's token footprint as
// ceil(chars/4) + 1, including tool call name and argument length.
func estimateTokens(msg models.Message) int {
	n := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n/4 + 1
}
