package turn

import (
	"sync"

	"github.com/warmline/warmline/pkg/core/llm"
)

// DefaultHistoryLimit bounds how many messages are retained as model
// context. Older messages fall off the front.
const DefaultHistoryLimit = 20

// History is a bounded ring of conversation messages, oldest first.
// Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	limit    int
	messages []llm.Message
}

// NewHistory creates a history bounded to limit messages.
// A non-positive limit uses DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append records a message, evicting the oldest if over the limit.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, llm.Message{Role: role, Content: content})
	if len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear drops all retained messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
