package turn

import (
	"fmt"
	"testing"

	"github.com/warmline/warmline/pkg/core/llm"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 6; i++ {
		h.Append(llm.RoleUser, fmt.Sprintf("msg %d", i))
	}
	msgs := h.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].Content != "msg 2" {
		t.Errorf("oldest = %q, want msg 2", msgs[0].Content)
	}
	if msgs[3].Content != "msg 5" {
		t.Errorf("newest = %q, want msg 5", msgs[3].Content)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(0)
	h.Append(llm.RoleUser, "hello")
	h.Append(llm.RoleAssistant, "hi")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len = %d after Clear", h.Len())
	}
}
