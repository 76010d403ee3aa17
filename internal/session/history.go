package session

import "github.com/aichat/relay/internal/llm"

// historyLimit bounds the rolling context window to 5 user/assistant
// exchanges.
const historyLimit = 10

// History is an append-only, size-bounded buffer of recent turns. It is not
// safe for concurrent use; only the owning session's worker touches it.
type History struct {
	turns []llm.Turn
}

// Append adds a turn, evicting the oldest entry once the bound is exceeded.
func (h *History) Append(role, content string) {
	h.turns = append(h.turns, llm.Turn{Role: role, Content: content})
	if len(h.turns) > historyLimit {
		h.turns = h.turns[len(h.turns)-historyLimit:]
	}
}

// Turns returns a copy of the window in arrival order.
func (h *History) Turns() []llm.Turn {
	out := make([]llm.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of buffered turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Reset empties the window.
func (h *History) Reset() {
	h.turns = nil
}
