package rag

import (
	"sync"

	"github.com/seanblong/docchat/pkg/models"
)

// History is the in-memory conversation log. It is unbounded; only the
// prompt sees a window of it.
type History struct {
	mu    sync.Mutex
	turns []models.Turn
	seq   int
}

func NewHistory() *History {
	return &History{}
}

// Append adds one turn at the end.
func (h *History) Append(role models.Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(role, content)
}

// AppendExchange records a question and its answer as adjacent turns.
// Concurrent exchanges never interleave.
func (h *History) AppendExchange(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(models.RoleUser, question)
	h.appendLocked(models.RoleAssistant, answer)
}

func (h *History) appendLocked(role models.Role, content string) {
	h.turns = append(h.turns, models.Turn{Role: role, Content: content, Sequence: h.seq})
	h.seq++
}

// Recent returns the last n turns, oldest first.
func (h *History) Recent(n int) []models.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		return []models.Turn{}
	}
	start := len(h.turns) - n
	if start < 0 {
		start = 0
	}
	return append([]models.Turn(nil), h.turns[start:]...)
}

// All returns a copy of the whole log in chronological order.
func (h *History) All() []models.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Turn{}, h.turns...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.seq = 0
	h.mu.Unlock()
}
