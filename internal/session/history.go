package session

// History is the append-only, chronologically ordered log of committed turns.
//
// The only way to remove an entry is RemoveLast, and only directly after an
// AppendPending whose generation then failed.
type History struct {
	turns   []Turn
	pending bool
}

func NewHistory(seed ...Turn) *History {
	return &History{turns: append([]Turn(nil), seed...)}
}

// Append commits a completed turn.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
	h.pending = false
}

// AppendPending commits a turn that may still be revoked by the next call to RemoveLast.
func (h *History) AppendPending(t Turn) {
	h.turns = append(h.turns, t)
	h.pending = true
}

// RemoveLast undoes the most recent AppendPending.
func (h *History) RemoveLast() (Turn, error) {
	if !h.pending || len(h.turns) == 0 {
		return Turn{}, ErrNothingToRevoke
	}
	last := h.turns[len(h.turns)-1]
	h.turns = h.turns[:len(h.turns)-1]
	h.pending = false
	return last, nil
}

func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy of the committed turns.
func (h *History) Turns() []Turn { return append([]Turn(nil), h.turns...) }

// Last returns the newest turn, if any.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}
