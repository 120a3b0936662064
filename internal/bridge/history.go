package bridge

import "github.com/joestump/claude-relay/internal/wire"

// historyLog is the append-only conversation record. Retention only ever
// truncates from the head; the tail is never rewritten. Guarded by the
// session lock.
type historyLog struct {
	limit   int
	entries []wire.HistoryEntry
}

func newHistoryLog(limit int) *historyLog {
	return &historyLog{limit: limit}
}

func (h *historyLog) append(e wire.HistoryEntry) {
	h.entries = append(h.entries, e)
	if excess := len(h.entries) - h.limit; excess > 0 {
		h.entries = append(h.entries[:0], h.entries[excess:]...)
	}
}

func (h *historyLog) len() int { return len(h.entries) }

// all returns the entries oldest first. The returned slice is a copy so the
// caller can release the session lock before serializing it.
func (h *historyLog) all() []wire.HistoryEntry {
	out := make([]wire.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// firstUserMessage returns the earliest user entry, for the first-turn hook.
func (h *historyLog) firstUserMessage() (wire.HistoryEntry, bool) {
	for _, e := range h.entries {
		if e.Kind == wire.HistoryUserMessage {
			return e, true
		}
	}
	return wire.HistoryEntry{}, false
}

func (h *historyLog) restore(entries []wire.HistoryEntry) {
	h.entries = h.entries[:0]
	for _, e := range entries {
		h.append(e)
	}
}
