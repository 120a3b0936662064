package bridge

// idLedger remembers recently processed client_msg_ids so retried browser
// messages can be dropped. FIFO order plus a companion set for O(1) lookup;
// eviction on overflow removes from both. Guarded by the session lock.
type idLedger struct {
	limit int
	order []string
	seen  map[string]struct{}
}

func newIDLedger(limit int) *idLedger {
	return &idLedger{limit: limit, seen: make(map[string]struct{})}
}

// has reports whether the id was already processed.
func (l *idLedger) has(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// remember records an id, evicting the oldest entries when over capacity.
func (l *idLedger) remember(id string) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.order = append(l.order, id)
	l.seen[id] = struct{}{}
	if excess := len(l.order) - l.limit; excess > 0 {
		for _, old := range l.order[:excess] {
			delete(l.seen, old)
		}
		l.order = append(l.order[:0], l.order[excess:]...)
	}
}

// forget removes an id so a retry is accepted again, e.g. when a remembered
// message was dropped before it could be processed.
func (l *idLedger) forget(id string) {
	if _, ok := l.seen[id]; !ok {
		return
	}
	delete(l.seen, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// snapshot returns the ids in FIFO order.
func (l *idLedger) snapshot() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// restore rebuilds the ledger from a persisted id list.
func (l *idLedger) restore(ids []string) {
	l.order = l.order[:0]
	l.seen = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		l.remember(id)
	}
}

// mutatingBrowserTypes is the closed set of browser message types that
// participate in the ledger. Reads and the subscribe/ack fast path are
// naturally idempotent and bypass it.
var mutatingBrowserTypes = map[string]struct{}{
	"user_message":        {},
	"permission_response": {},
	"interrupt":           {},
	"set_model":           {},
	"set_permission_mode": {},
	"mcp_get_status":      {},
	"mcp_toggle":          {},
	"mcp_reconnect":       {},
	"mcp_set_servers":     {},
}
