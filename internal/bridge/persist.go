package bridge

import (
	"time"

	"github.com/joestump/claude-relay/internal/wire"
)

// save hands the store a fresh durable snapshot. Called after every
// state-changing transition while holding s.mu; the store debounces, the
// bridge does not pace itself. No-op once the session is closed so a late
// timer cannot resurrect a deleted record.
func (s *Session) save() {
	if s.reg == nil || s.reg.store == nil || s.closed {
		return
	}
	s.reg.store.Save(s.persistedLocked())
}

// persistedLocked snapshots the session in its durable form. Caller holds s.mu.
func (s *Session) persistedLocked() wire.PersistedSession {
	return wire.PersistedSession{
		ID:                 s.ID,
		State:              s.state,
		History:            s.history.all(),
		OutboundQueue:      s.outbound.snapshot(),
		PendingPerms:       s.perms.all(),
		EventBuffer:        s.seq.snapshot(),
		NextSeq:            s.seq.nextSeq,
		LastAckSeq:         s.lastAckSeq,
		ProcessedClientIDs: s.ledger.snapshot(),
	}
}

// restoreFrom rehydrates a session from its persisted record. Missing fields
// take their documented defaults: next_seq 1, last_ack_seq 0, empty caches,
// primary backend. Called before the session is visible to any caller.
func (s *Session) restoreFrom(ps wire.PersistedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ps.State
	if s.state.BackendKind == "" {
		s.state.BackendKind = wire.BackendPrimary
	}
	s.backendKind = s.state.BackendKind

	s.history.restore(ps.History)
	s.outbound.restore(ps.OutboundQueue)
	s.perms.restore(ps.PendingPerms)
	s.seq.restore(ps.EventBuffer, ps.NextSeq)
	s.ledger.restore(ps.ProcessedClientIDs)

	s.lastAckSeq = ps.LastAckSeq
	if highWater := s.seq.nextSeq - 1; s.lastAckSeq > highWater {
		s.lastAckSeq = highWater
	}

	// A session that already completed turns must not re-fire the first-turn
	// hook after a restart.
	s.autoNamingDone = ps.State.NumTurns > 0

	if s.state.IsCompacting {
		s.compactingSince = time.Now()
	}
}
