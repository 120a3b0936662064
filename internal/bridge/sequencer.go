package bridge

import (
	"encoding/json"

	"github.com/joestump/claude-relay/internal/wire"
)

// bufferedEvent is one replayable broadcast frame retained for reconnecting
// browsers. frameType is kept alongside the raw bytes so replay can tell
// history-backed events from transient ones without re-parsing.
type bufferedEvent struct {
	seq       uint64
	frameType string
	raw       json.RawMessage
}

// sequencer assigns monotonic per-session sequence numbers and keeps a
// bounded window of recent replayable frames. It is not safe for concurrent
// use; the owning session's lock covers it.
type sequencer struct {
	nextSeq uint64
	limit   int
	events  []bufferedEvent
}

func newSequencer(limit int) *sequencer {
	return &sequencer{nextSeq: 1, limit: limit}
}

// tag assigns the next sequence number to the frame, serializes it with the
// seq set, and — when replayable — records it in the buffer. Assignment and
// append happen together so no browser can ever see a seq that a replayable
// frame was not buffered under.
func (q *sequencer) tag(frameType string, frame map[string]any, replayable bool) (uint64, json.RawMessage, error) {
	seq := q.nextSeq
	frame["seq"] = seq

	raw, err := json.Marshal(frame)
	if err != nil {
		return 0, nil, err
	}

	q.nextSeq++
	if replayable {
		q.events = append(q.events, bufferedEvent{seq: seq, frameType: frameType, raw: raw})
		if excess := len(q.events) - q.limit; excess > 0 {
			q.events = append(q.events[:0], q.events[excess:]...)
		}
	}
	return seq, raw, nil
}

// earliest returns the lowest buffered seq, or 0 if the buffer is empty.
func (q *sequencer) earliest() uint64 {
	if len(q.events) == 0 {
		return 0
	}
	return q.events[0].seq
}

// after returns all buffered events with seq > lastSeq, oldest first.
func (q *sequencer) after(lastSeq uint64) []bufferedEvent {
	for i, ev := range q.events {
		if ev.seq > lastSeq {
			return q.events[i:]
		}
	}
	return nil
}

// snapshot exports the buffer in persistable form.
func (q *sequencer) snapshot() []wire.BufferedEvent {
	out := make([]wire.BufferedEvent, 0, len(q.events))
	for _, ev := range q.events {
		out = append(out, wire.BufferedEvent{Seq: ev.seq, Frame: ev.raw})
	}
	return out
}

// restore rebuilds the buffer from persisted events. Frame types are
// recovered from the serialized frames; unparseable entries are dropped.
func (q *sequencer) restore(events []wire.BufferedEvent, nextSeq uint64) {
	q.events = q.events[:0]
	for _, ev := range events {
		var peek struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(ev.Frame, &peek); err != nil {
			continue
		}
		q.events = append(q.events, bufferedEvent{seq: ev.Seq, frameType: peek.Type, raw: ev.Frame})
	}
	if nextSeq > 0 {
		q.nextSeq = nextSeq
	}
	// The invariant seq < nextSeq must hold even against a torn snapshot.
	for len(q.events) > 0 && q.events[len(q.events)-1].seq >= q.nextSeq {
		q.events = q.events[:len(q.events)-1]
	}
}
