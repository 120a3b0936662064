package bridge

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestQueueDrainDeliversInOrder(t *testing.T) {
	var q outboundQueue
	q.push(json.RawMessage(`{"n":1}`))
	q.push(json.RawMessage(`{"n":2}`))
	q.push(json.RawMessage(`{"n":3}`))

	var sent []string
	err := q.drainTo(func(frame json.RawMessage) error {
		sent = append(sent, string(frame))
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(sent) != 3 || sent[0] != `{"n":1}` || sent[2] != `{"n":3}` {
		t.Fatalf("wrong order: %v", sent)
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.len())
	}
}

func TestQueueDrainStopsOnErrorKeepingRemainder(t *testing.T) {
	var q outboundQueue
	q.push(json.RawMessage(`{"n":1}`))
	q.push(json.RawMessage(`{"n":2}`))
	q.push(json.RawMessage(`{"n":3}`))

	calls := 0
	err := q.drainTo(func(frame json.RawMessage) error {
		calls++
		if calls == 2 {
			return errors.New("send failed")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected drain error")
	}
	// First frame delivered and removed; the failed one stays for retry.
	if q.len() != 2 {
		t.Fatalf("expected 2 frames queued, got %d", q.len())
	}
	if string(q.frames[0]) != `{"n":2}` {
		t.Fatalf("failed frame not retained at head: %s", q.frames[0])
	}
}

func TestQueueSnapshotRestoreRoundTrip(t *testing.T) {
	var q outboundQueue
	q.push(json.RawMessage(`{"n":1}`))
	q.push(json.RawMessage(`{"n":2}`))

	var restored outboundQueue
	restored.restore(q.snapshot())
	if restored.len() != 2 {
		t.Fatalf("expected 2 restored frames, got %d", restored.len())
	}
}
