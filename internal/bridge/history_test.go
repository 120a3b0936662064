package bridge

import (
	"fmt"
	"testing"

	"github.com/joestump/claude-relay/internal/wire"
)

func TestHistoryTruncatesFromHead(t *testing.T) {
	h := newHistoryLog(3)
	for i := 0; i < 5; i++ {
		h.append(wire.HistoryEntry{Kind: wire.HistoryAssistantMessage, ID: fmt.Sprintf("e-%d", i)})
	}

	entries := h.all()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "e-2" || entries[2].ID != "e-4" {
		t.Fatalf("tail rewritten: %q..%q", entries[0].ID, entries[2].ID)
	}
}

func TestHistoryFirstUserMessage(t *testing.T) {
	h := newHistoryLog(10)
	h.append(wire.HistoryEntry{Kind: wire.HistoryAssistantMessage, ID: "a"})
	h.append(wire.HistoryEntry{Kind: wire.HistoryUserMessage, ID: "u1", Content: "first"})
	h.append(wire.HistoryEntry{Kind: wire.HistoryUserMessage, ID: "u2", Content: "second"})

	e, ok := h.firstUserMessage()
	if !ok {
		t.Fatal("no user message found")
	}
	if e.Content != "first" {
		t.Fatalf("expected earliest user entry, got %q", e.Content)
	}

	empty := newHistoryLog(10)
	if _, ok := empty.firstUserMessage(); ok {
		t.Fatal("empty history reported a user message")
	}
}

func TestHistoryAllReturnsCopy(t *testing.T) {
	h := newHistoryLog(10)
	h.append(wire.HistoryEntry{Kind: wire.HistoryUserMessage, ID: "u"})

	entries := h.all()
	entries[0].ID = "mutated"
	if h.entries[0].ID != "u" {
		t.Fatal("all() exposed internal slice")
	}
}
