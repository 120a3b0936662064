package bridge

import (
	"testing"

	"github.com/joestump/claude-relay/internal/wire"
)

func TestSubprocessMessagesQueueUntilAdapterAttaches(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", wire.BackendSubprocess)
	defer reg.CloseAll()

	s.HandleBrowserMessage(nil, wire.BrowserMessage{Type: wire.BrowserTypeUserMessage, Content: "early"})
	waitFor(t, func() bool { return len(s.History()) == 1 }, "history entry")

	a := &fakeAdapter{ready: true}
	s.AttachAdapter(a)

	msgs := a.received()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 drained message, got %d", len(msgs))
	}
	if msgs[0].Type != wire.BrowserTypeUserMessage || msgs[0].Content != "early" {
		t.Fatalf("drained message = %+v", msgs[0])
	}
}

func TestControlMessagesQueueWhileAdapterDetached(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", wire.BackendSubprocess)
	defer reg.CloseAll()

	// No adapter yet, the state a restored subprocess session wakes up in.
	s.HandleBrowserMessage(nil, wire.BrowserMessage{Type: wire.BrowserTypeInterrupt, ClientMsgID: "i-1"})
	s.HandleBrowserMessage(nil, wire.BrowserMessage{Type: wire.BrowserTypeSetModel, Model: "claude-z", ClientMsgID: "m-1"})

	a := &fakeAdapter{ready: true}
	s.AttachAdapter(a)

	msgs := a.received()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 drained messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Type != wire.BrowserTypeInterrupt {
		t.Fatalf("first drained message = %+v, want an interrupt in browser form", msgs[0])
	}
	if msgs[1].Type != wire.BrowserTypeSetModel || msgs[1].Model != "claude-z" {
		t.Fatalf("second drained message = %+v", msgs[1])
	}
}

func TestAdapterReceivesControlMessages(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", wire.BackendSubprocess)
	defer reg.CloseAll()

	a := &fakeAdapter{ready: true}
	s.AttachAdapter(a)

	s.HandleBrowserMessage(nil, wire.BrowserMessage{Type: wire.BrowserTypeInterrupt})
	msgs := a.received()
	if len(msgs) != 1 || msgs[0].Type != wire.BrowserTypeInterrupt {
		t.Fatalf("interrupt not forwarded: %+v", msgs)
	}
}

func TestBackendKindSticksToSubprocess(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	if s.BackendKind() != wire.BackendPrimary {
		t.Fatalf("default kind = %q", s.BackendKind())
	}
	s.AttachAdapter(&fakeAdapter{ready: true})
	if s.BackendKind() != wire.BackendSubprocess {
		t.Fatal("attach did not switch kind")
	}

	// A later lookup with the primary kind must not flip it back.
	again := reg.GetOrCreate("s1", wire.BackendPrimary)
	if again.BackendKind() != wire.BackendSubprocess {
		t.Fatal("subprocess kind reverted to primary")
	}
}

func TestAdapterDisconnectCancelsPermissions(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", wire.BackendSubprocess)
	defer reg.CloseAll()

	browser := &fakeTransport{}
	s.HandleBrowserOpen(browser)
	s.AttachAdapter(&fakeAdapter{ready: true})

	// A permission surfaced by the adapter through the inject path.
	s.InjectUpstream(wire.CLIMessage{
		Type:      wire.CLITypeControlRequest,
		RequestID: "perm-1",
		Request:   &wire.ControlRequest{Subtype: "can_use_tool", ToolName: "Bash"},
	})
	if !browser.hasFrameType(t, "permission_request") {
		t.Fatal("injected permission not broadcast")
	}

	s.AdapterDisconnected()
	if !browser.hasFrameType(t, "permission_cancelled") {
		t.Fatal("adapter loss did not cancel pending permission")
	}
	if s.UpstreamConnected() {
		t.Fatal("session still reports a connected upstream")
	}
}

func TestUpdateAdapterMetadataPatchesState(t *testing.T) {
	reg, _ := newTestRegistry(nil, Options{})
	s := reg.GetOrCreate("s1", wire.BackendSubprocess)
	defer reg.CloseAll()

	browser := &fakeTransport{}
	s.HandleBrowserOpen(browser)
	s.UpdateAdapterMetadata("claude-y", "/work/project")

	state := s.State()
	if state.Model != "claude-y" || state.CWD != "/work/project" {
		t.Fatalf("metadata not applied: %+v", state)
	}
	updates := browser.framesOfType(t, "session_update")
	if len(updates) == 0 {
		t.Fatal("no session_update broadcast")
	}
}
