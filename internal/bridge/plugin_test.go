package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/joestump/claude-relay/internal/wire"
)

func TestPluginDecisionAutoDeniesPermission(t *testing.T) {
	plug := &stubPlugins{result: PluginResult{
		Decision: &PermissionDecision{Behavior: "deny", Message: "not on my watch", PluginID: "guard"},
	}}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	browser := &fakeTransport{}
	s.HandleCLIOpen(cli)
	s.HandleBrowserOpen(browser)

	feedLine(s, `{"type":"control_request","request_id":"perm-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /"}}}`)

	if browser.hasFrameType(t, "permission_request") {
		t.Fatal("plugin-decided permission still reached the browser")
	}
	var inner map[string]any
	for _, f := range cli.decoded(t) {
		if f["type"] == "control_response" {
			inner = f["response"].(map[string]any)["response"].(map[string]any)
		}
	}
	if inner == nil || inner["behavior"] != "deny" || inner["message"] != "not on my watch" {
		t.Fatalf("plugin deny not forwarded upstream: %v", inner)
	}
	s.mu.Lock()
	pending := s.perms.len()
	s.mu.Unlock()
	if pending != 0 {
		t.Fatal("auto-decided permission left pending")
	}
}

func TestPluginAllowDecisionCanRewriteInput(t *testing.T) {
	plug := &stubPlugins{result: PluginResult{
		Decision: &PermissionDecision{Behavior: "allow", UpdatedInput: json.RawMessage(`{"command":"ls -la"}`)},
	}}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	s.HandleCLIOpen(cli)
	feedLine(s, `{"type":"control_request","request_id":"perm-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}`)

	var inner map[string]any
	for _, f := range cli.decoded(t) {
		if f["type"] == "control_response" {
			inner = f["response"].(map[string]any)["response"].(map[string]any)
		}
	}
	if inner == nil || inner["behavior"] != "allow" {
		t.Fatalf("plugin allow not forwarded: %v", inner)
	}
	if inner["updatedInput"].(map[string]any)["command"] != "ls -la" {
		t.Fatalf("rewritten input lost: %v", inner["updatedInput"])
	}
}

func TestPluginFaultFallsBackToHumanPrompt(t *testing.T) {
	plug := &stubPlugins{err: errors.New("middleware exploded")}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	browser := &fakeTransport{}
	s.HandleCLIOpen(cli)
	s.HandleBrowserOpen(browser)

	feedLine(s, `{"type":"control_request","request_id":"perm-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}`)

	// The request must not be lost: it goes to the browser as usual.
	if !browser.hasFrameType(t, "permission_request") {
		t.Fatal("plugin fault dropped the permission request")
	}
	if !browser.hasFrameType(t, "plugin_insight") {
		t.Fatal("plugin fault not surfaced as an insight")
	}
}

func TestPluginMutationRewritesUserMessage(t *testing.T) {
	plug := &stubPlugins{result: PluginResult{
		Mutation: &MessageMutation{Content: "rewritten by plugin"},
	}}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	s.HandleCLIOpen(cli)
	s.HandleBrowserMessage(nil, wire.BrowserMessage{Type: wire.BrowserTypeUserMessage, Content: "original"})

	waitFor(t, func() bool { return cli.count() >= 1 }, "upstream frame")
	msg := cli.decoded(t)[0]["message"].(map[string]any)
	if msg["content"] != "rewritten by plugin" {
		t.Fatalf("content = %v", msg["content"])
	}
	if s.History()[0].Content != "rewritten by plugin" {
		t.Fatalf("history content = %q", s.History()[0].Content)
	}
}

func TestPluginBlockDropsUserMessage(t *testing.T) {
	plug := &stubPlugins{result: PluginResult{Blocked: true}}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	browser := &fakeTransport{}
	s.HandleCLIOpen(cli)
	s.HandleBrowserOpen(browser)

	s.HandleBrowserMessage(browser, wire.BrowserMessage{Type: wire.BrowserTypeUserMessage, Content: "secret"})

	waitFor(t, func() bool { return browser.hasFrameType(t, "plugin_insight") }, "block insight")
	if len(s.History()) != 0 {
		t.Fatal("blocked message reached history")
	}
	if cli.count() != 0 {
		t.Fatal("blocked message reached upstream")
	}
}

func TestPluginEventsCarrySessionMeta(t *testing.T) {
	plug := &stubPlugins{}
	reg, _ := newTestRegistry(plug, Options{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &fakeTransport{}
	s.HandleCLIOpen(cli)
	feedLine(s, `{"type":"system","subtype":"status","status":"ready"}`)

	plug.mu.Lock()
	defer plug.mu.Unlock()
	if len(plug.events) == 0 {
		t.Fatal("no events delivered")
	}
	ev := plug.events[len(plug.events)-1]
	if ev.Name != EventSessionStatusChanged {
		t.Fatalf("event = %q", ev.Name)
	}
	if ev.Meta.SessionID != "s1" || ev.Meta.ID == "" || ev.Meta.Timestamp.IsZero() {
		t.Fatalf("incomplete meta: %+v", ev.Meta)
	}
	if ev.Meta.Source != "bridge" {
		t.Fatalf("source = %q for a primary session", ev.Meta.Source)
	}
}
