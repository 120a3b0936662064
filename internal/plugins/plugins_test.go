package plugins

import (
	"errors"
	"testing"

	"github.com/joestump/claude-relay/internal/bridge"
)

type scriptedPlugin struct {
	id     string
	result bridge.PluginResult
	err    error
	panics bool
	seen   []string
}

func (p *scriptedPlugin) ID() string { return p.id }

func (p *scriptedPlugin) Handle(ev bridge.Event) (bridge.PluginResult, error) {
	if p.panics {
		panic("scripted panic")
	}
	p.seen = append(p.seen, ev.Name)
	return p.result, p.err
}

func TestChainAccumulatesInsights(t *testing.T) {
	a := &scriptedPlugin{id: "a", result: bridge.PluginResult{Insights: []bridge.Insight{{Level: "info", Title: "from a"}}}}
	b := &scriptedPlugin{id: "b", result: bridge.PluginResult{Insights: []bridge.Insight{{Level: "info", Title: "from b"}}}}
	c := NewChain(a, b)

	res, err := c.Emit(bridge.Event{Name: bridge.EventMessageAssistant})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(res.Insights) != 2 {
		t.Fatalf("expected 2 insights, got %d", len(res.Insights))
	}
	if len(a.seen) != 1 || len(b.seen) != 1 {
		t.Fatal("not every plugin saw the event")
	}
}

func TestChainFirstDecisionWinsAndGetsPluginID(t *testing.T) {
	first := &scriptedPlugin{id: "first", result: bridge.PluginResult{
		Decision: &bridge.PermissionDecision{Behavior: "deny"},
	}}
	second := &scriptedPlugin{id: "second", result: bridge.PluginResult{
		Decision: &bridge.PermissionDecision{Behavior: "allow"},
	}}
	c := NewChain(first, second)

	res, err := c.Emit(bridge.Event{Name: bridge.EventPermissionRequested})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if res.Decision == nil || res.Decision.Behavior != "deny" {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if res.Decision.PluginID != "first" {
		t.Fatalf("plugin id = %q", res.Decision.PluginID)
	}
}

func TestChainAbortShortCircuits(t *testing.T) {
	aborter := &scriptedPlugin{id: "aborter", result: bridge.PluginResult{Aborted: true}}
	after := &scriptedPlugin{id: "after"}
	c := NewChain(aborter, after)

	res, err := c.Emit(bridge.Event{Name: bridge.EventUserMessageBefore})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !res.Aborted {
		t.Fatal("abort lost")
	}
	if len(after.seen) != 0 {
		t.Fatal("abort did not short-circuit the chain")
	}
}

func TestChainErrorIdentifiesPlugin(t *testing.T) {
	bad := &scriptedPlugin{id: "flaky", err: errors.New("boom")}
	c := NewChain(bad)

	if _, err := c.Emit(bridge.Event{Name: bridge.EventResultReceived}); err == nil {
		t.Fatal("expected error")
	} else if got := err.Error(); got != "plugin flaky: boom" {
		t.Fatalf("error = %q", got)
	}
}

func TestChainRecoversFromPanic(t *testing.T) {
	c := NewChain(&scriptedPlugin{id: "bomb", panics: true})

	res, err := c.Emit(bridge.Event{Name: bridge.EventToolStarted})
	if err == nil {
		t.Fatal("panic must surface as an error")
	}
	if res.Decision != nil || len(res.Insights) != 0 {
		t.Fatalf("panicking emit leaked a partial result: %+v", res)
	}
}

// --- tool policy ----------------------------------------------------------

func TestToolPolicyDeniesConfiguredTools(t *testing.T) {
	p := NewToolPolicy([]string{"Bash", "Write"})

	res, err := p.Handle(bridge.Event{
		Name: bridge.EventPermissionRequested,
		Data: map[string]any{"tool_name": "Bash"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Decision == nil || res.Decision.Behavior != "deny" {
		t.Fatalf("denied tool not denied: %+v", res.Decision)
	}
	if len(res.Insights) != 1 || res.Insights[0].Level != "warning" {
		t.Fatalf("missing warning insight: %+v", res.Insights)
	}
}

func TestToolPolicyIgnoresOtherToolsAndEvents(t *testing.T) {
	p := NewToolPolicy([]string{"Bash"})

	res, _ := p.Handle(bridge.Event{
		Name: bridge.EventPermissionRequested,
		Data: map[string]any{"tool_name": "Read"},
	})
	if res.Decision != nil {
		t.Fatal("allowed tool denied")
	}

	res, _ = p.Handle(bridge.Event{
		Name: bridge.EventToolStarted,
		Data: map[string]any{"tool_name": "Bash"},
	})
	if res.Decision != nil {
		t.Fatal("non-permission event decided")
	}
}
