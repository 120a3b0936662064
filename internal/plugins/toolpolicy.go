package plugins

import (
	"github.com/joestump/claude-relay/internal/bridge"
)

// ToolPolicy is a built-in plugin that automatically denies permission
// requests for a configured set of tool names.
type ToolPolicy struct {
	denied map[string]bool
}

// NewToolPolicy builds a policy denying the named tools.
func NewToolPolicy(deniedTools []string) *ToolPolicy {
	denied := make(map[string]bool, len(deniedTools))
	for _, name := range deniedTools {
		denied[name] = true
	}
	return &ToolPolicy{denied: denied}
}

func (p *ToolPolicy) ID() string { return "toolpolicy" }

// Handle denies permission.requested events whose tool is on the deny list
// and ignores everything else.
func (p *ToolPolicy) Handle(ev bridge.Event) (bridge.PluginResult, error) {
	if ev.Name != bridge.EventPermissionRequested {
		return bridge.PluginResult{}, nil
	}
	tool, _ := ev.Data["tool_name"].(string)
	if tool == "" || !p.denied[tool] {
		return bridge.PluginResult{}, nil
	}
	return bridge.PluginResult{
		Decision: &bridge.PermissionDecision{
			Behavior: "deny",
			Message:  "Tool " + tool + " is blocked by policy",
		},
		Insights: []bridge.Insight{{
			Level: "warning",
			Title: "Tool blocked",
			Body:  "denied " + tool + " by configured policy",
		}},
	}, nil
}
