package bridge

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/wire"
)

// Plugin event names emitted by the bridge.
const (
	EventSessionStatusChanged = "session.status.changed"
	EventSessionDisconnected  = "session.disconnected"
	EventMessageAssistant     = "message.assistant"
	EventResultReceived       = "result.received"
	EventToolStarted          = "tool.started"
	EventToolFinished         = "tool.finished"
	EventPermissionRequested  = "permission.requested"
	EventPermissionResponded  = "permission.responded"
	EventUserMessageBefore    = "user.message.before_send"
	EventUserMessageSent      = "user.message.sent"
	EventMCPStatusChanged     = "mcp.status.changed"
)

// EventMeta identifies one plugin event instance.
type EventMeta struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	SessionID     string    `json:"session_id"`
	BackendKind   string    `json:"backend_kind"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Event is one typed occurrence delivered to the plugin manager.
type Event struct {
	Name string         `json:"name"`
	Meta EventMeta      `json:"meta"`
	Data map[string]any `json:"data,omitempty"`
}

// Insight is a plugin-produced observation surfaced to browsers.
type Insight struct {
	PluginID string `json:"plugin_id,omitempty"`
	Level    string `json:"level"`
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
}

// PermissionDecision is a plugin's automated answer to a permission request.
type PermissionDecision struct {
	Behavior     string          `json:"behavior"`
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	PluginID     string          `json:"plugin_id,omitempty"`
}

// MessageMutation rewrites a user message before it is sent upstream.
type MessageMutation struct {
	Content string       `json:"content"`
	Images  []wire.Image `json:"images,omitempty"`
}

// PluginResult is the plugin manager's aggregate answer to one event.
type PluginResult struct {
	Insights []Insight           `json:"insights,omitempty"`
	Decision *PermissionDecision `json:"permission_decision,omitempty"`
	Mutation *MessageMutation    `json:"user_message_mutation,omitempty"`
	Blocked  bool                `json:"blocked,omitempty"`
	Aborted  bool                `json:"aborted,omitempty"`
}

// PluginManager is the external middleware contract. Emit is synchronous in
// effect; any error it returns (or panic it raises internally) must never
// cost the bridge a user message or permission request.
type PluginManager interface {
	Emit(ev Event) (PluginResult, error)
}

// newEvent builds a typed event for this session. Caller holds the session
// lock; the snapshot fields are read directly.
func (s *Session) newEvent(name, source, correlationID string, data map[string]any) Event {
	return Event{
		Name: name,
		Meta: EventMeta{
			ID:            uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			Source:        source,
			SessionID:     s.ID,
			BackendKind:   s.backendKind,
			CorrelationID: correlationID,
		},
		Data: data,
	}
}

// emitPlugin delivers an event to the plugin manager and fans the returned
// insights out to browsers. A plugin fault is logged, surfaced as a single
// error-level insight, and reported to the caller so it can take the default
// code path. Caller holds the session lock.
func (s *Session) emitPlugin(ev Event) (PluginResult, bool) {
	mgr := s.reg.plugins
	if mgr == nil {
		return PluginResult{}, false
	}
	res, err := mgr.Emit(ev)
	if err != nil {
		s.logf("plugin manager failed on %s: %v", ev.Name, err)
		s.publishInsight(Insight{
			Level: "error",
			Title: "Plugin error",
			Body:  "plugin middleware failed handling " + ev.Name,
		})
		return PluginResult{}, false
	}
	for _, ins := range res.Insights {
		s.publishInsight(ins)
	}
	return res, true
}

// publishInsight broadcasts one plugin insight. Insights are transient.
func (s *Session) publishInsight(ins Insight) {
	s.broadcast(framePluginInsight, map[string]any{"insight": ins}, true)
}
