package bridge

import (
	"encoding/json"

	"github.com/joestump/claude-relay/internal/wire"
)

// Browser-bound frame types.
const (
	frameSessionInit         = "session_init"
	frameSessionUpdate       = "session_update"
	frameAssistant           = "assistant"
	frameUserMessage         = "user_message"
	frameStreamEvent         = "stream_event"
	frameResult              = "result"
	framePermissionRequest   = "permission_request"
	framePermissionCancelled = "permission_cancelled"
	frameToolProgress        = "tool_progress"
	frameToolUseSummary      = "tool_use_summary"
	frameStatusChange        = "status_change"
	frameAuthStatus          = "auth_status"
	frameError               = "error"
	frameCLIConnected        = "cli_connected"
	frameCLIDisconnected     = "cli_disconnected"
	frameMessageHistory      = "message_history"
	frameEventReplay         = "event_replay"
	framePluginInsight       = "plugin_insight"
	frameMCPStatus           = "mcp_status"
	frameSessionNameUpdate   = "session_name_update"
)

// historyBackedFrames are the broadcast kinds a reconnecting browser can
// recover from the history log instead of the replay buffer. Everything else
// in the buffer is transient and must be replayed explicitly.
var historyBackedFrames = map[string]struct{}{
	frameAssistant:   {},
	frameResult:      {},
	frameUserMessage: {},
	frameError:       {},
}

func isHistoryBacked(frameType string) bool {
	_, ok := historyBackedFrames[frameType]
	return ok
}

// frame builds an untagged browser-bound frame. The sequencer fills in seq.
func frame(frameType string, fields map[string]any) map[string]any {
	if fields == nil {
		fields = make(map[string]any, 2)
	}
	fields["type"] = frameType
	return fields
}

// --- upstream-bound frames (newline-delimited JSON, one object per line) ---

// upstreamUserFrame wraps a user message for the CLI wire. Content is either
// a plain string or a block array when images are attached.
func upstreamUserFrame(content any, cliSessionID string) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
		"parent_tool_use_id": nil,
		"session_id":         cliSessionID,
	}
}

// userContentBlocks builds the block-array content form for a user message
// with attached images.
func userContentBlocks(text string, images []wire.Image) []map[string]any {
	blocks := make([]map[string]any, 0, len(images)+1)
	if text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	for _, img := range images {
		blocks = append(blocks, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": img.MediaType,
				"data":       img.Data,
			},
		})
	}
	return blocks
}

// upstreamControlResponse answers an upstream can_use_tool request.
func upstreamControlResponse(requestID string, response map[string]any) map[string]any {
	return map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   response,
		},
	}
}

// allowResponse grants a permission. updatedInput defaults to the request's
// original input so the CLI always receives a concrete input object.
func allowResponse(updatedInput json.RawMessage, updatedPermissions json.RawMessage) map[string]any {
	resp := map[string]any{"behavior": "allow"}
	if len(updatedInput) > 0 {
		resp["updatedInput"] = json.RawMessage(updatedInput)
	}
	if len(updatedPermissions) > 0 {
		resp["updatedPermissions"] = json.RawMessage(updatedPermissions)
	}
	return resp
}

// denyResponse refuses a permission with a human-readable reason.
func denyResponse(message string) map[string]any {
	if message == "" {
		message = "Denied by user"
	}
	return map[string]any{"behavior": "deny", "message": message}
}

// upstreamControlRequest builds a bridge-originated control-request
// (interrupt, model/mode change, MCP operations).
func upstreamControlRequest(requestID, subtype string, fields map[string]any) map[string]any {
	req := map[string]any{"subtype": subtype}
	for k, v := range fields {
		req[k] = v
	}
	return map[string]any{
		"type":       "control_request",
		"request_id": requestID,
		"request":    req,
	}
}
