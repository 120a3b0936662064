// Package wire defines the frame types exchanged on both sides of the relay:
// newline-delimited JSON to and from the Claude CLI, and JSON messages to and
// from browsers. Frames are tagged unions discriminated by their "type" field;
// unknown types round-trip unchanged so newer CLIs don't break older relays.
package wire

import (
	"encoding/json"
	"time"
)

// Backend kinds for a session's upstream.
const (
	BackendPrimary    = "primary"
	BackendSubprocess = "subprocess"
)

// CLI message types (upstream inbound).
const (
	CLITypeSystem          = "system"
	CLITypeAssistant       = "assistant"
	CLITypeResult          = "result"
	CLITypeStreamEvent     = "stream_event"
	CLITypeControlRequest  = "control_request"
	CLITypeControlResponse = "control_response"
	CLITypeToolProgress    = "tool_progress"
	CLITypeToolUseSummary  = "tool_use_summary"
	CLITypeAuthStatus      = "auth_status"
	CLITypeKeepAlive       = "keep_alive"
)

// MCPServer is one MCP server entry as reported by the CLI.
type MCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// ModelUsage is the per-model token accounting on a result frame.
type ModelUsage struct {
	InputTokens   int64 `json:"inputTokens"`
	OutputTokens  int64 `json:"outputTokens"`
	ContextWindow int64 `json:"contextWindow"`
}

// ControlRequest is the request body of an upstream control_request frame.
// Only the can_use_tool subtype is acted on; other subtypes are ignored.
type ControlRequest struct {
	Subtype     string          `json:"subtype"`
	ToolName    string          `json:"tool_name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Description string          `json:"description,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
}

// ControlResponse is the response body of an upstream control_response frame.
type ControlResponse struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CLIMessage is one parsed frame from the upstream NDJSON stream. Fields are
// a union across all frame types; which are populated depends on Type.
type CLIMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	SessionID      string      `json:"session_id,omitempty"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
	MCPServers     []MCPServer `json:"mcp_servers,omitempty"`
	Agents         []string    `json:"agents,omitempty"`
	SlashCommands  []string    `json:"slash_commands,omitempty"`
	Skills         []string    `json:"skills,omitempty"`
	Version        string      `json:"version,omitempty"`

	// system/status
	Status string `json:"status,omitempty"`

	// assistant / stream_event
	Message         json.RawMessage `json:"message,omitempty"`
	Event           json.RawMessage `json:"event,omitempty"`
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`

	// result
	IsError      bool                  `json:"is_error,omitempty"`
	Result       string                `json:"result,omitempty"`
	TotalCostUSD float64               `json:"total_cost_usd,omitempty"`
	NumTurns     int                   `json:"num_turns,omitempty"`
	DurationMS   int64                 `json:"duration_ms,omitempty"`
	Usage        json.RawMessage       `json:"usage,omitempty"`
	ModelUsage   map[string]ModelUsage `json:"modelUsage,omitempty"`
	LinesAdded   int                   `json:"total_lines_added,omitempty"`
	LinesRemoved int                   `json:"total_lines_removed,omitempty"`

	// control_request / control_response
	RequestID string           `json:"request_id,omitempty"`
	Request   *ControlRequest  `json:"request,omitempty"`
	Response  *ControlResponse `json:"response,omitempty"`

	// tool_progress / tool_use_summary
	ToolUseID          string   `json:"tool_use_id,omitempty"`
	ToolName           string   `json:"tool_name,omitempty"`
	ElapsedTimeSeconds float64  `json:"elapsed_time_seconds,omitempty"`
	Summary            string   `json:"summary,omitempty"`
	ToolUseIDs         []string `json:"tool_use_ids,omitempty"`

	// auth_status
	IsAuthenticating bool     `json:"isAuthenticating,omitempty"`
	Output           []string `json:"output,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// ContentBlock is an Anthropic-style content block inside an assistant
// message envelope. Used to extract text and tool names for plugin events
// and auto-naming; the envelope itself is passed through as raw JSON.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

// MessageEnvelope is the assistant message payload carried on assistant
// frames.
type MessageEnvelope struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Browser message types (browser inbound).
const (
	BrowserTypeUserMessage        = "user_message"
	BrowserTypePermissionResponse = "permission_response"
	BrowserTypeInterrupt          = "interrupt"
	BrowserTypeSetModel           = "set_model"
	BrowserTypeSetPermissionMode  = "set_permission_mode"
	BrowserTypeMCPGetStatus       = "mcp_get_status"
	BrowserTypeMCPToggle          = "mcp_toggle"
	BrowserTypeMCPReconnect       = "mcp_reconnect"
	BrowserTypeMCPSetServers      = "mcp_set_servers"
	BrowserTypeSubscribe          = "session_subscribe"
	BrowserTypeAck                = "session_ack"
)

// Image is an inline image attached to a user message.
type Image struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// BrowserMessage is one parsed frame from a browser connection.
type BrowserMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`

	// user_message
	Content string  `json:"content,omitempty"`
	Images  []Image `json:"images,omitempty"`

	// permission_response
	RequestID          string          `json:"request_id,omitempty"`
	Behavior           string          `json:"behavior,omitempty"`
	UpdatedInput       json.RawMessage `json:"updated_input,omitempty"`
	UpdatedPermissions json.RawMessage `json:"updated_permissions,omitempty"`
	Message            string          `json:"message,omitempty"`

	// set_model / set_permission_mode
	Model string `json:"model,omitempty"`
	Mode  string `json:"mode,omitempty"`

	// mcp_toggle / mcp_reconnect / mcp_set_servers
	ServerName string          `json:"server_name,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Servers    json.RawMessage `json:"servers,omitempty"`

	// session_subscribe / session_ack
	LastSeq uint64 `json:"last_seq,omitempty"`
}

// History entry kinds.
const (
	HistoryUserMessage      = "user_message"
	HistoryAssistantMessage = "assistant_message"
	HistoryResult           = "result"
	HistorySystemError      = "system_error"
)

// ResultInfo is the durable subset of a result frame kept in history.
type ResultInfo struct {
	TotalCostUSD float64         `json:"total_cost_usd"`
	NumTurns     int             `json:"num_turns"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	Error        string          `json:"error,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`
}

// HistoryEntry is one durable conversation record.
type HistoryEntry struct {
	Kind            string          `json:"kind"`
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Content         string          `json:"content,omitempty"`
	Images          []Image         `json:"images,omitempty"`
	Message         json.RawMessage `json:"message,omitempty"`
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`
	Result          *ResultInfo     `json:"result,omitempty"`
}

// PermissionRecord is an unanswered can_use_tool request.
type PermissionRecord struct {
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	Input       json.RawMessage `json:"input,omitempty"`
	Description string          `json:"description,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// RepoInfo is cached repository metadata resolved from a session's working
// directory. All fields are zero when the directory is not a git checkout or
// resolution failed.
type RepoInfo struct {
	Branch     string `json:"branch"`
	IsWorktree bool   `json:"is_worktree"`
	RepoRoot   string `json:"repo_root"`
	Ahead      int    `json:"ahead"`
	Behind     int    `json:"behind"`
}

// SessionState is the UI-visible snapshot of a session.
type SessionState struct {
	SessionID          string      `json:"session_id"`
	Name               string      `json:"name,omitempty"`
	BackendKind        string      `json:"backend_kind"`
	Model              string      `json:"model"`
	CWD                string      `json:"cwd"`
	Tools              []string    `json:"tools,omitempty"`
	PermissionMode     string      `json:"permissionMode,omitempty"`
	Version            string      `json:"version,omitempty"`
	MCPServers         []MCPServer `json:"mcp_servers,omitempty"`
	Agents             []string    `json:"agents,omitempty"`
	SlashCommands      []string    `json:"slash_commands,omitempty"`
	Skills             []string    `json:"skills,omitempty"`
	TotalCostUSD       float64     `json:"total_cost_usd"`
	NumTurns           int         `json:"num_turns"`
	ContextUsedPercent float64     `json:"context_used_percent"`
	IsCompacting       bool        `json:"is_compacting"`
	GitBranch          string      `json:"git_branch,omitempty"`
	IsWorktree         bool        `json:"is_worktree,omitempty"`
	RepoRoot           string      `json:"repo_root,omitempty"`
	GitAhead           int         `json:"git_ahead,omitempty"`
	GitBehind          int         `json:"git_behind,omitempty"`
	TotalLinesAdded    int         `json:"total_lines_added"`
	TotalLinesRemoved  int         `json:"total_lines_removed"`
}

// BufferedEvent is one (seq, frame) pair in the replay buffer.
type BufferedEvent struct {
	Seq   uint64          `json:"seq"`
	Frame json.RawMessage `json:"frame"`
}

// PersistedSession is the durable form of a session, written to and read
// from the session store. Unknown fields are tolerated on read; missing
// fields default per the bridge's restore path.
type PersistedSession struct {
	ID                 string             `json:"id"`
	State              SessionState       `json:"state"`
	History            []HistoryEntry     `json:"history"`
	OutboundQueue      []json.RawMessage  `json:"outbound_queue,omitempty"`
	PendingPerms       []PermissionRecord `json:"pending_perms,omitempty"`
	EventBuffer        []BufferedEvent    `json:"event_buffer,omitempty"`
	NextSeq            uint64             `json:"next_seq,omitempty"`
	LastAckSeq         uint64             `json:"last_ack_seq,omitempty"`
	ProcessedClientIDs []string           `json:"processed_client_ids,omitempty"`
}
