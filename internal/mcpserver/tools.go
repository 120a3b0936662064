package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// --- Tool Definitions ---

func listSessionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_sessions",
		"List all relay sessions with their connection state, model, and cost.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

func getSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_session",
		"Get one relay session by id, including its full state.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Relay session id"
				}
			},
			"required": ["session_id"]
		}`),
	)
}

func createSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"create_session",
		"Create a relay session (and launch its CLI process for primary-backend sessions).",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Session id to create (optional, generated when omitted)"
				},
				"backend_kind": {
					"type": "string",
					"enum": ["primary", "subprocess"],
					"description": "Upstream backend kind (default: primary)"
				}
			}
		}`),
	)
}

func sendMessageTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"send_message",
		"Send a user message into a relay session. The message is queued if the upstream is down.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Relay session id"
				},
				"content": {
					"type": "string",
					"description": "Message text"
				},
				"client_msg_id": {
					"type": "string",
					"description": "Idempotency key for retries (optional)"
				}
			},
			"required": ["session_id", "content"]
		}`),
	)
}

// --- Tool Handlers ---

type getSessionArgs struct {
	SessionID string `json:"session_id"`
}

type createSessionArgs struct {
	SessionID   string `json:"session_id"`
	BackendKind string `json:"backend_kind"`
}

type sendMessageArgs struct {
	SessionID   string `json:"session_id"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id"`
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.relayCall(ctx, http.MethodGet, "/api/v1/sessions", nil)
}

func (s *Server) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getSessionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	return s.relayCall(ctx, http.MethodGet, "/api/v1/sessions/"+args.SessionID, nil)
}

func (s *Server) handleCreateSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createSessionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	body := map[string]string{"id": args.SessionID, "backend_kind": args.BackendKind}
	return s.relayCall(ctx, http.MethodPost, "/api/v1/sessions", body)
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sendMessageArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" || args.Content == "" {
		return mcp.NewToolResultError("session_id and content are required"), nil
	}
	body := map[string]string{"content": args.Content, "client_msg_id": args.ClientMsgID}
	return s.relayCall(ctx, http.MethodPost, "/api/v1/sessions/"+args.SessionID+"/messages", body)
}

// relayCall performs one HTTP round trip against the relay API and returns
// the response body as a tool result.
func (s *Server) relayCall(ctx context.Context, method, path string, body any) (*mcp.CallToolResult, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build request: %v", err)), nil
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("relay unreachable at %s: %v", s.baseURL, err)), nil
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read relay response: %v", err)), nil
	}
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("relay returned %d: %s", resp.StatusCode, data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
