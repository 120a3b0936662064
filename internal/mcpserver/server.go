// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes relay sessions as typed tools over stdio JSON-RPC. Tools talk to a
// running relay through its HTTP API, so the MCP process stays stateless.
package mcpserver

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/claude-relay/internal/config"
)

// Server holds the MCP server state and configuration.
type Server struct {
	baseURL string
	client  *http.Client
}

// NewServer creates an MCP server that targets the relay at baseURL.
func NewServer(baseURL string) *Server {
	if baseURL == "" {
		baseURL = os.Getenv("CLAUDERELAY_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8600"
	}
	return &Server{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Run starts the MCP stdio server. It blocks until the context is cancelled
// or stdin is closed.
func Run(baseURL string) error {
	s := NewServer(baseURL)

	mcpServer := server.NewMCPServer(
		"clauderelay",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: listSessionsTool(), Handler: s.handleListSessions},
		server.ServerTool{Tool: getSessionTool(), Handler: s.handleGetSession},
		server.ServerTool{Tool: createSessionTool(), Handler: s.handleCreateSession},
		server.ServerTool{Tool: sendMessageTool(), Handler: s.handleSendMessage},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(context.Background(), os.Stdin, os.Stdout)
}
