// Package web serves the relay's HTTP surface: the REST API for session
// lifecycle, the browser and CLI WebSocket endpoints, and a read-only
// dashboard.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// Launcher starts the CLI process backing a session.
type Launcher interface {
	Launch(sessionID string)
	Stop(sessionID string)
}

// Server is the relay's HTTP server.
type Server struct {
	cfg      config.Config
	reg      *bridge.Registry
	launcher Launcher
	mux      *http.ServeMux
	tmpl     *template.Template
	md       goldmark.Markdown
	server   *http.Server
}

// New creates the web server. launcher may be nil when no local CLI spawning
// is wanted; sessions then wait for a WebSocket or adapter upstream.
func New(cfg config.Config, reg *bridge.Registry, launcher Launcher) *Server {
	s := &Server{
		cfg:      cfg,
		reg:      reg,
		launcher: launcher,
		mux:      http.NewServeMux(),
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	s.parseTemplates()
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("relay listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) parseTemplates() {
	funcMap := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04:05 UTC")
		},
		"markdown": func(text string) template.HTML {
			var buf bytes.Buffer
			if err := s.md.Convert([]byte(text), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(text))
			}
			return template.HTML(buf.String())
		},
	}
	s.tmpl = template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleAPIHealth)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleAPIListSessions)
	s.mux.HandleFunc("POST /api/v1/sessions", s.handleAPICreateSession)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleAPIGetSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleAPIDeleteSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/name", s.handleAPISetSessionName)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.handleAPISendMessage)

	s.mux.HandleFunc("GET /ws/browser/{id}", s.handleBrowserWS)
	s.mux.HandleFunc("GET /ws/cli/{id}", s.handleCLIWS)

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleSessionPage)
}
