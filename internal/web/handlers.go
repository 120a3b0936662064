package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/wire"
)

// sessionRow is the dashboard list view of one session.
type sessionRow struct {
	ID           string
	Name         string
	BackendKind  string
	Model        string
	CWD          string
	GitBranch    string
	Connected    bool
	BrowserCount int
	NumTurns     int
	TotalCostUSD float64
}

// historyRow is one rendered transcript entry on the session page.
type historyRow struct {
	Kind      string
	Timestamp time.Time
	Text      string
	IsError   bool
}

func toSessionRow(s *bridge.Session) sessionRow {
	state := s.State()
	name := state.Name
	if name == "" {
		name = s.ID
	}
	return sessionRow{
		ID:           s.ID,
		Name:         name,
		BackendKind:  s.BackendKind(),
		Model:        state.Model,
		CWD:          state.CWD,
		GitBranch:    state.GitBranch,
		Connected:    s.UpstreamConnected(),
		BrowserCount: s.BrowserCount(),
		NumTurns:     state.NumTurns,
		TotalCostUSD: state.TotalCostUSD,
	}
}

// historyText flattens a transcript entry to displayable text. Assistant
// entries carry a content-block envelope; the text blocks are joined and
// tool uses are summarized by name.
func historyText(e wire.HistoryEntry) string {
	if e.Content != "" {
		return e.Content
	}
	if len(e.Message) == 0 {
		return ""
	}
	var env wire.MessageEnvelope
	if err := json.Unmarshal(e.Message, &env); err != nil {
		return ""
	}
	var parts []string
	for _, block := range env.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "tool_use":
			parts = append(parts, "*using tool "+block.Name+"*")
		}
	}
	return strings.Join(parts, "\n\n")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sessions := s.reg.List()
	rows := make([]sessionRow, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, toSessionRow(sess))
	}
	data := map[string]any{
		"Sessions": rows,
	}
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.reg.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	entries := sess.History()
	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		row := historyRow{
			Kind:      e.Kind,
			Timestamp: e.Timestamp,
			Text:      historyText(e),
		}
		if e.Result != nil && e.Result.IsError {
			row.IsError = true
		}
		if e.Kind == wire.HistorySystemError {
			row.IsError = true
		}
		rows = append(rows, row)
	}

	data := map[string]any{
		"Session": toSessionRow(sess),
		"State":   sess.State(),
		"History": rows,
	}
	if err := s.tmpl.ExecuteTemplate(w, "session.html", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}
