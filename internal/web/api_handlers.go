package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/wire"
)

// --- JSON Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireJSON checks the Content-Type header and returns false (with a 415
// response) if it is not application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// --- API Types ---

// APISession is the REST representation of one session. History is only
// populated on the single-session endpoint.
type APISession struct {
	ID           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	BackendKind  string              `json:"backend_kind"`
	Connected    bool                `json:"connected"`
	BrowserCount int                 `json:"browser_count"`
	State        wire.SessionState   `json:"state"`
	History      []wire.HistoryEntry `json:"history,omitempty"`
}

// APISessionsResponse wraps the list endpoint payload.
type APISessionsResponse struct {
	Sessions []APISession `json:"sessions"`
}

func toAPISession(s *bridge.Session) APISession {
	state := s.State()
	return APISession{
		ID:           s.ID,
		Name:         state.Name,
		BackendKind:  s.BackendKind(),
		Connected:    s.UpstreamConnected(),
		BrowserCount: s.BrowserCount(),
		State:        state,
	}
}

// --- API Handlers ---

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.reg.List()
	out := make([]APISession, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toAPISession(sess))
	}
	writeJSON(w, http.StatusOK, APISessionsResponse{Sessions: out})
}

func (s *Server) handleAPICreateSession(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		ID          string `json:"id"`
		BackendKind string `json:"backend_kind"`
		CWD         string `json:"cwd"`
		Model       string `json:"model"`
		Launch      *bool  `json:"launch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sess := s.reg.GetOrCreate(req.ID, req.BackendKind)
	if req.Model != "" || req.CWD != "" {
		// Seed the launch parameters; the upstream init frame refines them.
		sess.UpdateAdapterMetadata(req.Model, req.CWD)
	}

	launch := sess.BackendKind() == wire.BackendPrimary
	if req.Launch != nil {
		launch = *req.Launch
	}
	if launch && s.launcher != nil {
		go s.launcher.Launch(sess.ID)
	}

	writeJSON(w, http.StatusCreated, toAPISession(sess))
}

func (s *Server) handleAPIGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.reg.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	out := toAPISession(sess)
	out.History = sess.History()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.launcher != nil {
		s.launcher.Stop(id)
	}
	if err := s.reg.CloseSession(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleAPISetSessionName(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	sess, ok := s.reg.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.SetName(req.Name)
	writeJSON(w, http.StatusOK, toAPISession(sess))
}

// handleAPISendMessage injects a user message through the same path a
// browser socket would use, so queueing and idempotency apply.
func (s *Server) handleAPISendMessage(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		Content     string `json:"content"`
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	sess, ok := s.reg.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.HandleBrowserMessage(nil, wire.BrowserMessage{
		Type:        wire.BrowserTypeUserMessage,
		Content:     req.Content,
		ClientMsgID: req.ClientMsgID,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
