package bridge

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/joestump/claude-relay/internal/wire"
)

// Registry owns every live session and the collaborator references shared
// between them. Its map has its own mutex; per-session state is guarded by
// the session's lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store     Store
	plugins   PluginManager
	repos     RepoResolver
	callbacks Callbacks
	opts      Options
}

// NewRegistry wires a registry with its collaborators. Any of store, plugins
// and repos may be nil; the corresponding hooks become no-ops.
func NewRegistry(store Store, plugins PluginManager, repos RepoResolver, opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		plugins:  plugins,
		repos:    repos,
		opts:     opts.withDefaults(),
	}
}

// RegisterCLISessionIDCallback installs the hook fired when the upstream
// reports its internal session id.
func (r *Registry) RegisterCLISessionIDCallback(cb func(sessionID, cliSessionID string)) {
	r.callbacks.CLISessionID = cb
}

// RegisterRelaunchCallback installs the hook asking the launcher to start a
// new upstream process for a session.
func (r *Registry) RegisterRelaunchCallback(cb func(sessionID string)) {
	r.callbacks.Relaunch = cb
}

// RegisterFirstTurnCallback installs the hook fired once per session when the
// first non-error result lands after a user message.
func (r *Registry) RegisterFirstTurnCallback(cb func(sessionID, firstUserText string)) {
	r.callbacks.FirstTurn = cb
}

// RegisterGitReadyCallback installs the hook fired when repository metadata
// resolves to a branch.
func (r *Registry) RegisterGitReadyCallback(cb func(sessionID, cwd, branch string)) {
	r.callbacks.GitReady = cb
}

// GetOrCreate returns the session for id, creating it if needed. A non-empty
// backendKind is applied even to an existing session — callers that don't
// care pass "" so an unadorned browser attach can never overwrite a
// deliberately subprocess-typed session. The subprocess kind is sticky:
// a session never reverts to primary.
func (r *Registry) GetOrCreate(id, backendKind string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = newSession(r, id, backendKind)
		r.sessions[id] = s
		s.mu.Lock()
		s.save()
		s.mu.Unlock()
		return s
	}
	if backendKind != "" {
		s.setBackendKind(backendKind)
	}
	return s
}

// setBackendKind applies an explicitly requested kind, ignoring attempts to
// revert subprocess back to primary.
func (s *Session) setBackendKind(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backendKind == wire.BackendSubprocess && kind == wire.BackendPrimary {
		return
	}
	if s.backendKind != kind {
		s.backendKind = kind
		s.state.BackendKind = kind
		s.save()
	}
}

// Get returns the session for id, if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseSession tears a session down completely: upstream closed, adapter
// asked to disconnect, browsers closed, the session deleted and its
// persisted record removed.
func (r *Registry) CloseSession(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	s.close()
	if r.store != nil {
		r.store.Remove(id)
	}
	return nil
}

// RemoveSession deletes a session whose sockets the caller already took
// offline. Sockets are left untouched; the serializer worker is stopped.
func (r *Registry) RemoveSession(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.userMsgCh)
	}
	s.mu.Unlock()
	if r.store != nil {
		r.store.Remove(id)
	}
}

// CloseAll closes every session, for server shutdown. Persisted records are
// kept so the sessions restore on the next start.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// RestoreFromDisk loads every persisted session from the store and brings it
// back as a live session with no sockets attached. Repository metadata is
// refreshed in the background.
func (r *Registry) RestoreFromDisk() error {
	if r.store == nil {
		return nil
	}
	persisted, err := r.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load persisted sessions: %w", err)
	}

	for _, ps := range persisted {
		if ps.ID == "" {
			continue
		}
		s := newSession(r, ps.ID, ps.State.BackendKind)
		s.restoreFrom(ps)

		r.mu.Lock()
		if _, exists := r.sessions[ps.ID]; exists {
			r.mu.Unlock()
			s.close()
			continue
		}
		r.sessions[ps.ID] = s
		r.mu.Unlock()

		s.mu.Lock()
		s.refreshRepoMeta(false)
		s.mu.Unlock()
	}
	if len(persisted) > 0 {
		log.Printf("restored %d session(s) from disk", len(persisted))
	}
	return nil
}

// SetSessionName names a session, notifying browsers and the store.
func (r *Registry) SetSessionName(id, name string) {
	if s, ok := r.Get(id); ok {
		s.SetName(name)
	}
}
