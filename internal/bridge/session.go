package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/wire"
)

// compactingStaleAfter is how long a session may sit with is_compacting set
// and no upstream before a browser attach clears the flag and allows a
// relaunch. Compaction that is genuinely still running re-sets the flag on
// its next status frame.
const compactingStaleAfter = 10 * time.Minute

// Session is one conversation between an upstream CLI and zero or more
// browsers. It survives browser reconnects, CLI process deaths and server
// restarts. All state is guarded by one coarse mutex; handlers within a
// session run serialized, sessions run independently of each other.
type Session struct {
	ID  string
	reg *Registry

	mu          sync.Mutex
	backendKind string
	state       wire.SessionState
	upstream    Transport
	adapter     Adapter
	browsers    map[Transport]uint64 // attached browser -> acked seq

	history  *historyLog
	outbound *outboundQueue
	perms    *pendingPerms
	ctrl     *pendingCtrl
	seq      *sequencer
	ledger   *idLedger

	lastAckSeq   uint64
	startedTools map[string]struct{}

	// snapshotSeq is the seq consumed by the most recent session_init
	// broadcast; per-socket snapshots sent on browser attach carry it so a
	// client can subscribe from a coherent position.
	snapshotSeq uint64

	autoNamingDone  bool
	compactingSince time.Time
	parser          lineParser

	userMsgCh chan wire.BrowserMessage
	closed    bool
}

func newSession(reg *Registry, id, backendKind string) *Session {
	if backendKind == "" {
		backendKind = wire.BackendPrimary
	}
	opts := reg.opts
	s := &Session{
		ID:           id,
		reg:          reg,
		backendKind:  backendKind,
		browsers:     make(map[Transport]uint64),
		history:      newHistoryLog(opts.HistoryLimit),
		outbound:     &outboundQueue{},
		perms:        newPendingPerms(),
		ctrl:         newPendingCtrl(),
		seq:          newSequencer(opts.EventBufferLimit),
		ledger:       newIDLedger(opts.ProcessedIDLimit),
		startedTools: make(map[string]struct{}),
		userMsgCh:    make(chan wire.BrowserMessage, 64),
	}
	s.state.BackendKind = backendKind
	go s.userMessageWorker()
	return s
}

func (s *Session) logf(format string, args ...any) {
	log.Printf("session %s: "+format, append([]any{s.ID}, args...)...)
}

// BackendKind returns the session's upstream kind.
func (s *Session) BackendKind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendKind
}

// State returns a copy of the UI-visible snapshot.
func (s *Session) State() wire.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the durable conversation log.
func (s *Session) History() []wire.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.all()
}

// --- broadcast and per-socket sends ------------------------------------

// broadcast tags a frame with the next seq and writes it to every attached
// browser. A browser whose write fails is removed immediately; the rest
// still receive the frame. Caller holds s.mu.
func (s *Session) broadcast(frameType string, fields map[string]any, replayable bool) uint64 {
	seq, raw, err := s.seq.tag(frameType, frame(frameType, fields), replayable)
	if err != nil {
		s.logf("marshal %s frame: %v", frameType, err)
		return 0
	}
	for t := range s.browsers {
		if err := t.Send(raw); err != nil {
			s.dropBrowser(t, err)
		}
	}
	s.save()
	return seq
}

// sendTo writes one frame to a single browser, outside the sequencer.
// Used for per-socket snapshots and replays on attach/subscribe.
func (s *Session) sendTo(t Transport, fields map[string]any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		s.logf("marshal %v frame: %v", fields["type"], err)
		return
	}
	if err := t.Send(raw); err != nil {
		s.dropBrowser(t, err)
	}
}

func (s *Session) dropBrowser(t Transport, err error) {
	s.logf("browser write failed, dropping socket: %v", err)
	delete(s.browsers, t)
	_ = t.Close()
}

// sessionSnapshotFields builds the session_init payload. Caller holds s.mu.
func (s *Session) sessionSnapshotFields() map[string]any {
	return map[string]any{
		"session": map[string]any{
			"id":           s.ID,
			"backend_kind": s.backendKind,
			"state":        s.state,
		},
	}
}

// broadcastSnapshot broadcasts a full session_init to all browsers and
// records its seq as the snapshot position. Snapshots are not replayable.
func (s *Session) broadcastSnapshot() {
	s.snapshotSeq = s.broadcast(frameSessionInit, s.sessionSnapshotFields(), false)
}

// broadcastStateUpdate broadcasts a session_update patch. Transient.
func (s *Session) broadcastStateUpdate(patch map[string]any) {
	s.broadcast(frameSessionUpdate, map[string]any{"session": patch}, true)
}

// --- upstream sends ------------------------------------------------------

// sendUpstream serializes a CLI-bound frame and writes it to the upstream
// transport, or queues it when none is attached. Queued frames drain in
// order on the next attach. Caller holds s.mu.
func (s *Session) sendUpstream(f map[string]any) {
	raw, err := json.Marshal(f)
	if err != nil {
		s.logf("marshal upstream frame: %v", err)
		return
	}
	s.sendUpstreamRaw(raw)
}

func (s *Session) sendUpstreamRaw(raw json.RawMessage) {
	if s.upstream == nil {
		s.outbound.push(raw)
		s.save()
		return
	}
	if err := s.upstream.Send(raw); err != nil {
		s.logf("upstream write failed, queueing frame: %v", err)
		s.outbound.push(raw)
		s.save()
	}
}

// drainOutbound flushes the deferred queue to a freshly attached upstream.
// On a mid-drain failure the remaining frames stay queued. Caller holds s.mu.
func (s *Session) drainOutbound() {
	if s.upstream == nil || s.outbound.len() == 0 {
		return
	}
	n := s.outbound.len()
	err := s.outbound.drainTo(func(f json.RawMessage) error {
		return s.upstream.Send(f)
	})
	if err != nil {
		s.logf("outbound drain stopped after %d/%d frames: %v", n-s.outbound.len(), n, err)
	}
	s.save()
}

// --- attach / detach -----------------------------------------------------

// HandleCLIOpen attaches the primary upstream transport. Any queued frames
// drain immediately in enqueue order.
func (s *Session) HandleCLIOpen(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	s.upstream = t
	s.parser.reset()
	s.broadcast(frameCLIConnected, nil, true)
	s.drainOutbound()
}

// HandleCLIClose detaches the upstream transport t. If a newer transport has
// already replaced t the call is a no-op, so a stale connection's teardown
// cannot detach its successor. The session stays alive: pending permissions
// are cancelled toward browsers, awaiting control callbacks are discarded,
// and the launcher is asked to relaunch when a browser is still watching and
// the session is not compacting.
func (s *Session) HandleCLIClose(t Transport) {
	s.mu.Lock()
	if t != nil && s.upstream != t {
		s.mu.Unlock()
		return
	}
	s.upstream = nil
	s.parser.reset()
	for _, rec := range s.perms.drain() {
		s.broadcast(framePermissionCancelled, map[string]any{"request_id": rec.RequestID}, true)
	}
	s.ctrl.clear()
	s.broadcast(frameCLIDisconnected, nil, true)
	s.emitPlugin(s.newEvent(EventSessionDisconnected, s.eventSource(), "", nil))
	s.save()
	relaunch := len(s.browsers) > 0 && !s.state.IsCompacting
	s.mu.Unlock()

	if relaunch {
		s.requestRelaunch()
	}
}

// HandleCLIData feeds one chunk of the upstream NDJSON stream.
func (s *Session) HandleCLIData(chunk []byte) {
	s.mu.Lock()
	for _, msg := range s.parser.feed(chunk) {
		s.handleCLIMessage(msg)
	}
	s.mu.Unlock()
}

// InjectUpstream dispatches one pre-parsed upstream message, as delivered by
// a subprocess adapter (or a test harness), through the same handlers as the
// NDJSON path.
func (s *Session) InjectUpstream(msg wire.CLIMessage) {
	s.mu.Lock()
	s.handleCLIMessage(msg)
	s.mu.Unlock()
}

// HandleBrowserOpen attaches a browser and brings it up to date: snapshot,
// history replay, pending permission re-sends, and the current upstream
// connection state.
func (s *Session) HandleBrowserOpen(t Transport) {
	s.mu.Lock()
	s.browsers[t] = 0

	s.refreshRepoMeta(false)

	snapshot := frame(frameSessionInit, s.sessionSnapshotFields())
	snapshot["seq"] = s.snapshotSeq
	s.sendTo(t, snapshot)

	if s.history.len() > 0 {
		s.sendTo(t, frame(frameMessageHistory, map[string]any{"messages": s.history.all()}))
	}
	for _, rec := range s.perms.all() {
		s.sendTo(t, frame(framePermissionRequest, map[string]any{"request": rec}))
	}

	relaunch := false
	if s.upstream == nil {
		s.sendTo(t, frame(frameCLIDisconnected, nil))
		if s.state.IsCompacting && !s.compactingSince.IsZero() &&
			time.Since(s.compactingSince) > compactingStaleAfter {
			// Compaction never reported completion; assume the process died
			// mid-compaction and let the relaunch path recover the session.
			s.logf("clearing stale is_compacting flag (set %s ago)", time.Since(s.compactingSince).Round(time.Second))
			s.state.IsCompacting = false
			s.save()
		}
		adapterStarting := s.adapter != nil && !s.adapter.Ready()
		relaunch = s.adapter == nil && !s.state.IsCompacting && !adapterStarting
	}
	s.mu.Unlock()

	if relaunch {
		s.requestRelaunch()
	}
}

// HandleBrowserClose detaches one browser. Losing every browser does not
// destroy the session.
func (s *Session) HandleBrowserClose(t Transport) {
	s.mu.Lock()
	delete(s.browsers, t)
	s.mu.Unlock()
}

// BrowserCount reports how many browsers are attached.
func (s *Session) BrowserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.browsers)
}

// UpstreamConnected reports whether a CLI transport or a ready adapter is
// currently attached.
func (s *Session) UpstreamConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		return true
	}
	return s.adapter != nil && s.adapter.Ready()
}

// AttachAdapter installs a subprocess adapter as the upstream path. The
// backend kind switches to subprocess and never reverts for the lifetime of
// the session.
func (s *Session) AttachAdapter(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		_ = s.upstream.Close()
		s.upstream = nil
	}
	s.adapter = a
	s.backendKind = wire.BackendSubprocess
	s.state.BackendKind = wire.BackendSubprocess
	s.broadcast(frameCLIConnected, nil, true)
	s.drainToAdapter()
	s.save()
}

// AdapterDisconnected mirrors an upstream close for the adapter path.
func (s *Session) AdapterDisconnected() {
	s.mu.Lock()
	s.adapter = nil
	for _, rec := range s.perms.drain() {
		s.broadcast(framePermissionCancelled, map[string]any{"request_id": rec.RequestID}, true)
	}
	s.ctrl.clear()
	s.broadcast(frameCLIDisconnected, nil, true)
	s.emitPlugin(s.newEvent(EventSessionDisconnected, s.eventSource(), "", nil))
	s.save()
	s.mu.Unlock()
}

// UpdateAdapterMetadata applies model/cwd reported by a subprocess adapter
// and refreshes repository metadata for the new working directory.
func (s *Session) UpdateAdapterMetadata(model, cwd string) {
	s.mu.Lock()
	patch := map[string]any{}
	if model != "" && model != s.state.Model {
		s.state.Model = model
		patch["model"] = model
	}
	if cwd != "" && cwd != s.state.CWD {
		s.state.CWD = cwd
		patch["cwd"] = cwd
	}
	if len(patch) > 0 {
		s.broadcastStateUpdate(patch)
		s.save()
		s.refreshRepoMeta(true)
	}
	s.mu.Unlock()
}

// PublishError records a fault in the transcript and notifies browsers with
// an error frame. Used for failures that happen outside the upstream wire,
// e.g. a CLI process that could not be started.
func (s *Session) PublishError(message string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.history.append(wire.HistoryEntry{
		Kind:      wire.HistorySystemError,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Content:   message,
	})
	s.broadcast(frameError, map[string]any{"message": message}, true)
	s.save()
	s.mu.Unlock()
}

// SetName records the session's display name and notifies browsers.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.state.Name = name
	s.broadcast(frameSessionNameUpdate, map[string]any{"name": name}, true)
	s.save()
	s.mu.Unlock()
}

// close tears down sockets and the serializer worker. Called by the Registry
// with the session already removed from its map.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.userMsgCh)
	upstream := s.upstream
	adapter := s.adapter
	s.upstream = nil
	s.adapter = nil
	browsers := make([]Transport, 0, len(s.browsers))
	for t := range s.browsers {
		browsers = append(browsers, t)
	}
	s.browsers = make(map[Transport]uint64)
	s.mu.Unlock()

	if upstream != nil {
		_ = upstream.Close()
	}
	if adapter != nil {
		go adapter.Disconnect()
	}
	for _, t := range browsers {
		_ = t.Close()
	}
}

// --- collaborator plumbing ----------------------------------------------

func (s *Session) eventSource() string {
	if s.backendKind == wire.BackendSubprocess {
		return "adapter"
	}
	return "bridge"
}

// requestRelaunch asks the launcher to start a new upstream process. Always
// invoked off the session lock.
func (s *Session) requestRelaunch() {
	if cb := s.reg.callbacks.Relaunch; cb != nil {
		go cb(s.ID)
	}
}

// refreshRepoMeta resolves repository metadata for the current cwd on a
// separate goroutine; the resolver bounds its own execution time. When
// broadcastUpdate is set, browsers receive a session_update with the new
// metadata. Caller holds s.mu.
func (s *Session) refreshRepoMeta(broadcastUpdate bool) {
	resolver := s.reg.repos
	if resolver == nil || s.state.CWD == "" {
		return
	}
	cwd := s.state.CWD
	go func() {
		info := resolver.Resolve(context.Background(), cwd)

		s.mu.Lock()
		if s.closed || s.state.CWD != cwd {
			s.mu.Unlock()
			return
		}
		changed := info.Branch != s.state.GitBranch ||
			info.RepoRoot != s.state.RepoRoot ||
			info.IsWorktree != s.state.IsWorktree ||
			info.Ahead != s.state.GitAhead ||
			info.Behind != s.state.GitBehind
		s.state.GitBranch = info.Branch
		s.state.IsWorktree = info.IsWorktree
		s.state.RepoRoot = info.RepoRoot
		s.state.GitAhead = info.Ahead
		s.state.GitBehind = info.Behind
		if changed {
			if broadcastUpdate || len(s.browsers) > 0 {
				s.broadcastStateUpdate(map[string]any{
					"git_branch":  info.Branch,
					"is_worktree": info.IsWorktree,
					"repo_root":   info.RepoRoot,
					"git_ahead":   info.Ahead,
					"git_behind":  info.Behind,
				})
			}
			s.save()
		}
		s.mu.Unlock()

		if changed && info.Branch != "" {
			if cb := s.reg.callbacks.GitReady; cb != nil {
				cb(s.ID, cwd, info.Branch)
			}
		}
	}()
}
