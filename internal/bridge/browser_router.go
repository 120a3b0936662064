package bridge

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/wire"
)

// Status refresh delays after MCP mutations. The CLI needs a moment to apply
// the change before a status fetch reflects it.
const (
	mcpToggleRefreshDelay     = 500 * time.Millisecond
	mcpReconnectRefreshDelay  = 1000 * time.Millisecond
	mcpSetServersRefreshDelay = 2000 * time.Millisecond
)

// HandleBrowserData parses one frame from a browser connection and routes it.
func (s *Session) HandleBrowserData(t Transport, data []byte) {
	var msg wire.BrowserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logf("dropping unparseable browser frame: %v", err)
		return
	}
	s.HandleBrowserMessage(t, msg)
}

// HandleBrowserMessage routes one browser message. Checks run in a fixed
// order: the subscribe/ack fast path (never filtered), the idempotency gate
// for retried mutating messages, then per-type dispatch. User messages go
// through the per-session serializer so plugin middleware observes them in
// strict arrival order.
func (s *Session) HandleBrowserMessage(t Transport, msg wire.BrowserMessage) {
	switch msg.Type {
	case wire.BrowserTypeSubscribe:
		s.handleSubscribe(t, msg.LastSeq)
		return
	case wire.BrowserTypeAck:
		s.handleAck(t, msg.LastSeq)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if msg.ClientMsgID != "" {
		if _, mutating := mutatingBrowserTypes[msg.Type]; mutating {
			if s.ledger.has(msg.ClientMsgID) {
				return
			}
			s.ledger.remember(msg.ClientMsgID)
			s.save()
		}
	}

	if msg.Type == wire.BrowserTypeUserMessage {
		select {
		case s.userMsgCh <- msg:
		default:
			// The dropped message was never processed; releasing its id lets
			// the client retry instead of being deduped against nothing.
			s.ledger.forget(msg.ClientMsgID)
			s.save()
			s.logf("user message mailbox full, dropping message %q", msg.ClientMsgID)
		}
		return
	}

	if s.backendKind == wire.BackendSubprocess {
		// Subprocess control messages stay in browser form; with no adapter
		// attached they queue until one arrives, same as user messages.
		s.forwardToAdapter(msg)
		return
	}

	switch msg.Type {
	case wire.BrowserTypePermissionResponse:
		s.handlePermissionResponse(msg)
	case wire.BrowserTypeInterrupt:
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "interrupt", nil))
	case wire.BrowserTypeSetModel:
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "set_model", map[string]any{
			"model": msg.Model,
		}))
	case wire.BrowserTypeSetPermissionMode:
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "set_permission_mode", map[string]any{
			"mode": msg.Mode,
		}))
	case wire.BrowserTypeMCPGetStatus:
		s.requestMCPStatusLocked()
	case wire.BrowserTypeMCPToggle:
		fields := map[string]any{"server_name": msg.ServerName}
		if msg.Enabled != nil {
			fields["enabled"] = *msg.Enabled
		}
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "mcp_toggle", fields))
		s.scheduleMCPRefresh(mcpToggleRefreshDelay)
	case wire.BrowserTypeMCPReconnect:
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "mcp_reconnect", map[string]any{
			"server_name": msg.ServerName,
		}))
		s.scheduleMCPRefresh(mcpReconnectRefreshDelay)
	case wire.BrowserTypeMCPSetServers:
		s.sendUpstream(upstreamControlRequest(uuid.NewString(), "mcp_set_servers", map[string]any{
			"servers": msg.Servers,
		}))
		s.scheduleMCPRefresh(mcpSetServersRefreshDelay)
	default:
		// Unknown browser message type; forward-compatible no-op.
	}
}

// handlePermissionResponse answers a pending permission toward upstream.
// A response for an unknown request id is still forwarded — the upstream may
// have already forgotten the request and treats the answer as inconsequential.
func (s *Session) handlePermissionResponse(msg wire.BrowserMessage) {
	rec, known := s.perms.remove(msg.RequestID)
	behavior := normalizeBehavior(msg.Behavior)

	var resp map[string]any
	if behavior == "allow" {
		input := msg.UpdatedInput
		if len(input) == 0 && known {
			input = rec.Input
		}
		resp = allowResponse(input, msg.UpdatedPermissions)
	} else {
		if msg.Behavior != "deny" && msg.Behavior != "" {
			s.logf("unknown permission behavior %q from browser, treating as deny", msg.Behavior)
		}
		resp = denyResponse(msg.Message)
	}
	s.sendUpstream(upstreamControlResponse(msg.RequestID, resp))
	if known {
		s.save()
	}
	s.emitPermissionResponded(msg.RequestID, behavior, false, false, "")
}

// forwardToAdapter hands a control message to the subprocess adapter, or
// queues it in browser form while none is attached. The permission_response
// path additionally clears the pending entry and emits the responded event,
// mirroring the primary path.
func (s *Session) forwardToAdapter(msg wire.BrowserMessage) {
	if msg.Type == wire.BrowserTypePermissionResponse {
		s.perms.remove(msg.RequestID)
		s.save()
		defer s.emitPermissionResponded(msg.RequestID, normalizeBehavior(msg.Behavior), false, false, "")
	}
	s.forwardOrQueueAdapter(msg)
}

// --- MCP status plumbing -------------------------------------------------

// requestMCPStatusLocked issues an mcp_status control-request whose response
// refreshes browsers. Caller holds s.mu.
func (s *Session) requestMCPStatusLocked() {
	requestID := uuid.NewString()
	s.ctrl.put(requestID, "mcp_status", func(response []byte, errMsg string) {
		// Runs under the session lock from the control_response handler.
		if errMsg != "" {
			return
		}
		var payload struct {
			Servers json.RawMessage `json:"servers"`
		}
		if err := json.Unmarshal(response, &payload); err != nil {
			s.logf("malformed mcp_status response: %v", err)
			return
		}
		var servers []wire.MCPServer
		if err := json.Unmarshal(payload.Servers, &servers); err == nil {
			s.state.MCPServers = servers
			s.save()
		}
		s.broadcast(frameMCPStatus, map[string]any{"servers": payload.Servers}, true)
		s.emitPlugin(s.newEvent(EventMCPStatusChanged, s.eventSource(), requestID, map[string]any{
			"servers": payload.Servers,
		}))
	})
	s.sendUpstream(upstreamControlRequest(requestID, "mcp_status", nil))
}

// scheduleMCPRefresh fetches MCP status after a delay so the mutation has
// taken effect upstream.
func (s *Session) scheduleMCPRefresh(delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.adapter != nil {
			return
		}
		s.requestMCPStatusLocked()
	})
}

// --- subscribe / ack -----------------------------------------------------

// handleSubscribe replays what the browser missed since lastSeq. Small gaps
// replay straight from the buffer; gaps the bounded buffer cannot cover fall
// back to a full history snapshot plus the buffered transient events.
func (s *Session) handleSubscribe(t Transport, lastSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	highWater := s.seq.nextSeq - 1
	if lastSeq >= highWater {
		return
	}

	earliest := s.seq.earliest()
	bufferCovers := earliest != 0 && (lastSeq == 0 || lastSeq >= earliest-1)

	if bufferCovers {
		s.replayEvents(t, s.seq.after(lastSeq), false)
		return
	}
	if lastSeq == 0 && earliest == 0 {
		// Nothing buffered and the browser has seen nothing: the attach-time
		// history snapshot already covers it.
		return
	}

	// Gap exceeds the buffer window. History covers the durable events;
	// transient ones replay from whatever the buffer still holds.
	s.sendTo(t, frame(frameMessageHistory, map[string]any{"messages": s.history.all()}))
	s.replayEvents(t, s.seq.after(lastSeq), true)
}

// replayEvents sends buffered events to one browser as a single event_replay
// frame. With transientOnly set, history-backed kinds are skipped to avoid
// double delivery next to a history snapshot.
func (s *Session) replayEvents(t Transport, events []bufferedEvent, transientOnly bool) {
	replay := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		if transientOnly && isHistoryBacked(ev.frameType) {
			continue
		}
		replay = append(replay, map[string]any{
			"seq":     ev.seq,
			"message": ev.raw,
		})
	}
	if len(replay) == 0 {
		return
	}
	s.sendTo(t, frame(frameEventReplay, map[string]any{"events": replay}))
}

// handleAck advances the browser's and the session's acknowledged positions.
// Acks never move backwards.
func (s *Session) handleAck(t Transport, lastSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if highWater := s.seq.nextSeq - 1; lastSeq > highWater {
		lastSeq = highWater
	}
	if cur, attached := s.browsers[t]; attached && lastSeq > cur {
		s.browsers[t] = lastSeq
	}
	if lastSeq > s.lastAckSeq {
		s.lastAckSeq = lastSeq
		s.save()
	}
}
