package bridge

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/wire"
)

// handleCLIMessage dispatches one upstream message. Unknown types are
// no-ops so newer CLIs remain compatible. Caller holds s.mu.
func (s *Session) handleCLIMessage(msg wire.CLIMessage) {
	switch msg.Type {
	case wire.CLITypeSystem:
		switch msg.Subtype {
		case "init":
			s.handleSystemInit(msg)
		case "status":
			s.handleSystemStatus(msg)
		}
	case wire.CLITypeAssistant:
		s.handleAssistant(msg)
	case wire.CLITypeResult:
		s.handleResult(msg)
	case wire.CLITypeStreamEvent:
		s.broadcast(frameStreamEvent, map[string]any{
			"event":              msg.Event,
			"parent_tool_use_id": msg.ParentToolUseID,
		}, true)
	case wire.CLITypeToolProgress:
		s.handleToolProgress(msg)
	case wire.CLITypeToolUseSummary:
		s.handleToolUseSummary(msg)
	case wire.CLITypeControlRequest:
		if msg.Request != nil && msg.Request.Subtype == "can_use_tool" {
			s.handlePermissionRequest(msg.RequestID, *msg.Request)
		}
	case wire.CLITypeControlResponse:
		s.handleControlResponse(msg)
	case wire.CLITypeAuthStatus:
		s.broadcast(frameAuthStatus, map[string]any{
			"isAuthenticating": msg.IsAuthenticating,
			"output":           msg.Output,
			"error":            msg.Error,
		}, true)
	case wire.CLITypeKeepAlive:
		// Consumed silently.
	}
}

func (s *Session) handleSystemInit(msg wire.CLIMessage) {
	s.state.SessionID = msg.SessionID
	s.state.Model = msg.Model
	s.state.CWD = msg.CWD
	s.state.Tools = msg.Tools
	s.state.PermissionMode = msg.PermissionMode
	s.state.MCPServers = msg.MCPServers
	s.state.Agents = msg.Agents
	s.state.SlashCommands = msg.SlashCommands
	s.state.Skills = msg.Skills
	s.state.Version = msg.Version

	s.refreshRepoMeta(false)
	s.broadcastSnapshot()
	s.save()

	if cb := s.reg.callbacks.CLISessionID; cb != nil && msg.SessionID != "" {
		go cb(s.ID, msg.SessionID)
	}
}

func (s *Session) handleSystemStatus(msg wire.CLIMessage) {
	compacting := msg.Status == "compacting"
	if compacting && !s.state.IsCompacting {
		s.compactingSince = time.Now()
	}
	s.state.IsCompacting = compacting
	if msg.PermissionMode != "" {
		s.state.PermissionMode = msg.PermissionMode
	}
	s.broadcast(frameStatusChange, map[string]any{"status": msg.Status}, true)
	s.save()

	s.emitPlugin(s.newEvent(EventSessionStatusChanged, s.eventSource(), "", map[string]any{
		"status":         msg.Status,
		"is_compacting":  compacting,
		"permissionMode": s.state.PermissionMode,
	}))
}

func (s *Session) handleAssistant(msg wire.CLIMessage) {
	s.history.append(wire.HistoryEntry{
		Kind:            wire.HistoryAssistantMessage,
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Message:         msg.Message,
		ParentToolUseID: msg.ParentToolUseID,
	})
	s.broadcast(frameAssistant, map[string]any{
		"message":            msg.Message,
		"parent_tool_use_id": msg.ParentToolUseID,
	}, true)
	s.save()

	text, toolNames := extractAssistantContent(msg.Message)
	s.emitPlugin(s.newEvent(EventMessageAssistant, s.eventSource(), "", map[string]any{
		"text":       text,
		"tool_names": toolNames,
	}))
}

func (s *Session) handleResult(msg wire.CLIMessage) {
	s.state.TotalCostUSD = msg.TotalCostUSD
	s.state.NumTurns = msg.NumTurns
	if msg.LinesAdded > 0 {
		s.state.TotalLinesAdded = msg.LinesAdded
	}
	if msg.LinesRemoved > 0 {
		s.state.TotalLinesRemoved = msg.LinesRemoved
	}
	if pct, ok := contextUsedPercent(msg.ModelUsage); ok {
		s.state.ContextUsedPercent = pct
	}
	s.refreshRepoMeta(false)

	info := &wire.ResultInfo{
		TotalCostUSD: msg.TotalCostUSD,
		NumTurns:     msg.NumTurns,
		DurationMS:   msg.DurationMS,
		IsError:      msg.IsError,
		Usage:        msg.Usage,
	}
	if msg.IsError {
		info.Error = msg.Result
	}
	s.history.append(wire.HistoryEntry{
		Kind:      wire.HistoryResult,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Content:   msg.Result,
		Result:    info,
	})
	s.broadcast(frameResult, map[string]any{
		"data": map[string]any{
			"subtype":              msg.Subtype,
			"is_error":             msg.IsError,
			"result":               msg.Result,
			"total_cost_usd":       msg.TotalCostUSD,
			"num_turns":            msg.NumTurns,
			"duration_ms":          msg.DurationMS,
			"usage":                msg.Usage,
			"context_used_percent": s.state.ContextUsedPercent,
		},
	}, true)
	s.save()

	s.emitPlugin(s.newEvent(EventResultReceived, s.eventSource(), "", map[string]any{
		"is_error":       msg.IsError,
		"total_cost_usd": msg.TotalCostUSD,
		"num_turns":      msg.NumTurns,
	}))

	if !msg.IsError && !s.autoNamingDone {
		if first, ok := s.history.firstUserMessage(); ok {
			s.autoNamingDone = true
			s.save()
			if cb := s.reg.callbacks.FirstTurn; cb != nil {
				go cb(s.ID, first.Content)
			}
		}
	}
}

func (s *Session) handleToolProgress(msg wire.CLIMessage) {
	if _, started := s.startedTools[msg.ToolUseID]; !started && msg.ToolUseID != "" {
		s.startedTools[msg.ToolUseID] = struct{}{}
		s.emitPlugin(s.newEvent(EventToolStarted, s.eventSource(), msg.ToolUseID, map[string]any{
			"tool_use_id": msg.ToolUseID,
			"tool_name":   msg.ToolName,
		}))
	}
	s.broadcast(frameToolProgress, map[string]any{
		"tool_use_id":          msg.ToolUseID,
		"tool_name":            msg.ToolName,
		"elapsed_time_seconds": msg.ElapsedTimeSeconds,
	}, true)
}

func (s *Session) handleToolUseSummary(msg wire.CLIMessage) {
	for _, id := range msg.ToolUseIDs {
		if _, started := s.startedTools[id]; started {
			delete(s.startedTools, id)
		}
		s.emitPlugin(s.newEvent(EventToolFinished, s.eventSource(), id, map[string]any{
			"tool_use_id": id,
		}))
	}
	s.broadcast(frameToolUseSummary, map[string]any{
		"summary":      msg.Summary,
		"tool_use_ids": msg.ToolUseIDs,
	}, true)
}

// handlePermissionRequest routes a can_use_tool request: plugin middleware
// may decide it outright, otherwise it is recorded as pending and put in
// front of the browsers. A plugin fault falls back to the human-prompt path;
// the request is never lost.
func (s *Session) handlePermissionRequest(requestID string, req wire.ControlRequest) {
	rec := wire.PermissionRecord{
		RequestID:   requestID,
		ToolName:    req.ToolName,
		Input:       req.Input,
		Description: req.Description,
		ToolUseID:   req.ToolUseID,
		AgentID:     req.AgentID,
		RequestedAt: time.Now().UTC(),
	}

	if s.reg.plugins != nil {
		ev := s.newEvent(EventPermissionRequested, s.eventSource(), requestID, map[string]any{
			"request_id":  requestID,
			"tool_name":   rec.ToolName,
			"input":       rec.Input,
			"description": rec.Description,
			"tool_use_id": rec.ToolUseID,
			"agent_id":    rec.AgentID,
		})
		if res, ok := s.emitPlugin(ev); ok {
			switch {
			case res.Aborted:
				s.sendUpstream(upstreamControlResponse(requestID, denyResponse("Aborted by plugin")))
				s.emitPermissionResponded(requestID, "deny", true, true, pluginID(res))
				return
			case res.Decision != nil:
				s.resolvePermissionByPlugin(rec, *res.Decision)
				return
			}
		}
	}

	s.perms.put(rec)
	s.broadcast(framePermissionRequest, map[string]any{"request": rec}, true)
	s.save()
}

func (s *Session) resolvePermissionByPlugin(rec wire.PermissionRecord, d PermissionDecision) {
	if d.Behavior == "allow" {
		input := d.UpdatedInput
		if len(input) == 0 {
			input = rec.Input
		}
		s.sendUpstream(upstreamControlResponse(rec.RequestID, allowResponse(input, nil)))
	} else {
		// Anything other than an explicit allow is a deny.
		if d.Behavior != "deny" {
			s.logf("plugin returned unknown permission behavior %q, treating as deny", d.Behavior)
		}
		msg := d.Message
		if msg == "" {
			msg = "Denied by plugin"
		}
		s.sendUpstream(upstreamControlResponse(rec.RequestID, denyResponse(msg)))
	}
	s.emitPermissionResponded(rec.RequestID, normalizeBehavior(d.Behavior), true, false, d.PluginID)
}

// emitPermissionResponded publishes the permission.responded follow-up event.
func (s *Session) emitPermissionResponded(requestID, behavior string, automated, aborted bool, pluginID string) {
	data := map[string]any{
		"request_id": requestID,
		"behavior":   behavior,
		"automated":  automated,
	}
	if aborted {
		data["aborted"] = true
	}
	if pluginID != "" {
		data["plugin_id"] = pluginID
	}
	s.emitPlugin(s.newEvent(EventPermissionResponded, s.eventSource(), requestID, data))
}

func (s *Session) handleControlResponse(msg wire.CLIMessage) {
	if msg.Response == nil {
		return
	}
	entry, ok := s.ctrl.remove(msg.Response.RequestID)
	if !ok {
		// The bridge never asked; stale or foreign response. Not an error.
		return
	}
	if msg.Response.Subtype == "error" {
		s.logf("control request %s (%s) failed upstream: %s",
			msg.Response.RequestID, entry.subtype, msg.Response.Error)
		entry.done(nil, msg.Response.Error)
		return
	}
	entry.done(msg.Response.Response, "")
}

// --- helpers -------------------------------------------------------------

func normalizeBehavior(behavior string) string {
	if behavior == "allow" {
		return "allow"
	}
	return "deny"
}

func pluginID(res PluginResult) string {
	if res.Decision != nil {
		return res.Decision.PluginID
	}
	return ""
}

// extractAssistantContent pulls the concatenated text and the tool names out
// of an assistant message envelope for plugin consumption.
func extractAssistantContent(raw json.RawMessage) (string, []string) {
	var env wire.MessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil
	}
	var text string
	var tools []string
	for _, block := range env.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "tool_use":
			tools = append(tools, block.Name)
		}
	}
	return text, tools
}

// contextUsedPercent derives the context usage percentage from per-model
// usage, clamped to 0..100. The largest-window entry wins when the CLI
// reports more than one model.
func contextUsedPercent(usage map[string]wire.ModelUsage) (float64, bool) {
	var best wire.ModelUsage
	for _, mu := range usage {
		if mu.ContextWindow > best.ContextWindow {
			best = mu
		}
	}
	if best.ContextWindow <= 0 {
		return 0, false
	}
	pct := float64(best.InputTokens+best.OutputTokens) / float64(best.ContextWindow) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
