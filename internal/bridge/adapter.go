package bridge

import (
	"encoding/json"

	"github.com/joestump/claude-relay/internal/wire"
)

// forwardOrQueueAdapter delivers a browser-form message to the subprocess
// adapter, or queues it while none is attached. For subprocess sessions the
// outbound queue holds browser-form frames; drainToAdapter decodes them back
// on attach. Caller holds s.mu.
func (s *Session) forwardOrQueueAdapter(msg wire.BrowserMessage) {
	if s.adapter == nil {
		raw, err := json.Marshal(msg)
		if err != nil {
			s.logf("marshal queued adapter message: %v", err)
			return
		}
		s.outbound.push(raw)
		s.save()
		return
	}
	if err := s.adapter.HandleMessage(msg); err != nil {
		s.logf("adapter rejected %s, queueing: %v", msg.Type, err)
		if raw, merr := json.Marshal(msg); merr == nil {
			s.outbound.push(raw)
			s.save()
		}
	}
}

// drainToAdapter flushes browser-form frames queued while the adapter was
// away. Frames that fail to decode are dropped; a delivery failure keeps the
// remainder queued. Caller holds s.mu.
func (s *Session) drainToAdapter() {
	if s.adapter == nil || s.outbound.len() == 0 {
		return
	}
	err := s.outbound.drainTo(func(raw json.RawMessage) error {
		var msg wire.BrowserMessage
		if uerr := json.Unmarshal(raw, &msg); uerr != nil {
			s.logf("dropping undecodable queued adapter frame: %v", uerr)
			return nil
		}
		return s.adapter.HandleMessage(msg)
	})
	if err != nil {
		s.logf("adapter drain stopped: %v", err)
	}
	s.save()
}
