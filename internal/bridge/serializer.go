package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/joestump/claude-relay/internal/wire"
)

// userMessageWorker drains the session's user-message mailbox one message at
// a time. Plugin middleware may suspend; the single consumer guarantees that
// messages are observed and sent in strict wire-arrival order regardless.
func (s *Session) userMessageWorker() {
	for msg := range s.userMsgCh {
		s.processUserMessage(msg)
	}
}

func (s *Session) processUserMessage(msg wire.BrowserMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	content := msg.Content
	images := msg.Images

	if s.reg.plugins != nil {
		ev := s.newEvent(EventUserMessageBefore, s.eventSource(), msg.ClientMsgID, map[string]any{
			"content":     content,
			"image_count": len(images),
		})
		if res, ok := s.emitPlugin(ev); ok {
			if res.Aborted || res.Blocked {
				s.publishInsight(Insight{
					Level: "warning",
					Title: "Message blocked",
					Body:  "a plugin blocked this message from being sent",
				})
				return
			}
			if res.Mutation != nil {
				content = res.Mutation.Content
				if res.Mutation.Images != nil {
					images = res.Mutation.Images
				}
			}
		}
	}

	id := uuid.NewString()
	s.history.append(wire.HistoryEntry{
		Kind:      wire.HistoryUserMessage,
		ID:        id,
		Timestamp: time.Now().UTC(),
		Content:   content,
		Images:    images,
	})
	s.broadcast(frameUserMessage, map[string]any{
		"id":      id,
		"content": content,
		"images":  images,
	}, true)

	if s.backendKind == wire.BackendSubprocess {
		// Subprocess backends take the message in its original form. With no
		// adapter attached the browser-form frame queues until one arrives.
		fwd := msg
		fwd.Content = content
		fwd.Images = images
		s.forwardOrQueueAdapter(fwd)
	} else {
		var body any = content
		if len(images) > 0 {
			body = userContentBlocks(content, images)
		}
		s.sendUpstream(upstreamUserFrame(body, s.state.SessionID))
	}
	s.save()

	s.emitPlugin(s.newEvent(EventUserMessageSent, s.eventSource(), msg.ClientMsgID, map[string]any{
		"message_id": id,
		"content":    content,
	}))
}
