package bridge

import "encoding/json"

// outboundQueue holds CLI-bound frames produced while no upstream is
// attached. Drained FIFO on attach; frames that fail to send stay queued.
// Guarded by the session lock.
type outboundQueue struct {
	frames []json.RawMessage
}

func (q *outboundQueue) push(frame json.RawMessage) {
	q.frames = append(q.frames, frame)
}

func (q *outboundQueue) len() int { return len(q.frames) }

// drainTo delivers queued frames to send in order. Each delivered frame is
// removed exactly once; on the first send failure the remaining frames stay
// queued and the error is returned.
func (q *outboundQueue) drainTo(send func(frame json.RawMessage) error) error {
	for len(q.frames) > 0 {
		if err := send(q.frames[0]); err != nil {
			return err
		}
		q.frames = q.frames[1:]
	}
	return nil
}

func (q *outboundQueue) snapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(q.frames))
	copy(out, q.frames)
	return out
}

func (q *outboundQueue) restore(frames []json.RawMessage) {
	q.frames = append(q.frames[:0], frames...)
}
