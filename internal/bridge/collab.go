package bridge

import (
	"context"

	"github.com/joestump/claude-relay/internal/wire"
)

// Transport is one attached connection, browser- or CLI-side. Sockets are
// owned by the transport layer; the bridge only ever calls Send and Close.
type Transport interface {
	// Send writes one serialized frame. For upstream transports the frame is
	// newline-delimited JSON (the trailing newline is added by the transport).
	Send(data []byte) error
	Close() error
}

// Adapter is an alternate upstream for subprocess backends that deliver
// pre-translated messages instead of raw newline-delimited JSON. Translated
// frames are injected through Session.InjectUpstream; browser control
// messages flow the other way through HandleMessage.
type Adapter interface {
	// HandleMessage receives a browser control message forwarded verbatim.
	HandleMessage(msg wire.BrowserMessage) error
	// Disconnect asks the adapter to shut down. Fire-and-forget.
	Disconnect()
	// Ready reports whether the adapter has finished initializing. Browser
	// attaches do not trigger a relaunch while an adapter is still starting.
	Ready() bool
}

// Store persists sessions. Save is expected to debounce writes; the bridge
// requests a save on every state-changing transition and imposes no pacing
// of its own. Implementations must not block.
type Store interface {
	LoadAll() ([]wire.PersistedSession, error)
	Save(ps wire.PersistedSession)
	Remove(id string)
}

// RepoResolver resolves repository metadata for a working directory. It must
// bound its own execution time and return zero-valued metadata on any error.
type RepoResolver interface {
	Resolve(ctx context.Context, cwd string) wire.RepoInfo
}

// Callbacks are the launcher-facing hooks. All are optional and are invoked
// outside the session lock.
type Callbacks struct {
	// CLISessionID fires when the upstream reports its internal session id,
	// so the launcher can resume the conversation after a process restart.
	CLISessionID func(sessionID, cliSessionID string)
	// Relaunch fires when a session with attached browsers loses its
	// upstream, or a browser attaches to a session without one.
	Relaunch func(sessionID string)
	// FirstTurn fires once per session lifetime when the first non-error
	// result lands after a user message.
	FirstTurn func(sessionID, firstUserText string)
	// GitReady fires when repository metadata resolves to a branch.
	GitReady func(sessionID, cwd, branch string)
}

// Options bound the per-session caches. Zero values fall back to defaults.
type Options struct {
	EventBufferLimit int
	ProcessedIDLimit int
	HistoryLimit     int
}

const (
	defaultEventBufferLimit = 600
	defaultProcessedIDLimit = 1000
	defaultHistoryLimit     = 2000
)

func (o Options) withDefaults() Options {
	if o.EventBufferLimit <= 0 {
		o.EventBufferLimit = defaultEventBufferLimit
	}
	if o.ProcessedIDLimit <= 0 {
		o.ProcessedIDLimit = defaultProcessedIDLimit
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	return o
}
