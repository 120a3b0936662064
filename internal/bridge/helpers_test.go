package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joestump/claude-relay/internal/wire"
)

// --- fakes ---------------------------------------------------------------

// fakeTransport records every frame sent through it.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	failSend bool
	closed   bool
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend {
		return errors.New("send failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.frames = append(t.frames, cp)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// decoded returns every sent frame as a generic map, in order.
func (t *fakeTransport) decoded(tb testing.TB) []map[string]any {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, 0, len(t.frames))
	for _, raw := range t.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			tb.Fatalf("undecodable frame %s: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

// framesOfType returns the sent frames with the given type field.
func (t *fakeTransport) framesOfType(tb testing.TB, typ string) []map[string]any {
	tb.Helper()
	var out []map[string]any
	for _, m := range t.decoded(tb) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) hasFrameType(tb testing.TB, typ string) bool {
	tb.Helper()
	return len(t.framesOfType(tb, typ)) > 0
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	saved   map[string]wire.PersistedSession
	removed []string
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]wire.PersistedSession)}
}

func (m *memStore) LoadAll() ([]wire.PersistedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.PersistedSession, 0, len(m.saved))
	for _, ps := range m.saved {
		out = append(out, ps)
	}
	return out, nil
}

func (m *memStore) Save(ps wire.PersistedSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[ps.ID] = ps
}

func (m *memStore) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	m.removed = append(m.removed, id)
}

func (m *memStore) get(id string) (wire.PersistedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.saved[id]
	return ps, ok
}

// stubPlugins is a canned PluginManager.
type stubPlugins struct {
	mu     sync.Mutex
	result PluginResult
	err    error
	events []Event
}

func (p *stubPlugins) Emit(ev Event) (PluginResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.result, p.err
}

func (p *stubPlugins) eventNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Name)
	}
	return out
}

// fakeAdapter records forwarded browser messages.
type fakeAdapter struct {
	mu           sync.Mutex
	messages     []wire.BrowserMessage
	failNext     bool
	ready        bool
	disconnected bool
}

func (a *fakeAdapter) HandleMessage(msg wire.BrowserMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext {
		a.failNext = false
		return errors.New("adapter not ready")
	}
	a.messages = append(a.messages, msg)
	return nil
}

func (a *fakeAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnected = true
}

func (a *fakeAdapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *fakeAdapter) received() []wire.BrowserMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]wire.BrowserMessage, len(a.messages))
	copy(out, a.messages)
	return out
}

// --- harness -------------------------------------------------------------

func newTestRegistry(plugins PluginManager, opts Options) (*Registry, *memStore) {
	store := newMemStore()
	return NewRegistry(store, plugins, nil, opts), store
}

// waitFor polls cond until it holds or the deadline passes. The user-message
// path runs on the session's serializer goroutine, so tests synchronize on
// observable effects instead of sleeping fixed amounts.
func waitFor(tb testing.TB, cond func() bool, msg string) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", msg)
}

// feedLine pushes one upstream frame through the NDJSON path.
func feedLine(s *Session, line string) {
	s.HandleCLIData([]byte(line + "\n"))
}
