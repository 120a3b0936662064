package launcher

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/wire"
)

// --- fakes ----------------------------------------------------------------

type memStore struct {
	mu    sync.Mutex
	saved map[string]wire.PersistedSession
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]wire.PersistedSession)} }

func (m *memStore) LoadAll() ([]wire.PersistedSession, error) { return nil, nil }

func (m *memStore) Save(ps wire.PersistedSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[ps.ID] = ps
}

func (m *memStore) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
}

// closeRecorder wraps a pipe writer and remembers whether Close was called.
type closeRecorder struct {
	io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.WriteCloser.Close()
}

func (c *closeRecorder) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeProc is one simulated CLI process: the test writes its stdout and
// closes it to simulate exit.
type fakeProc struct {
	stdin   *closeRecorder
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
}

func (p *fakeProc) emitLine(t *testing.T, line string) {
	t.Helper()
	if _, err := p.stdoutW.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write fake stdout: %v", err)
	}
}

func (p *fakeProc) exit() {
	_ = p.stdoutW.Close()
	_ = p.stdinR.Close()
}

type fakeRunner struct {
	mu     sync.Mutex
	starts []StartOptions
	procs  []*fakeProc
	err    error
}

func (r *fakeRunner) Start(ctx context.Context, opts StartOptions) (io.WriteCloser, io.ReadCloser, func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, nil, nil, r.err
	}
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	proc := &fakeProc{
		stdin:   &closeRecorder{WriteCloser: stdinW},
		stdinR:  stdinR,
		stdoutW: stdoutW,
	}
	r.starts = append(r.starts, opts)
	r.procs = append(r.procs, proc)
	return proc.stdin, stdoutR, func() error { return nil }, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *fakeRunner) lastStart(t *testing.T) StartOptions {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.starts) == 0 {
		t.Fatal("runner never started")
	}
	return r.starts[len(r.starts)-1]
}

func (r *fakeRunner) lastProc(t *testing.T) *fakeProc {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.procs) == 0 {
		t.Fatal("runner never started")
	}
	return r.procs[len(r.procs)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestLauncher(cfg Config) (*Launcher, *bridge.Registry, *fakeRunner) {
	reg := bridge.NewRegistry(newMemStore(), nil, nil, bridge.Options{})
	runner := &fakeRunner{}
	return New(cfg, reg, runner), reg, runner
}

// --- tests ----------------------------------------------------------------

func TestLaunchAttachesProcessAsUpstream(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{Model: "claude-x", DefaultCWD: "/work"})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	l.Launch("s1")
	defer l.StopAll()

	if !s.UpstreamConnected() {
		t.Fatal("launch did not attach an upstream")
	}
	opts := runner.lastStart(t)
	if opts.Model != "claude-x" || opts.CWD != "/work" {
		t.Fatalf("start options = %+v", opts)
	}

	// Process stdout flows into the session.
	runner.lastProc(t).emitLine(t, `{"type":"system","subtype":"init","session_id":"cli-99","model":"claude-x","cwd":"/work"}`)
	waitFor(t, func() bool { return s.State().SessionID == "cli-99" }, "state from process stdout")
}

func TestLaunchSkipsUnknownAndSubprocessSessions(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	reg.GetOrCreate("sub", wire.BackendSubprocess)
	defer reg.CloseAll()

	l.Launch("missing")
	l.Launch("sub")
	if runner.startCount() != 0 {
		t.Fatalf("runner started %d times for non-launchable sessions", runner.startCount())
	}
}

func TestLaunchCollapsesWhileRunning(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	l.Launch("s1")
	l.Launch("s1")
	l.Launch("s1")
	defer l.StopAll()

	if got := runner.startCount(); got != 1 {
		t.Fatalf("expected one process, got %d", got)
	}
}

func TestProcessExitDetachesAndAllowsRelaunch(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	l.Launch("s1")
	runner.lastProc(t).exit()
	waitFor(t, func() bool { return !s.UpstreamConnected() }, "upstream detach on exit")

	l.Launch("s1")
	defer l.StopAll()
	if got := runner.startCount(); got != 2 {
		t.Fatalf("relaunch after exit blocked: %d starts", got)
	}
}

func TestLaunchResumesRememberedCLISession(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	l.RememberCLISessionID("s1", "cli-prev")
	l.Launch("s1")
	defer l.StopAll()

	if opts := runner.lastStart(t); opts.ResumeID != "cli-prev" {
		t.Fatalf("resume id = %q, want cli-prev", opts.ResumeID)
	}
}

func TestStopClosesProcessStdin(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	l.Launch("s1")
	l.Stop("s1")
	if !runner.lastProc(t).stdin.wasClosed() {
		t.Fatal("stop left stdin open")
	}
}

func TestFailedStartReleasesSlotAndReportsError(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	runner.err = io.ErrClosedPipe
	l.Launch("s1")

	hist := s.History()
	if len(hist) != 1 || hist[0].Kind != wire.HistorySystemError {
		t.Fatalf("start failure not recorded in history: %+v", hist)
	}

	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	l.Launch("s1")
	defer l.StopAll()

	if got := runner.startCount(); got != 1 {
		t.Fatalf("expected exactly one successful start, got %d", got)
	}
}

func TestSessionStateOverridesLauncherDefaults(t *testing.T) {
	l, reg, runner := newTestLauncher(Config{Model: "default-model", DefaultCWD: "/default"})
	s := reg.GetOrCreate("s1", "")
	defer reg.CloseAll()

	cli := &recordingTransport{}
	s.HandleCLIOpen(cli)
	s.HandleCLIData([]byte(`{"type":"system","subtype":"init","session_id":"cli-1","model":"claude-custom","cwd":"/project"}` + "\n"))
	s.HandleCLIClose(cli)

	l.Launch("s1")
	defer l.StopAll()

	opts := runner.lastStart(t)
	if opts.Model != "claude-custom" || opts.CWD != "/project" {
		t.Fatalf("session state ignored: %+v", opts)
	}
}

type recordingTransport struct{}

func (recordingTransport) Send([]byte) error { return nil }
func (recordingTransport) Close() error      { return nil }
