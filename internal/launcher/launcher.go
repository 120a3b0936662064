// Package launcher spawns and reaps the Claude CLI child process behind each
// primary-backend session. The bridge never touches processes itself: it
// asks for a relaunch through a callback and the launcher feeds the process
// stdio back into the bridge as an upstream transport.
package launcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/wire"
)

// StartOptions describe one CLI process invocation.
type StartOptions struct {
	Model          string
	CWD            string
	MCPConfig      string // merged MCP config path, empty to omit
	ResumeID       string // upstream-internal session id to resume, if known
	PermissionMode string
	ExtraArgs      []string
}

// ProcessRunner abstracts the spawning of a Claude CLI subprocess so that
// tests can substitute a mock implementation.
type ProcessRunner interface {
	Start(ctx context.Context, opts StartOptions) (stdin io.WriteCloser, stdout io.ReadCloser, wait func() error, err error)
}

// CLIRunner implements ProcessRunner by spawning the real `claude` binary.
type CLIRunner struct {
	Binary string
}

// Start builds and starts a claude CLI process speaking stream-json on both
// stdin and stdout.
func (r *CLIRunner) Start(ctx context.Context, opts StartOptions) (io.WriteCloser, io.ReadCloser, func() error, error) {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.MCPConfig != "" {
		args = append(args, "--mcp-config", opts.MCPConfig)
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}
	args = append(args, opts.ExtraArgs...)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = opts.CWD
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return stdinPipe, stdoutPipe, cmd.Wait, nil
}

// Config holds launcher-wide settings.
type Config struct {
	Model         string // default model for new sessions
	DefaultCWD    string // working directory when the session has none yet
	MCPConfigPath string // global MCP config, merged with {cwd}/.mcp.json
}

// Launcher tracks one CLI process per session.
type Launcher struct {
	cfg    Config
	reg    *bridge.Registry
	runner ProcessRunner

	mu       sync.Mutex
	running  map[string]io.WriteCloser // session id -> process stdin
	resumeID map[string]string         // session id -> CLI-internal session id
}

// New creates a Launcher bound to the registry. Callers wire the registry's
// relaunch and CLI-session-id callbacks to Launch and RememberCLISessionID.
func New(cfg Config, reg *bridge.Registry, runner ProcessRunner) *Launcher {
	if runner == nil {
		runner = &CLIRunner{}
	}
	return &Launcher{
		cfg:      cfg,
		reg:      reg,
		runner:   runner,
		running:  make(map[string]io.WriteCloser),
		resumeID: make(map[string]string),
	}
}

// RememberCLISessionID records the upstream-internal session id so the next
// launch can resume the conversation.
func (l *Launcher) RememberCLISessionID(sessionID, cliSessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resumeID[sessionID] = cliSessionID
}

// Launch starts a CLI process for the session unless one is already running.
// The process stdio is attached to the session as its upstream transport;
// process exit detaches it again.
func (l *Launcher) Launch(sessionID string) {
	s, ok := l.reg.Get(sessionID)
	if !ok {
		return
	}
	if s.BackendKind() != wire.BackendPrimary {
		return
	}

	l.mu.Lock()
	if _, alreadyRunning := l.running[sessionID]; alreadyRunning {
		l.mu.Unlock()
		return
	}
	// Reserve the slot before the (slow) spawn so concurrent relaunch
	// requests collapse into one process.
	l.running[sessionID] = nil
	resumeID := l.resumeID[sessionID]
	l.mu.Unlock()

	state := s.State()
	cwd := state.CWD
	if cwd == "" {
		cwd = l.cfg.DefaultCWD
	}
	model := state.Model
	if model == "" {
		model = l.cfg.Model
	}

	mcpConfig, err := MergeMCPConfig(l.cfg.MCPConfigPath, cwd)
	if err != nil {
		log.Printf("launcher: merge MCP config for %s: %v", sessionID, err)
		mcpConfig = l.cfg.MCPConfigPath
	}

	stdin, stdout, wait, err := l.runner.Start(context.Background(), StartOptions{
		Model:     model,
		CWD:       cwd,
		MCPConfig: mcpConfig,
		ResumeID:  resumeID,
	})
	if err != nil {
		log.Printf("launcher: start claude for %s: %v", sessionID, err)
		s.PublishError(fmt.Sprintf("failed to start claude: %v", err))
		l.mu.Lock()
		delete(l.running, sessionID)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	l.running[sessionID] = stdin
	l.mu.Unlock()

	fmt.Printf("[%s] Launched claude for session %s (model=%s, cwd=%s, resume=%t)\n",
		time.Now().UTC().Format(time.RFC3339), sessionID, model, cwd, resumeID != "")

	transport := &processTransport{stdin: stdin}
	s.HandleCLIOpen(transport)

	go l.pump(sessionID, s, transport, stdout, wait)
}

// pump copies process stdout into the bridge until the process exits, then
// detaches the upstream.
func (l *Launcher) pump(sessionID string, s *bridge.Session, t bridge.Transport, stdout io.ReadCloser, wait func() error) {
	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.HandleCLIData(buf[:n])
		}
		if err != nil {
			break
		}
	}
	if err := wait(); err != nil {
		log.Printf("launcher: claude for %s exited: %v", sessionID, err)
	}

	l.mu.Lock()
	delete(l.running, sessionID)
	l.mu.Unlock()

	s.HandleCLIClose(t)
}

// Stop terminates the CLI process for a session, if any. The pump goroutine
// observes the exit and detaches the upstream.
func (l *Launcher) Stop(sessionID string) {
	l.mu.Lock()
	stdin := l.running[sessionID]
	l.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
}

// StopAll terminates every running CLI process, for server shutdown.
func (l *Launcher) StopAll() {
	l.mu.Lock()
	stdins := make([]io.WriteCloser, 0, len(l.running))
	for _, stdin := range l.running {
		if stdin != nil {
			stdins = append(stdins, stdin)
		}
	}
	l.mu.Unlock()
	for _, stdin := range stdins {
		_ = stdin.Close()
	}
}

// processTransport adapts a process stdin pipe to the bridge's upstream
// transport: one JSON frame per line.
type processTransport struct {
	mu    sync.Mutex
	stdin io.WriteCloser
}

func (t *processTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	_, err := t.stdin.Write(line)
	return err
}

func (t *processTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stdin.Close()
}
