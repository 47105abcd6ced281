// Package ptysession spawns and supervises one CLI subprocess per
// session under a pseudo-terminal, parsing its line-delimited streaming
// JSON output into typed session events.
package ptysession

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creack/pty"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/permission"
	"github.com/nova-run/novad/pkg/types"
)

const (
	ptyCols = 200
	ptyRows = 50

	killGrace           = 5 * time.Second
	upstreamInitTimeout = 10 * time.Second

	// spawnRetryBudget bounds the total time spent retrying a transient
	// pty.StartWithSize failure (fork/process-table exhaustion) before
	// giving up and reporting spawn failure.
	spawnRetryBudget = 3 * time.Second

	// maxBufferedResidue bounds the retained partial-line residue,
	// resolving the spec's open question about an unbounded line
	// buffer: a concrete bound is required for a faithful
	// implementation, and output pacing from the wrapped CLI makes a
	// few megabytes generous headroom for one unterminated line.
	maxBufferedResidue = 4 * 1024 * 1024
)

// CandidatePaths returns the ordered list of absolute binary paths to
// try before falling back to a PATH lookup of name.
func CandidatePaths(name string, extra ...string) []string {
	paths := append([]string{}, extra...)
	paths = append(paths,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", name),
		filepath.Join("/usr", "local", "bin", name),
		filepath.Join("/opt", "homebrew", "bin", name),
	)
	return paths
}

// ResolveBinary walks CandidatePaths then falls back to exec.LookPath.
// Absence is a startable-time error, per spec 4.4.
func ResolveBinary(name string, candidates []string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("binary not found: %s", name)
}

// Subscriber receives session events in emission order.
type Subscriber func(types.SessionEvent)

// Session owns one subprocess under a PTY for the lifetime of one
// agent.invoke. Two interior goroutines publish events through it: a
// reader draining PTY bytes, and an exit watcher.
type Session struct {
	id       string
	agentID  string
	pluginID string
	binary   string
	args     []string
	opts     types.InvokeOptions

	mu           sync.Mutex
	state        types.InternalState
	upstreamID   string
	createdAt    time.Time
	lastActivity time.Time
	exitCode     *int
	messageCount int
	residue      []byte
	completeOnce sync.Once

	subsMu      sync.Mutex
	subscribers map[int]Subscriber
	nextSubID   int

	cmd     *exec.Cmd
	ptmx    *os.File
	ptmxMu  sync.Mutex // serializes control-response writes against PTY close

	resolver *permission.Resolver

	stopOnce sync.Once
	stopped  chan struct{}
}

// New constructs a Session in the initializing state. The subprocess is
// not started until Start is called.
func New(id, pluginID, agentID, binary string, args []string, opts types.InvokeOptions) *Session {
	return &Session{
		id:          id,
		pluginID:    pluginID,
		agentID:     agentID,
		binary:      binary,
		args:        args,
		opts:        opts,
		state:       types.StateInitializing,
		createdAt:   time.Now(),
		subscribers: make(map[int]Subscriber),
		resolver:    permission.NewResolver(opts.AllowTools, opts.DenyTools),
		stopped:     make(chan struct{}),
	}
}

// Subscribe registers cb for this session's events and returns an
// unsubscribe function.
func (s *Session) Subscribe(cb Subscriber) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = cb
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subscribers, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) emit(ev types.SessionEvent) {
	ev.SessionID = s.id
	ev.Timestamp = time.Now()

	s.subsMu.Lock()
	cbs := make([]Subscriber, 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		cbs = append(cbs, cb)
	}
	s.subsMu.Unlock()

	for _, cb := range cbs {
		func(cb Subscriber) {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn().Interface("panic", r).Str("session", s.id).Msg("ptysession: subscriber callback panicked")
				}
			}()
			cb(ev)
		}(cb)
	}
}

func (s *Session) setState(state types.InternalState) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// State returns the current internal state.
func (s *Session) State() types.InternalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a snapshot Session value for external consumption.
func (s *Session) View() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Session{
		ID:                s.id,
		AgentID:           s.agentID,
		PluginID:          s.pluginID,
		ProjectPath:       s.opts.ProjectPath,
		ResumeSessionID:   s.opts.ResumeSessionID,
		UpstreamSessionID: s.upstreamID,
		Status:            types.CoarsenStatus(s.state),
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		ExitCode:          s.exitCode,
		MessageCount:      s.messageCount,
	}
}

// Start launches the subprocess under a PTY and begins the reader and
// exit-watcher goroutines. It blocks until the PTY is attached (not
// until init is observed); spawn failures transition the session to
// error and return immediately with no event stream opened.
func (s *Session) Start(ctx context.Context) error {
	if _, err := os.Stat(s.opts.ProjectPath); err != nil {
		s.setState(types.StateError)
		s.emit(types.SessionEvent{Type: types.EventError, Data: types.ErrorEventData{
			Message: fmt.Sprintf("project path missing: %s", s.opts.ProjectPath),
		}})
		return fmt.Errorf("project path missing: %s", s.opts.ProjectPath)
	}

	cmd, ptmx, err := s.spawnWithRetry()
	if err != nil {
		s.setState(types.StateError)
		s.emit(types.SessionEvent{Type: types.EventError, Data: types.ErrorEventData{
			Message: fmt.Sprintf("spawn failed: %v", err),
		}})
		return fmt.Errorf("spawn failed: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.ptmx = ptmx
	s.mu.Unlock()

	go s.readLoop(ptmx)
	go s.exitWatch(cmd)
	go s.initTimeoutWatch()

	return nil
}

// spawnWithRetry starts the subprocess under a PTY, retrying with
// exponential backoff when pty.StartWithSize fails transiently (the
// process table is momentarily full). A fresh *exec.Cmd is built per
// attempt since exec.Cmd cannot be reused once Start has run.
func (s *Session) spawnWithRetry() (*exec.Cmd, *os.File, error) {
	var cmd *exec.Cmd
	var ptmx *os.File

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = spawnRetryBudget

	err := backoff.Retry(func() error {
		c := exec.Command(s.binary, s.args...)
		c.Dir = s.opts.ProjectPath
		c.Env = append(os.Environ(), "TERM=xterm-256color", "NO_COLOR=1", "FORCE_COLOR=0")
		c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		p, startErr := pty.StartWithSize(c, &pty.Winsize{Cols: ptyCols, Rows: ptyRows})
		if startErr != nil {
			if !isTransientSpawnError(startErr) {
				return backoff.Permanent(startErr)
			}
			logging.Warn().Err(startErr).Str("session", s.id).Msg("ptysession: transient spawn failure, retrying")
			return startErr
		}
		cmd, ptmx = c, p
		return nil
	}, b)
	if err != nil {
		return nil, nil, err
	}
	return cmd, ptmx, nil
}

// isTransientSpawnError reports whether err looks like momentary
// resource exhaustion (fork/file-descriptor limits) rather than a
// persistent condition retrying won't fix.
func isTransientSpawnError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

func (s *Session) initTimeoutWatch() {
	timer := time.NewTimer(upstreamInitTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		if s.State() == types.StateInitializing {
			logging.Warn().Str("session", s.id).Msg("ptysession: upstream init timeout")
			s.emit(types.SessionEvent{Type: types.EventError, Data: types.ErrorEventData{
				Message: "upstream init timeout",
			}})
			_ = s.Stop(context.Background())
		}
	case <-s.stopped:
	}
}

func (s *Session) readLoop(ptmx *os.File) {
	reader := bufio.NewReaderSize(ptmx, 64*1024)
	var buf []byte

	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			if len(buf) > maxBufferedResidue {
				logging.Warn().Str("session", s.id).Int("bytes", len(buf)).
					Msg("ptysession: line buffer exceeded cap, dropping residue")
				buf = nil
			}
			for {
				idx := indexNewline(buf)
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				s.handleLine(line)
			}
		}
		if err != nil {
			if len(buf) > 0 {
				s.handleRawResidue(buf)
			}
			if err != io.EOF {
				logging.Debug().Err(err).Str("session", s.id).Msg("ptysession: pty read ended")
			}
			return
		}
	}
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

func (s *Session) handleRawResidue(buf []byte) {
	trimmed := trimCR(buf)
	if len(trimmed) == 0 {
		return
	}
	s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Raw: string(trimmed)}})
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func (s *Session) handleLine(line []byte) {
	line = trimCR(line)
	if len(line) == 0 {
		return
	}

	var record types.TranscriptRecord
	if err := json.Unmarshal(line, &record); err != nil {
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Raw: string(line)}})
		return
	}

	if record.Type == "system" && record.Subtype == "init" {
		s.captureUpstreamID(record.SessionID)
		s.setState(types.StateReady)
		s.emit(types.SessionEvent{Type: types.EventInit, Data: types.InitEventData{UpstreamSessionID: record.SessionID}})
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Record: &record}})
		return
	}

	switch record.Type {
	case "assistant":
		s.setState(types.StateProcessing)
		s.bumpMessageCount()
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Record: &record}})
	case "result":
		s.captureUpstreamID(record.SessionID)
		s.setState(types.StateIdle)
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Record: &record}})
	case "control_request":
		s.handleControlRequest(record)
	default:
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Record: &record}})
	}
}

// handleControlRequest handles the "control_request" record some
// wrapped CLIs emit (kind "can_use_tool") before running a tool that
// needs approval. It auto-resolves against the resolver's allow/deny
// lists first; only an unmatched command surfaces an
// interactive-prompt session event and blocks on a client response.
func (s *Session) handleControlRequest(record types.TranscriptRecord) {
	if record.RequestID == "" {
		return
	}

	command, _ := record.ToolInput["command"].(string)

	var action permission.PermissionAction
	switch {
	case record.ToolName == "Bash" && command != "":
		cmds, err := permission.ParseBashCommand(command)
		if err != nil || len(cmds) == 0 {
			action = permission.ActionAsk
		} else {
			action = permission.ActionAllow
			for _, c := range cmds {
				a := s.resolver.ResolveBash(c)
				if a == permission.ActionDeny {
					action = permission.ActionDeny
					break
				}
				if a == permission.ActionAsk {
					action = permission.ActionAsk
				}
			}
		}
	default:
		action = s.resolver.Resolve(record.ToolName)
	}

	if action != permission.ActionAsk {
		s.writeControlResponse(record.RequestID, action == permission.ActionAllow)
		return
	}

	prompt := types.InteractivePrompt{
		ID:      record.RequestID,
		Kind:    types.PromptToolApproval,
		Title:   fmt.Sprintf("Approve %s", record.ToolName),
		Options: defaultPromptOptions(),
		Command: command,
		Tool:    record.ToolName,
	}
	s.emit(types.SessionEvent{Type: types.EventInteractivePrompt, Data: prompt})

	go func() {
		key, err := s.resolver.Ask(context.Background(), record.RequestID)
		if err != nil {
			return
		}
		s.writeControlResponse(record.RequestID, key == "allow")
	}()
}

func defaultPromptOptions() []types.PromptOption {
	return []types.PromptOption{
		{Key: "allow", Label: "Allow", IsDefault: true},
		{Key: "deny", Label: "Deny"},
	}
}

// writeControlResponse writes the answer for requestID back to the
// subprocess's stdin as a single NDJSON line, mirroring the
// control_request record it answers.
func (s *Session) writeControlResponse(requestID string, allow bool) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return
	}

	line, err := json.Marshal(map[string]any{
		"type":       "control_response",
		"request_id": requestID,
		"allow":      allow,
	})
	if err != nil {
		return
	}

	s.ptmxMu.Lock()
	defer s.ptmxMu.Unlock()
	if _, err := ptmx.Write(append(line, '\n')); err != nil {
		logging.Debug().Err(err).Str("session", s.id).Msg("ptysession: control response write failed")
	}
}

// Respond answers an interactive prompt raised as an
// interactive-prompt session event. It reports whether promptID was
// still pending.
func (s *Session) Respond(promptID, key string) error {
	if !s.resolver.Respond(promptID, key) {
		return permission.ErrUnknownPrompt
	}
	return nil
}

func (s *Session) captureUpstreamID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.upstreamID == "" {
		s.upstreamID = id
	}
	s.mu.Unlock()
}

func (s *Session) bumpMessageCount() {
	s.mu.Lock()
	s.messageCount++
	s.mu.Unlock()
}

func (s *Session) exitWatch(cmd *exec.Cmd) {
	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	s.exitCode = &exitCode
	if s.state != types.StateStopped {
		if exitCode == 0 {
			s.state = types.StateStopped
		} else {
			s.state = types.StateError
		}
	}
	upstreamID := s.upstreamID
	s.mu.Unlock()

	s.completeOnce.Do(func() {
		s.emit(types.SessionEvent{Type: types.EventComplete, Data: types.CompleteEventData{
			ExitCode:          exitCode,
			UpstreamSessionID: upstreamID,
		}})
		close(s.stopped)
	})
}

// Stop performs the two-phase SIGTERM -> 5s grace -> SIGKILL
// termination. It tolerates "already dead" conditions and is
// idempotent; it forces the stopped state regardless of the current
// state.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.state = types.StateStopped
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-s.stopped:
		return nil
	case <-time.After(killGrace):
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)

	select {
	case <-s.stopped:
	case <-time.After(killGrace):
		logging.Warn().Str("session", s.id).Msg("ptysession: process did not exit after SIGKILL")
	}
	return nil
}

// Closed reports whether the session's subprocess has exited.
func (s *Session) Closed() <-chan struct{} {
	return s.stopped
}
