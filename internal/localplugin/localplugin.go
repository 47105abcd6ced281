// Package localplugin implements the "local" source plugin: each
// declared agent id names one tool from internal/tool, and invoking
// that agent runs the tool once against opts.Prompt (the tool's raw
// JSON input) with no model in the loop.
package localplugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/permission"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/internal/tool"
	"github.com/nova-run/novad/pkg/types"
)

// Plugin wraps a tool.Registry, exposing each registered tool as an
// agent whose invoke runs that tool exactly once.
type Plugin struct {
	manifest *types.Manifest
	cfg      plugin.ConfigSource
	tools    *tool.Registry

	mu       sync.RWMutex
	sessions map[string]*session
}

// New constructs a local-source Plugin backed by the given tool
// registry; the registry's work directory is whatever the caller built
// it with.
func New(manifest *types.Manifest, cfg plugin.ConfigSource, tools *tool.Registry) (plugin.Plugin, error) {
	return &Plugin{
		manifest: manifest,
		cfg:      cfg,
		tools:    tools,
		sessions: make(map[string]*session),
	}, nil
}

func (p *Plugin) Name() string             { return p.manifest.Name }
func (p *Plugin) Manifest() *types.Manifest { return p.manifest }

func (p *Plugin) Initialize(ctx context.Context) error { return nil }

func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
	return nil
}

func (p *Plugin) Agents() []types.Agent {
	out := make([]types.Agent, 0, len(p.manifest.Agents))
	for _, decl := range p.manifest.Agents {
		_, ok := p.tools.Get(decl.ID)
		out = append(out, types.Agent{
			ID:           decl.ID,
			PluginName:   p.manifest.Name,
			Name:         decl.Name,
			Capabilities: decl.Capabilities,
			Description:  decl.Description,
			Enabled:      ok && p.cfg.IsAgentEnabled(p.manifest.Name, decl.ID),
		})
	}
	return out
}

func (p *Plugin) GetAgent(id string) (types.Agent, bool) {
	for _, a := range p.Agents() {
		if a.ID == id {
			return a, true
		}
	}
	return types.Agent{}, false
}

// Invoke runs the tool named agentID once against opts.Prompt as its
// raw JSON input, emitting a single output event carrying the result
// followed by a complete event.
func (p *Plugin) Invoke(ctx context.Context, agentID string, opts types.InvokeOptions) (*types.Session, error) {
	t, ok := p.tools.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("localplugin: no tool named %s", agentID)
	}

	sess := newSession(ulid.Make().String(), p.manifest.Name, agentID, opts)

	p.mu.Lock()
	p.sessions[sess.id] = sess
	p.mu.Unlock()

	go sess.run(ctx, t, opts)

	return sess.view(), nil
}

// Message is unsupported: one invoke is one tool call, and a follow-up
// is a new invoke.
func (p *Plugin) Message(ctx context.Context, sessionID, text string) error {
	p.mu.RLock()
	_, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found")
	}
	return fmt.Errorf("invoke a new agent call instead of messaging a completed tool run")
}

func (p *Plugin) Stream(sessionID string, cb func(types.SessionEvent)) (func(), bool) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return func() {}, false
	}
	return sess.subscribe(cb), true
}

func (p *Plugin) Stop(ctx context.Context, sessionID string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		logging.Debug().Str("session", sessionID).Msg("localplugin: stop of unknown session")
		return nil
	}
	sess.stop()

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	return nil
}

// Respond is unsupported: a local tool call resolves synchronously
// within Execute and has no pending prompt to answer.
func (p *Plugin) Respond(ctx context.Context, sessionID, promptID, key string) error {
	return fmt.Errorf("localplugin: interactive prompts are not supported")
}

func (p *Plugin) GetSession(sessionID string) (*types.Session, bool) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess.view(), true
}

func (p *Plugin) GetSessions() []*types.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.view())
	}
	return out
}

// session tracks one tool invocation's lifecycle.
type session struct {
	id       string
	pluginID string
	agentID  string
	opts     types.InvokeOptions

	mu           sync.Mutex
	state        types.InternalState
	createdAt    time.Time
	lastActivity time.Time
	exitCode     *int
	completeOnce sync.Once

	subsMu      sync.Mutex
	subscribers map[int]func(types.SessionEvent)
	nextSubID   int

	stopped chan struct{}
}

func newSession(id, pluginID, agentID string, opts types.InvokeOptions) *session {
	return &session{
		id:          id,
		pluginID:    pluginID,
		agentID:     agentID,
		opts:        opts,
		state:       types.StateInitializing,
		createdAt:   time.Now(),
		subscribers: make(map[int]func(types.SessionEvent)),
		stopped:     make(chan struct{}),
	}
}

func (s *session) subscribe(cb func(types.SessionEvent)) func() {
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

func (s *session) emit(ev types.SessionEvent) {
	ev.SessionID = s.id
	ev.Timestamp = time.Now()

	s.subsMu.Lock()
	cbs := make([]func(types.SessionEvent), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		cbs = append(cbs, cb)
	}
	s.subsMu.Unlock()

	for _, cb := range cbs {
		cb(ev)
	}
}

func (s *session) view() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Session{
		ID:                s.id,
		AgentID:           s.agentID,
		PluginID:          s.pluginID,
		ProjectPath:       s.opts.ProjectPath,
		UpstreamSessionID: s.id,
		Status:            types.CoarsenStatus(s.state),
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		ExitCode:          s.exitCode,
	}
}

func (s *session) run(ctx context.Context, t tool.Tool, opts types.InvokeOptions) {
	s.emit(types.SessionEvent{Type: types.EventInit, Data: types.InitEventData{UpstreamSessionID: s.id}})
	s.mu.Lock()
	s.state = types.StateProcessing
	s.mu.Unlock()

	toolCtx := &tool.Context{
		SessionID: s.id,
		Agent:     s.agentID,
		WorkDir:   opts.ProjectPath,
		AbortCh:   s.stopped,
		Extra: map[string]any{
			"resolver": permission.NewResolver(opts.AllowTools, opts.DenyTools),
		},
	}

	result, err := t.Execute(ctx, []byte(opts.Prompt), toolCtx)

	exitCode := 0
	if err != nil {
		exitCode = 1
		s.mu.Lock()
		s.state = types.StateError
		s.mu.Unlock()
		s.emit(types.SessionEvent{Type: types.EventError, Data: types.ErrorEventData{Message: err.Error()}})
	} else {
		s.mu.Lock()
		s.state = types.StateStopped
		s.mu.Unlock()
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Raw: result.Output}})
	}

	s.mu.Lock()
	s.exitCode = &exitCode
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.completeOnce.Do(func() {
		s.emit(types.SessionEvent{Type: types.EventComplete, Data: types.CompleteEventData{ExitCode: exitCode, UpstreamSessionID: s.id}})
		close(s.stopped)
	})
}

func (s *session) stop() {
	s.mu.Lock()
	s.state = types.StateStopped
	s.mu.Unlock()
	s.completeOnce.Do(func() { close(s.stopped) })
}
