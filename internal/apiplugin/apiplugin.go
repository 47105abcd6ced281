// Package apiplugin implements the "api" source plugin: a thin adapter
// calling an internal/provider model directly, with no subprocess in
// the loop. One invoke is one non-streaming-to-the-caller completion;
// each session keeps its own message history for follow-up turns.
package apiplugin

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/internal/provider"
	"github.com/nova-run/novad/pkg/types"
)

// Plugin wraps a provider.Registry, exposing each configured
// provider/model pair as an agent.
type Plugin struct {
	manifest  *types.Manifest
	cfg       plugin.ConfigSource
	providers *provider.Registry

	mu       sync.RWMutex
	sessions map[string]*session
}

// New constructs an api-source Plugin. providers is shared across every
// api-source manifest in the process; a manifest with no matching
// provider registered is still loaded, but every agent under it reports
// disabled until a provider is configured.
func New(manifest *types.Manifest, cfg plugin.ConfigSource, providers *provider.Registry) (plugin.Plugin, error) {
	return &Plugin{
		manifest:  manifest,
		cfg:       cfg,
		providers: providers,
		sessions:  make(map[string]*session),
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

// agentModel resolves an AgentDecl's id to a provider/model pair. By
// convention the agent id is "providerID/modelID"; a bare id falls back
// to the registry's default model.
func (p *Plugin) agentModel(agentID string) (provider.Provider, string, bool) {
	providerID, modelID := provider.ParseModelString(agentID)
	if providerID == "" {
		model, err := p.providers.DefaultModel()
		if err != nil {
			return nil, "", false
		}
		prov, err := p.providers.Get(model.ProviderID)
		if err != nil {
			return nil, "", false
		}
		return prov, model.ID, true
	}
	prov, err := p.providers.Get(providerID)
	if err != nil {
		return nil, "", false
	}
	return prov, modelID, true
}

func (p *Plugin) Agents() []types.Agent {
	out := make([]types.Agent, 0, len(p.manifest.Agents))
	for _, decl := range p.manifest.Agents {
		_, _, ok := p.agentModel(decl.ID)
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

// Invoke starts a completion in the background and returns the session
// view immediately, mirroring cliplugin's invoke-then-stream shape so
// the transport's auto-subscribe-before-reply ordering holds here too.
func (p *Plugin) Invoke(ctx context.Context, agentID string, opts types.InvokeOptions) (*types.Session, error) {
	prov, modelID, ok := p.agentModel(agentID)
	if !ok {
		return nil, fmt.Errorf("apiplugin: no provider configured for agent %s", agentID)
	}

	sess := newSession(ulid.Make().String(), p.manifest.Name, agentID, opts)
	sess.history = append(sess.history, &schema.Message{Role: schema.User, Content: opts.Prompt})

	p.mu.Lock()
	p.sessions[sess.id] = sess
	p.mu.Unlock()

	go sess.run(prov, modelID)

	return sess.view(), nil
}

func (p *Plugin) Message(ctx context.Context, sessionID, text string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found")
	}
	prov, modelID, ok := p.agentModel(sess.agentID)
	if !ok {
		return fmt.Errorf("apiplugin: provider no longer available for %s", sess.agentID)
	}

	sess.mu.Lock()
	sess.history = append(sess.history, &schema.Message{Role: schema.User, Content: text})
	sess.mu.Unlock()

	go sess.run(prov, modelID)
	return nil
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
		logging.Debug().Str("session", sessionID).Msg("apiplugin: stop of unknown session")
		return nil
	}
	sess.stop()

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	return nil
}

// Respond is unsupported: completions from the model provider have no
// interactive-approval surface to answer.
func (p *Plugin) Respond(ctx context.Context, sessionID, promptID, key string) error {
	return fmt.Errorf("apiplugin: interactive prompts are not supported")
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

// session is one api-backed conversation: an accumulated message
// history plus the bookkeeping View needs to render a types.Session.
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
	messageCount int
	history      []*schema.Message
	completeOnce sync.Once
	cancel       context.CancelFunc

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

func (s *session) setState(state types.InternalState) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) view() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Session{
		ID:                s.id,
		AgentID:           s.agentID,
		PluginID:          s.pluginID,
		ProjectPath:       s.opts.ProjectPath,
		ResumeSessionID:   s.opts.ResumeSessionID,
		UpstreamSessionID: s.id,
		Status:            types.CoarsenStatus(s.state),
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		ExitCode:          s.exitCode,
		MessageCount:      s.messageCount,
	}
}

// run performs one completion turn against history and appends the
// resulting assistant message. Safe to call again for a follow-up
// Message once the previous turn's complete event has fired.
func (s *session) run(prov provider.Provider, modelID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	history := append([]*schema.Message{}, s.history...)
	s.mu.Unlock()

	s.emit(types.SessionEvent{Type: types.EventInit, Data: types.InitEventData{UpstreamSessionID: s.id}})
	s.setState(types.StateProcessing)

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{Model: modelID, Messages: history})
	if err != nil {
		s.fail(err)
		return
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.fail(err)
			return
		}
		out.WriteString(chunk.Content)
		s.emit(types.SessionEvent{Type: types.EventOutput, Data: types.OutputEventData{Raw: chunk.Content}})
	}

	s.mu.Lock()
	s.history = append(s.history, &schema.Message{Role: schema.Assistant, Content: out.String()})
	s.messageCount++
	s.state = types.StateIdle
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.emit(types.SessionEvent{Type: types.EventComplete, Data: types.CompleteEventData{ExitCode: 0, UpstreamSessionID: s.id}})
}

func (s *session) fail(err error) {
	s.mu.Lock()
	s.state = types.StateError
	s.mu.Unlock()
	logging.Warn().Err(err).Str("session", s.id).Msg("apiplugin: completion failed")
	s.emit(types.SessionEvent{Type: types.EventError, Data: types.ErrorEventData{Message: err.Error()}})
}

func (s *session) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.state = types.StateStopped
	zero := 0
	s.exitCode = &zero
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.completeOnce.Do(func() { close(s.stopped) })
}
