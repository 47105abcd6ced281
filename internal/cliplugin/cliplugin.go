// Package cliplugin implements the "cli" source plugin: a thin adapter
// wrapping internal/ptysession for one concrete wrapped CLI binary.
package cliplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/internal/ptysession"
	"github.com/oklog/ulid/v2"

	"github.com/nova-run/novad/pkg/types"
)

// CLIPlugin wraps one CLI binary, advertising its manifest's declared
// agents as model variants.
type CLIPlugin struct {
	manifest *types.Manifest
	cfg      plugin.ConfigSource
	binary   string

	mu       sync.RWMutex
	sessions map[string]*ptysession.Session
}

// New constructs a CLIPlugin factory-style, matching plugin.Factory's
// signature.
func New(manifest *types.Manifest, cfg plugin.ConfigSource) (plugin.Plugin, error) {
	opts := cfg.PluginOptions(manifest.Name)
	binary, _ := opts["binary"].(string)
	if binary == "" {
		binary = manifest.EntryPoint
	}

	resolved, err := ptysession.ResolveBinary(binary, ptysession.CandidatePaths(binary, binary))
	if err != nil {
		return nil, fmt.Errorf("cliplugin %s: %w", manifest.Name, err)
	}

	return &CLIPlugin{
		manifest: manifest,
		cfg:      cfg,
		binary:   resolved,
		sessions: make(map[string]*ptysession.Session),
	}, nil
}

func (p *CLIPlugin) Name() string             { return p.manifest.Name }
func (p *CLIPlugin) Manifest() *types.Manifest { return p.manifest }

func (p *CLIPlugin) Initialize(ctx context.Context) error { return nil }

func (p *CLIPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	sessions := make([]*ptysession.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*ptysession.Session)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *ptysession.Session) {
			defer wg.Done()
			_ = s.Stop(ctx)
		}(s)
	}
	wg.Wait()
	return nil
}

func (p *CLIPlugin) Agents() []types.Agent {
	out := make([]types.Agent, 0, len(p.manifest.Agents))
	for _, decl := range p.manifest.Agents {
		out = append(out, types.Agent{
			ID:           decl.ID,
			PluginName:   p.manifest.Name,
			Name:         decl.Name,
			Capabilities: decl.Capabilities,
			Description:  decl.Description,
			Enabled:      p.cfg.IsAgentEnabled(p.manifest.Name, decl.ID),
		})
	}
	return out
}

func (p *CLIPlugin) GetAgent(id string) (types.Agent, bool) {
	for _, a := range p.Agents() {
		if a.ID == id {
			return a, true
		}
	}
	return types.Agent{}, false
}

// Invoke constructs a PTY Session, inserts it into the map before
// starting, awaits start, and returns the public session view,
// including the captured upstream_session_id if it arrived promptly.
func (p *CLIPlugin) Invoke(ctx context.Context, agentID string, opts types.InvokeOptions) (*types.Session, error) {
	id := ulid.Make().String()
	args := BuildArgs(agentID, opts)
	sess := ptysession.New(id, p.manifest.Name, agentID, p.binary, args, opts)

	p.mu.Lock()
	p.sessions[id] = sess
	p.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		p.mu.Lock()
		delete(p.sessions, id)
		p.mu.Unlock()
		return nil, err
	}

	return sess.View(), nil
}

// Message is a no-op path for the single-prompt launch mode: the
// wrapped CLI exits after one exchange, so a follow-up is a new
// invocation with resume_session_id set, not a write to this session's
// stdin.
func (p *CLIPlugin) Message(ctx context.Context, sessionID, text string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found")
	}
	select {
	case <-sess.Closed():
		return fmt.Errorf("create a new session with resume")
	default:
		return fmt.Errorf("create a new session with resume")
	}
}

func (p *CLIPlugin) Stream(sessionID string, cb func(types.SessionEvent)) (func(), bool) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return func() {}, false
	}
	return sess.Subscribe(cb), true
}

// Stop delegates to the session then removes it from the map.
func (p *CLIPlugin) Stop(ctx context.Context, sessionID string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		logging.Debug().Str("session", sessionID).Msg("cliplugin: stop of unknown session")
		return nil
	}

	err := sess.Stop(ctx)

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	return err
}

// Respond delivers a client's answer to a pending interactive prompt,
// surfaced by the session's control_request handling.
func (p *CLIPlugin) Respond(ctx context.Context, sessionID, promptID, key string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found")
	}
	return sess.Respond(promptID, key)
}

func (p *CLIPlugin) GetSession(sessionID string) (*types.Session, bool) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess.View(), true
}

func (p *CLIPlugin) GetSessions() []*types.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.View())
	}
	return out
}
