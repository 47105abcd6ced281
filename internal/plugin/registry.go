package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/nova-run/novad/internal/event"
	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/pkg/types"
)

// Sentinel errors surfaced by Invoke/Message/Stop, mapped to JSON-RPC
// error codes by the transport layer.
var (
	ErrPluginNotFound  = fmt.Errorf("plugin not found")
	ErrAgentNotFound   = fmt.Errorf("agent not found")
	ErrAgentDisabled   = fmt.Errorf("agent disabled")
	ErrSessionNotFound = fmt.Errorf("session not found")
)

// Registry is the central broker: it holds loaded plugins, maps
// session-id to owning plugin, and brokers invoke/message/stop/stream.
// The session->plugin map is the single source of truth for routing.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	owners  map[string]string // session id -> plugin name
}

func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		owners:  make(map[string]string),
	}
}

// Register is idempotent-replace on duplicate name (warn). Publishes
// event.PluginRegistered.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	if _, exists := r.plugins[p.Name()]; exists {
		logging.Warn().Str("plugin", p.Name()).Msg("plugin: replacing already-registered plugin")
	}
	r.plugins[p.Name()] = p
	r.mu.Unlock()

	event.Publish(event.Event{
		Type: event.PluginRegistered,
		Data: event.PluginRegisteredData{PluginName: p.Name(), Manifest: p.Manifest()},
	})
}

// Unregister calls the plugin's shutdown, removes all session->plugin
// entries for that plugin, and publishes event.PluginUnregistered. Shutdown
// errors are logged, not propagated.
func (r *Registry) Unregister(ctx context.Context, name string) {
	r.mu.Lock()
	p, ok := r.plugins[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.plugins, name)
	for sid, owner := range r.owners {
		if owner == name {
			delete(r.owners, sid)
		}
	}
	r.mu.Unlock()

	if err := p.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Str("plugin", name).Msg("plugin: shutdown error")
	}

	event.Publish(event.Event{
		Type: event.PluginUnregistered,
		Data: event.PluginUnregisteredData{PluginName: name},
	})
}

// Plugins returns a snapshot of loaded plugin manifests.
func (r *Registry) Plugins() []*types.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Manifest, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Manifest())
	}
	return out
}

// Agents returns a snapshot of every enabled agent across every plugin.
func (r *Registry) Agents() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Agent
	for _, p := range r.plugins {
		for _, a := range p.Agents() {
			if a.Enabled {
				out = append(out, a)
			}
		}
	}
	return out
}

// Invoke looks up pluginName/agentID, checks enablement, and delegates
// to the plugin's Invoke. On success it records session->plugin and
// publishes event.SessionCreated.
func (r *Registry) Invoke(ctx context.Context, pluginName, agentID string, opts types.InvokeOptions) (*types.Session, error) {
	r.mu.RLock()
	p, ok := r.plugins[pluginName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, pluginName)
	}

	agent, ok := p.GetAgent(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if !agent.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrAgentDisabled, agentID)
	}

	sess, err := p.Invoke(ctx, agentID, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.owners[sess.ID] = pluginName
	r.mu.Unlock()

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: sess},
	})
	return sess, nil
}

// Message looks up the owning plugin and delegates. Per spec, an
// unknown session is reported to the caller as a boolean failure, not a
// Go error, so callers can produce {success:false, error} directly.
func (r *Registry) Message(ctx context.Context, sessionID, text string) (bool, string) {
	r.mu.RLock()
	owner, ok := r.owners[sessionID]
	var p Plugin
	if ok {
		p = r.plugins[owner]
	}
	r.mu.RUnlock()
	if !ok || p == nil {
		return false, "session not found"
	}
	if err := p.Message(ctx, sessionID, text); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Stream registers cb with the owning plugin's session and returns a
// cancel callable. It is a no-op returning ok=false if the session is
// unknown.
func (r *Registry) Stream(sessionID string, cb func(types.SessionEvent)) (cancel func(), ok bool) {
	r.mu.RLock()
	owner, exists := r.owners[sessionID]
	var p Plugin
	if exists {
		p = r.plugins[owner]
	}
	r.mu.RUnlock()
	if !exists || p == nil {
		return func() {}, false
	}
	return p.Stream(sessionID, cb)
}

// Stop delegates to the owning plugin. On return it removes the
// session->plugin mapping and publishes event.SessionEnded. An absent session is
// logged as a warning, not returned as an error.
func (r *Registry) Stop(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	owner, ok := r.owners[sessionID]
	var p Plugin
	if ok {
		p = r.plugins[owner]
	}
	r.mu.RUnlock()
	if !ok || p == nil {
		logging.Warn().Str("session", sessionID).Msg("registry: stop of unknown session")
		return nil
	}

	err := p.Stop(ctx, sessionID)

	r.mu.Lock()
	delete(r.owners, sessionID)
	r.mu.Unlock()

	event.Publish(event.Event{
		Type: event.SessionEnded,
		Data: event.SessionEndedData{SessionID: sessionID},
	})
	return err
}

// Respond delegates to the owning plugin's Respond.
func (r *Registry) Respond(ctx context.Context, sessionID, promptID, key string) error {
	r.mu.RLock()
	owner, ok := r.owners[sessionID]
	var p Plugin
	if ok {
		p = r.plugins[owner]
	}
	r.mu.RUnlock()
	if !ok || p == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return p.Respond(ctx, sessionID, promptID, key)
}

// GetSession looks up a session across all plugins.
func (r *Registry) GetSession(sessionID string) (*types.Session, bool) {
	r.mu.RLock()
	owner, ok := r.owners[sessionID]
	var p Plugin
	if ok {
		p = r.plugins[owner]
	}
	r.mu.RUnlock()
	if !ok || p == nil {
		return nil, false
	}
	return p.GetSession(sessionID)
}

// GetSessions returns every known session across every plugin.
func (r *Registry) GetSessions() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*types.Session
	for _, p := range r.plugins {
		for _, s := range p.GetSessions() {
			if !seen[s.ID] {
				seen[s.ID] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Shutdown concurrently shuts down every plugin; state is cleared
// regardless of per-plugin failure.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	plugins := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		plugins = append(plugins, p)
	}
	r.plugins = make(map[string]Plugin)
	r.owners = make(map[string]string)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range plugins {
		wg.Add(1)
		go func(p Plugin) {
			defer wg.Done()
			if err := p.Shutdown(ctx); err != nil {
				logging.Warn().Err(err).Str("plugin", p.Name()).Msg("registry: shutdown error")
			}
		}(p)
	}
	wg.Wait()
}
