// Package plugin discovers, validates, and brokers access to the loadable
// units that back agent sessions: one Registry per process, one Plugin
// per manifest directory under <base>/plugins.
package plugin

import (
	"context"

	"github.com/nova-run/novad/pkg/types"
)

// Plugin is the capability set every plugin variant implements, per
// spec's polymorphism-without-inheritance design: registry code depends
// only on this interface, never on a concrete variant (cli, api, adk,
// local, grpc).
type Plugin interface {
	Name() string
	Manifest() *types.Manifest

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Agents() []types.Agent
	GetAgent(id string) (types.Agent, bool)

	Invoke(ctx context.Context, agentID string, opts types.InvokeOptions) (*types.Session, error)
	Message(ctx context.Context, sessionID, text string) error
	Stream(sessionID string, cb func(types.SessionEvent)) (cancel func(), ok bool)
	Stop(ctx context.Context, sessionID string) error

	// Respond answers an interactive-prompt session event previously
	// raised for sessionID. Plugins with no such surface return an
	// error.
	Respond(ctx context.Context, sessionID, promptID, key string) error

	GetSession(sessionID string) (*types.Session, bool)
	GetSessions() []*types.Session
}

// ConfigSource is the narrow config.Loader surface a plugin factory
// needs; it avoids an import cycle between internal/plugin and
// internal/config while keeping factories decoupled from the concrete
// Loader type.
type ConfigSource interface {
	IsPluginEnabled(name string) bool
	IsAgentEnabled(plugin, agent string) bool
	PluginOptions(name string) map[string]any
}

// Factory constructs a Plugin from its parsed manifest and the config
// loader, mirroring spec 4.2's "instantiate passing (manifest,
// config_loader)".
type Factory func(manifest *types.Manifest, cfg ConfigSource) (Plugin, error)
