package types

// Source is the closed set of plugin backends a manifest may declare.
type Source string

const (
	SourceCLI   Source = "cli"
	SourceAPI   Source = "api"
	SourceADK   Source = "adk"
	SourceLocal Source = "local"
	SourceGRPC  Source = "grpc"
)

// ValidSources lists every source the loader will accept.
var ValidSources = map[Source]bool{
	SourceCLI:   true,
	SourceAPI:   true,
	SourceADK:   true,
	SourceLocal: true,
	SourceGRPC:  true,
}

// Capability is one unit of behavior a plugin or agent may support.
type Capability string

const (
	CapabilityChat     Capability = "chat"
	CapabilityTools    Capability = "tools"
	CapabilityPlan     Capability = "plan"
	CapabilityCode     Capability = "code"
	CapabilityRealtime Capability = "realtime"
	CapabilityVision   Capability = "vision"
)

// ValidCapabilities lists every capability the loader will accept.
var ValidCapabilities = map[Capability]bool{
	CapabilityChat:     true,
	CapabilityTools:    true,
	CapabilityPlan:     true,
	CapabilityCode:     true,
	CapabilityRealtime: true,
	CapabilityVision:   true,
}

// AgentDecl is one agent entry inside a plugin manifest.
type AgentDecl struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Capabilities []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// Manifest is the declarative record read from a plugin directory's
// plugin.json (or plugin.yaml).
type Manifest struct {
	Name         string       `json:"name" yaml:"name"`
	Version      string       `json:"version" yaml:"version"`
	Type         string       `json:"type" yaml:"type"` // currently always "llm"
	Source       Source       `json:"source" yaml:"source"`
	Capabilities []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	EntryPoint   string       `json:"entryPoint" yaml:"entryPoint"`
	Agents       []AgentDecl  `json:"agents" yaml:"agents"`

	// Dir is the absolute path of the directory the manifest was read
	// from. Not part of the on-disk document; populated by the loader.
	Dir string `json:"-" yaml:"-"`
}

// Agent is a sub-identity exposed by a plugin, resolved at load time from
// the manifest's AgentDecl crossed with configuration.
type Agent struct {
	ID           string       `json:"id"`
	PluginName   string       `json:"plugin"`
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Description  string       `json:"description,omitempty"`
	Enabled      bool         `json:"enabled"`
}
