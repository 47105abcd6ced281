package types

// Config is the shape of nova.config.json: per-plugin enablement and
// options, a default agent reference, and server bind settings.
type Config struct {
	Plugins  map[string]PluginConfig `json:"plugins,omitempty"`
	Defaults DefaultsConfig          `json:"defaults,omitempty"`
	Server   ServerConfig            `json:"server,omitempty"`

	// Provider configs, consulted by the api-source plugin's model
	// catalog.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`
}

// PluginConfig is one entry under the top-level "plugins" map.
type PluginConfig struct {
	Enabled bool                   `json:"enabled"`
	Agents  map[string]bool        `json:"agents,omitempty"`
	Options map[string]any         `json:"options,omitempty"`
}

// DefaultsConfig holds the "plugin:agent" default agent reference.
type DefaultsConfig struct {
	Agent string `json:"agent,omitempty"`
}

// ServerConfig holds the WebSocket/HTTP bind settings.
type ServerConfig struct {
	Port int    `json:"port,omitempty"`
	Host string `json:"host,omitempty"`
}

// ProviderConfig holds configuration for a model provider consulted by
// the api-source plugin.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty"`

	Options *ProviderOptions `json:"options,omitempty"`

	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseURL,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"` // ms, nil = default, 0 = disabled
}

// Model represents an LLM model available from a provider, used by the
// api-source plugin's model catalog.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice       float64      `json:"outputPrice,omitempty"` // per 1M tokens
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}
