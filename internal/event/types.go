package event

import "github.com/nova-run/novad/pkg/types"

// PluginRegisteredData is the data for plugin.registered events, raised
// when the plugin loader successfully initializes a plugin.
type PluginRegisteredData struct {
	PluginName string        `json:"pluginName"`
	Manifest   *types.Manifest `json:"manifest"`
}

// PluginUnregisteredData is the data for plugin.unregistered events,
// published by plugin.Registry.Unregister; Registry.Shutdown does not
// publish it.
type PluginUnregisteredData struct {
	PluginName string `json:"pluginName"`
	Reason     string `json:"reason,omitempty"`
}

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionStatusData is the data for session.status events. No package
// in this module publishes it.
type SessionStatusData struct {
	SessionID string            `json:"sessionID"`
	State     types.InternalState `json:"state"`
	Status    types.Status      `json:"status"`
}

// SessionEndedData is the data for session.ended events, published by
// plugin.Registry.Stop after the owning plugin's Stop returns. Only
// SessionID is set there; ExitCode is left zero.
type SessionEndedData struct {
	SessionID string `json:"sessionID"`
	ExitCode  int    `json:"exitCode"`
}

// SessionEventRaisedData wraps a types.SessionEvent for session.event
// bus events. No package in this module publishes it: session events
// reach the transport layer through each plugin's Stream callbacks.
type SessionEventRaisedData struct {
	Event types.SessionEvent `json:"event"`
}

// PermissionRequiredData is the data for permission.required events,
// describing an interactive prompt that could not be auto-resolved. No
// package in this module publishes it.
type PermissionRequiredData struct {
	SessionID string                 `json:"sessionID"`
	Prompt    types.InteractivePrompt `json:"prompt"`
}

// PermissionResolvedData is the data for permission.resolved events,
// describing a prompt answered by the auto-resolver or a client. No
// package in this module publishes it.
type PermissionResolvedData struct {
	SessionID  string `json:"sessionID"`
	PromptID   string `json:"promptID"`
	Key        string `json:"key"`
	AutoResolved bool `json:"autoResolved"`
}

// ConfigReloadedData is the data for config.reloaded events. No package
// in this module publishes it.
type ConfigReloadedData struct {
	Path string `json:"path"`
}

// FileEditedData is the data for file.edited events, raised by the
// local-source plugin's write/edit tools.
type FileEditedData struct {
	File string `json:"file"`
}
