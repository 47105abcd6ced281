package types

import "time"

// Status is the coarse, externally-visible session lifecycle state.
type Status string

const (
	StatusStarting        Status = "starting"
	StatusRunning         Status = "running"
	StatusWaitingForInput Status = "waiting-for-input"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
	StatusStopped         Status = "stopped"
)

// InternalState is the PTY session's finer-grained state machine; Status
// is a coarsening of it for external consumers.
type InternalState string

const (
	StateInitializing InternalState = "initializing"
	StateReady        InternalState = "ready"
	StateProcessing   InternalState = "processing"
	StateIdle         InternalState = "idle"
	StateError        InternalState = "error"
	StateStopped      InternalState = "stopped"
)

// CoarsenStatus maps an internal state to the externally-visible status.
func CoarsenStatus(s InternalState) Status {
	switch s {
	case StateInitializing:
		return StatusStarting
	case StateReady, StateProcessing:
		return StatusRunning
	case StateIdle:
		return StatusWaitingForInput
	case StateError:
		return StatusError
	case StateStopped:
		return StatusStopped
	default:
		return StatusError
	}
}

// Session is one live conversation/command-execution with an agent.
type Session struct {
	ID                string `json:"id"`
	AgentID           string `json:"agent_id"`
	PluginID          string `json:"plugin_id"`
	ProjectPath       string `json:"project_path"`
	ResumeSessionID   string `json:"resume_session_id,omitempty"`
	UpstreamSessionID string `json:"upstream_session_id,omitempty"`

	Status Status `json:"status"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	ExitCode     *int `json:"exit_code,omitempty"`
	MessageCount int  `json:"message_count"`
}

// InvokeOptions carries the parameters of an agent.invoke call, translated
// by the owning plugin into subprocess arguments or an API request.
type InvokeOptions struct {
	Prompt          string   `json:"prompt"`
	ProjectPath     string   `json:"projectPath"`
	ResumeSessionID string   `json:"resumeSessionID,omitempty"`
	ForkSession     bool     `json:"forkSession,omitempty"`
	PermissionMode  string   `json:"permissionMode,omitempty"` // default|acceptEdits|bypassPermissions|dontAsk|plan
	BypassMode      *bool    `json:"bypassMode,omitempty"`     // legacy: false -> permissionMode "default"
	AllowTools      []string `json:"allowTools,omitempty"`
	DenyTools       []string `json:"denyTools,omitempty"`
	Verbose         bool     `json:"verbose,omitempty"`
	PartialMessages bool     `json:"partialMessages,omitempty"`
}

// ResolvePermissionMode applies the legacy bypass_mode->permission_mode
// mapping and the bypassPermissions default.
func (o InvokeOptions) ResolvePermissionMode() string {
	if o.PermissionMode != "" {
		return o.PermissionMode
	}
	if o.BypassMode != nil && !*o.BypassMode {
		return "default"
	}
	return "bypassPermissions"
}

// FileDiff represents a diff for a single file, surfaced in a project's
// session summary.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Preview   string `json:"preview,omitempty"`
}
