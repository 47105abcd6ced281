// Package permission provides permission control for tool execution.
package permission

// PermissionAction represents the action to take for a permission check.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// PermissionType represents the type of permission being checked. It
// labels a RejectedError; it is not a lookup key into any policy map
// anymore, since policy is just the flat allow/deny glob lists on
// types.InvokeOptions (see Resolver).
type PermissionType string

const (
	PermBash        PermissionType = "bash"
	PermExternalDir PermissionType = "external_directory"
)

// RejectedError is returned when permission is denied.
type RejectedError struct {
	SessionID string
	Type      PermissionType
	CallID    string
	Metadata  map[string]any
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}
