package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Resolver auto-resolves a tool name or bash command against one
// invoke's allow/deny glob lists (types.InvokeOptions.AllowTools /
// DenyTools) — the flat permission surface the transport layer already
// forwards to the wrapped CLI's --allowedTools/--disallowedTools
// flags. Deny is checked before allow; an unmatched name resolves to
// ActionAsk.
//
// Resolver additionally tracks prompts awaiting an explicit response,
// for callers (ptysession's control-request handling) that must block
// until a client answers rather than auto-resolving.
type Resolver struct {
	allow []string
	deny  []string

	mu      sync.Mutex
	pending map[string]chan string
}

// NewResolver builds a Resolver from one invoke's allow/deny lists.
func NewResolver(allowTools, denyTools []string) *Resolver {
	return &Resolver{
		allow:   allowTools,
		deny:    denyTools,
		pending: make(map[string]chan string),
	}
}

// Resolve decides the action for a plain name — a tool id ("WebFetch")
// or a resolved external path — against the glob lists.
func (r *Resolver) Resolve(name string) PermissionAction {
	for _, pattern := range r.deny {
		if matchGlob(pattern, name) {
			return ActionDeny
		}
	}
	for _, pattern := range r.allow {
		if matchGlob(pattern, name) {
			return ActionAllow
		}
	}
	return ActionAsk
}

// ResolveBash decides the action for one parsed bash command, reusing
// MatchBashPermission's specificity ordering ("cmd sub *" > "cmd *" >
// "cmd" > "*") against each list independently. Deny wins ties.
func (r *Resolver) ResolveBash(cmd BashCommand) PermissionAction {
	if len(r.deny) > 0 {
		if MatchBashPermission(cmd, patternMap(r.deny, ActionDeny)) == ActionDeny {
			return ActionDeny
		}
	}
	if len(r.allow) > 0 {
		if MatchBashPermission(cmd, patternMap(r.allow, ActionAllow)) == ActionAllow {
			return ActionAllow
		}
	}
	return ActionAsk
}

func patternMap(patterns []string, action PermissionAction) map[string]PermissionAction {
	m := make(map[string]PermissionAction, len(patterns))
	for _, p := range patterns {
		m[p] = action
	}
	return m
}

func matchGlob(pattern, name string) bool {
	if pattern == name {
		return true
	}
	matched, err := doublestar.Match(pattern, name)
	return err == nil && matched
}

// Ask registers promptID as pending and blocks until Respond delivers
// a key or ctx is canceled.
func (r *Resolver) Ask(ctx context.Context, promptID string) (string, error) {
	ch := make(chan string, 1)
	r.mu.Lock()
	r.pending[promptID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, promptID)
		r.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case key := <-ch:
		return key, nil
	}
}

// Respond delivers key to the goroutine blocked in Ask for promptID.
// It reports false if promptID is unknown (already answered, or never
// asked).
func (r *Resolver) Respond(promptID, key string) bool {
	r.mu.Lock()
	ch, ok := r.pending[promptID]
	if ok {
		delete(r.pending, promptID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- key
	return true
}

// ErrUnknownPrompt is returned by callers whose Respond call reports
// no pending prompt with that id, so they can distinguish "already
// answered" from a transport failure.
var ErrUnknownPrompt = fmt.Errorf("permission: no pending prompt with that id")
