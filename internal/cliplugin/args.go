package cliplugin

import (
	"github.com/nova-run/novad/pkg/types"
)

// BuildArgs constructs the wrapped CLI's argument list from
// InvokeOptions per spec 4.4: positional prompt, stream-json output
// format, verbose/partial-message flags, model id, permission mode,
// resume/fork flags, and allow/deny tool lists.
func BuildArgs(agentID string, opts types.InvokeOptions) []string {
	args := []string{
		"--print", opts.Prompt,
		"--output-format", "stream-json",
		"--model", agentID,
		"--permission-mode", opts.ResolvePermissionMode(),
	}

	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.PartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if opts.ForkSession {
		args = append(args, "--fork-session")
	}
	for _, t := range opts.AllowTools {
		args = append(args, "--allowedTools", t)
	}
	for _, t := range opts.DenyTools {
		args = append(args, "--disallowedTools", t)
	}

	return args
}
