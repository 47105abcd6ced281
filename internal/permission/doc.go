// Package permission auto-resolves tool and bash-command execution
// against one invoke's allow/deny glob lists, and tracks interactive
// prompts awaiting a client's explicit response when nothing matches.
//
// # Resolver
//
// Resolver is built once per invoke, from
// types.InvokeOptions.AllowTools/DenyTools — the same flat pattern
// lists the cli-source plugin already forwards to the wrapped CLI as
// --allowedTools/--disallowedTools:
//
//	resolver := permission.NewResolver(opts.AllowTools, opts.DenyTools)
//	action := resolver.Resolve("WebFetch")       // plain tool name
//	action = resolver.ResolveBash(parsedCommand) // parsed bash command
//
// Deny is checked before allow; an unmatched name resolves to
// ActionAsk, leaving the caller to either deny by default (no
// interactive loop available, e.g. a one-shot local tool run) or
// surface an interactive-prompt session event and block in Ask.
//
// # Bash Command Parsing
//
// ParseBashCommand extracts command name, subcommand, and arguments
// from a shell command string for pattern matching:
//
//	commands, err := ParseBashCommand("git commit -m 'fix bug'")
//	// Returns: BashCommand{Name: "git", Subcommand: "commit", Args: [...]}
//
// # Pattern Matching
//
// Bash permissions support wildcard patterns with hierarchical
// matching, most specific first:
//   - "git commit *" - matches git commit with any arguments
//   - "git *"         - matches any git subcommand
//   - "git"           - matches any git command no more specific pattern covers
//   - "*"             - matches any command
//
// Plain tool names and paths use doublestar glob matching instead
// (Resolve), since they carry no subcommand structure.
//
// # Error Handling
//
// Permission denials are represented by RejectedError:
//
//	if err != nil && permission.IsRejectedError(err) {
//		rejErr := err.(*permission.RejectedError)
//		log.Printf("permission denied for %s: %s", rejErr.Type, rejErr.Message)
//	}
package permission
