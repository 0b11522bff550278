// ABOUTME: Decision and capability kind types for permission requests
// ABOUTME: Defines the closed set of outcomes and capability classes

package approval

// Decision is the terminal outcome of a permission request.
type Decision int

const (
	DecisionApproved Decision = iota
	DecisionDeniedByUser
	DecisionDeniedTimeout
	DecisionDeniedNoContext
)

// String returns the wire/log name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionDeniedByUser:
		return "denied_by_user"
	case DecisionDeniedTimeout:
		return "denied_timeout"
	case DecisionDeniedNoContext:
		return "denied_no_context"
	default:
		return "unknown"
	}
}

// Allowed reports whether the decision permits the capability use.
func (d Decision) Allowed() bool {
	return d == DecisionApproved
}

// Kind classifies what a permission request wants to do. The set is closed;
// anything unrecognized lands in KindToolInvocation and renders generically.
type Kind int

const (
	KindShell Kind = iota
	KindFileRead
	KindFileWrite
	KindNetwork
	KindToolInvocation
)

// String returns the short name used in logs.
func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindFileRead:
		return "file-read"
	case KindFileWrite:
		return "file-write"
	case KindNetwork:
		return "network"
	default:
		return "tool-invocation"
	}
}

// Describe returns the human phrasing prompters render.
func (k Kind) Describe() string {
	switch k {
	case KindShell:
		return "run a shell command"
	case KindFileRead:
		return "read files"
	case KindFileWrite:
		return "write or modify files"
	case KindNetwork:
		return "access the network"
	default:
		return "use a tool"
	}
}

// KindForTool maps a runtime tool name onto a capability kind.
func KindForTool(toolName string) Kind {
	switch toolName {
	case "Bash", "BashOutput", "KillShell":
		return KindShell
	case "Read", "Glob", "Grep":
		return KindFileRead
	case "Write", "Edit", "MultiEdit", "NotebookEdit":
		return KindFileWrite
	case "WebFetch", "WebSearch":
		return KindNetwork
	default:
		return KindToolInvocation
	}
}
