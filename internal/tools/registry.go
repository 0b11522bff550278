// ABOUTME: Classifies tool names by origin and renders display names.
// ABOUTME: Local names are builtin; remote names resolve through providers.

package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Origin says where a tool call executes.
type Origin int

const (
	// OriginLocal is a tool built into the runtime itself.
	OriginLocal Origin = iota
	// OriginProvider is a remote tool owned by a configured provider.
	OriginProvider
	// OriginUnlabeled is a remote tool no configured provider claims.
	OriginUnlabeled
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginProvider:
		return "provider"
	case OriginUnlabeled:
		return "unlabeled"
	default:
		return "unknown"
	}
}

// Classification is the result of classifying one tool name.
type Classification struct {
	Origin   Origin
	Provider string // set when Origin is OriginProvider
}

// Provider names one remote tool provider and the exact tool names it owns.
// Names following the mcp__{provider}__{tool} convention are owned implicitly.
type Provider struct {
	Name  string
	Tools []string
}

// localTools is the runtime's builtin vocabulary plus the gateway's own
// memory tools.
var localTools = map[string]struct{}{
	"Bash":         {},
	"BashOutput":   {},
	"KillShell":    {},
	"Read":         {},
	"Glob":         {},
	"Grep":         {},
	"Write":        {},
	"Edit":         {},
	"MultiEdit":    {},
	"NotebookEdit": {},
	"WebFetch":     {},
	"WebSearch":    {},
	"remember":     {},
	"forget":       {},
}

// internalTools are runtime bookkeeping calls (progress and plan reporting)
// that never surface as user-visible tool activity.
var internalTools = map[string]struct{}{
	"TodoWrite":    {},
	"ExitPlanMode": {},
}

// IsInternal reports whether a tool name is runtime bookkeeping that must be
// hidden from users and kept out of the pending-call map.
func IsInternal(toolName string) bool {
	_, ok := internalTools[toolName]
	return ok
}

// LocalToolNames returns the builtin tool vocabulary, sorted. This is the
// base of the allowed-tools list sent with every turn.
func LocalToolNames() []string {
	names := make([]string, 0, len(localTools))
	for name := range localTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type provider struct {
	name  string
	exact map[string]struct{}
}

func (p provider) owns(toolName string) bool {
	if _, ok := p.exact[toolName]; ok {
		return true
	}
	server, _, ok := splitMCPName(toolName)
	return ok && server == p.name
}

// Registry resolves tool names to their origin. Registration order matters:
// classification tries local names first, then providers in the order given.
type Registry struct {
	providers []provider
}

// NewRegistry builds a registry from the configured providers.
func NewRegistry(providers []Provider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		exact := make(map[string]struct{}, len(p.Tools))
		for _, name := range p.Tools {
			exact[name] = struct{}{}
		}
		r.providers = append(r.providers, provider{name: p.Name, exact: exact})
	}
	return r
}

// Classify resolves one tool name. Unclaimed remote names land in the
// unlabeled bucket rather than erroring.
func (r *Registry) Classify(toolName string) Classification {
	if _, ok := localTools[toolName]; ok {
		return Classification{Origin: OriginLocal}
	}
	for _, p := range r.providers {
		if p.owns(toolName) {
			return Classification{Origin: OriginProvider, Provider: p.name}
		}
	}
	return Classification{Origin: OriginUnlabeled}
}

// DisplayName renders a tool name for status messages. MCP-style names drop
// their prefix in favor of "tool (server)".
func (r *Registry) DisplayName(toolName string) string {
	c := r.Classify(toolName)
	server, tool, isMCP := splitMCPName(toolName)
	switch {
	case c.Origin == OriginProvider && isMCP:
		return fmt.Sprintf("%s (%s)", tool, c.Provider)
	case c.Origin == OriginProvider:
		return fmt.Sprintf("%s (%s)", toolName, c.Provider)
	case isMCP:
		return fmt.Sprintf("%s (%s)", tool, server)
	default:
		return toolName
	}
}

// splitMCPName splits "mcp__server__tool" into its parts.
func splitMCPName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp__")
	if !found {
		return "", "", false
	}
	server, tool, ok = strings.Cut(rest, "__")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
