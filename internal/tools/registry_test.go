// ABOUTME: Tests for tool-name classification and display naming.
// ABOUTME: Covers local precedence, provider order, and MCP name parsing.

package tools

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_LocalBeatsProviders(t *testing.T) {
	// A provider claiming a builtin name cannot shadow it.
	r := NewRegistry([]Provider{{Name: "weird", Tools: []string{"Bash"}}})

	c := r.Classify("Bash")
	assert.Equal(t, OriginLocal, c.Origin)
	assert.Empty(t, c.Provider)
}

func TestClassify_ProviderExactName(t *testing.T) {
	r := NewRegistry([]Provider{{Name: "searxng", Tools: []string{"search_web"}}})

	c := r.Classify("search_web")
	assert.Equal(t, OriginProvider, c.Origin)
	assert.Equal(t, "searxng", c.Provider)
}

func TestClassify_FirstProviderWins(t *testing.T) {
	r := NewRegistry([]Provider{
		{Name: "alpha", Tools: []string{"shared_tool"}},
		{Name: "beta", Tools: []string{"shared_tool"}},
	})

	c := r.Classify("shared_tool")
	assert.Equal(t, "alpha", c.Provider)
}

func TestClassify_MCPConvention(t *testing.T) {
	// Providers own mcp__{name}__* implicitly, no Tools list needed.
	r := NewRegistry([]Provider{{Name: "github"}})

	c := r.Classify("mcp__github__create_issue")
	assert.Equal(t, OriginProvider, c.Origin)
	assert.Equal(t, "github", c.Provider)
}

func TestClassify_UnclaimedIsUnlabeled(t *testing.T) {
	r := NewRegistry(nil)

	c := r.Classify("mcp__mystery__frob")
	assert.Equal(t, OriginUnlabeled, c.Origin)
	assert.Empty(t, c.Provider)
}

func TestDisplayName(t *testing.T) {
	r := NewRegistry([]Provider{
		{Name: "github"},
		{Name: "searxng", Tools: []string{"search_web"}},
	})

	cases := []struct {
		tool string
		want string
	}{
		{"Bash", "Bash"},
		{"mcp__github__create_issue", "create_issue (github)"},
		{"search_web", "search_web (searxng)"},
		{"mcp__stray__frob", "frob (stray)"},
		{"SomethingElse", "SomethingElse"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.DisplayName(tc.tool), "tool %q", tc.tool)
	}
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal("TodoWrite"))
	assert.True(t, IsInternal("ExitPlanMode"))
	assert.False(t, IsInternal("Bash"))
	assert.False(t, IsInternal("mcp__github__create_issue"))
}

func TestSplitMCPName(t *testing.T) {
	cases := []struct {
		name   string
		server string
		tool   string
		ok     bool
	}{
		{"mcp__github__create_issue", "github", "create_issue", true},
		{"mcp__a__b__c", "a", "b__c", true},
		{"Bash", "", "", false},
		{"mcp__", "", "", false},
		{"mcp__solo", "", "", false},
		{"mcp____tool", "", "", false},
		{"mcp__server__", "", "", false},
	}
	for _, tc := range cases {
		server, tool, ok := splitMCPName(tc.name)
		assert.Equal(t, tc.ok, ok, "name %q", tc.name)
		assert.Equal(t, tc.server, server, "name %q", tc.name)
		assert.Equal(t, tc.tool, tool, "name %q", tc.name)
	}
}

func TestLocalToolNames(t *testing.T) {
	names := LocalToolNames()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "Bash")
	assert.Contains(t, names, "remember")
	assert.Contains(t, names, "forget")
	assert.NotContains(t, names, "TodoWrite")
}
