// ABOUTME: Tests for decision and kind enums and tool classification.
// ABOUTME: Covers string forms, the allow check, and KindForTool mapping.

package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionString(t *testing.T) {
	cases := []struct {
		decision Decision
		want     string
	}{
		{DecisionApproved, "approved"},
		{DecisionDeniedByUser, "denied_by_user"},
		{DecisionDeniedTimeout, "denied_timeout"},
		{DecisionDeniedNoContext, "denied_no_context"},
		{Decision(99), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.decision.String())
	}
}

func TestDecisionAllowed(t *testing.T) {
	assert.True(t, DecisionApproved.Allowed())
	assert.False(t, DecisionDeniedByUser.Allowed())
	assert.False(t, DecisionDeniedTimeout.Allowed())
	assert.False(t, DecisionDeniedNoContext.Allowed())
}

func TestKindForTool(t *testing.T) {
	cases := []struct {
		tool string
		want Kind
	}{
		{"Bash", KindShell},
		{"BashOutput", KindShell},
		{"KillShell", KindShell},
		{"Read", KindFileRead},
		{"Glob", KindFileRead},
		{"Grep", KindFileRead},
		{"Write", KindFileWrite},
		{"Edit", KindFileWrite},
		{"MultiEdit", KindFileWrite},
		{"NotebookEdit", KindFileWrite},
		{"WebFetch", KindNetwork},
		{"WebSearch", KindNetwork},
		{"mcp__github__create_issue", KindToolInvocation},
		{"", KindToolInvocation},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindForTool(tc.tool), "tool %q", tc.tool)
	}
}

func TestKindDescribe(t *testing.T) {
	assert.Equal(t, "run a shell command", KindShell.Describe())
	assert.Equal(t, "read files", KindFileRead.Describe())
	assert.Equal(t, "write or modify files", KindFileWrite.Describe())
	assert.Equal(t, "access the network", KindNetwork.Describe())
	assert.Equal(t, "use a tool", KindToolInvocation.Describe())
}
