// ABOUTME: Tests for memory section rendering and budget truncation.
// ABOUTME: Verifies line format and the explicit truncation marker.

package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar/internal/store"
)

func mems(pairs ...string) []*store.Memory {
	out := make([]*store.Memory, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, &store.Memory{Key: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestRenderSection_Lines(t *testing.T) {
	got := RenderSection(mems("favorite color", "blue", "hometown", "Lisbon"), 0)
	assert.Equal(t, "- favorite color: blue\n- hometown: Lisbon\n", got)
}

func TestRenderSection_Empty(t *testing.T) {
	assert.Empty(t, RenderSection(nil, 0))
}

func TestRenderSection_BudgetTruncates(t *testing.T) {
	long := strings.Repeat("x", 40)
	section := RenderSection(mems("a", long, "b", long, "c", long), 60)

	require.Contains(t, section, TruncationMarker)
	assert.Contains(t, section, "- a: ")
	assert.NotContains(t, section, "- b: ")
	assert.NotContains(t, section, "- c: ")
	// Only the marker may spill past the budget.
	assert.LessOrEqual(t, len(section), 60+len(TruncationMarker)+1)
}

func TestRenderSection_ExactFitNeedsNoMarker(t *testing.T) {
	section := RenderSection(mems("a", "1"), len("- a: 1\n"))
	assert.Equal(t, "- a: 1\n", section)
}

func TestRenderSection_DefaultBudgetHoldsSmallSections(t *testing.T) {
	section := RenderSection(mems("favorite color", "blue"), 0)
	assert.NotContains(t, section, TruncationMarker)
}
