// ABOUTME: Renders memory buckets into prompt-ready text sections.
// ABOUTME: Enforces the per-section character budget with a visible marker.

package memory

import (
	"fmt"
	"strings"

	"github.com/2389/familiar/internal/store"
)

// SectionBudget caps each rendered memory section's character count.
const SectionBudget = 2000

// TruncationMarker ends a section that was cut short by the budget.
const TruncationMarker = "- (more memories truncated)"

// RenderSection renders memories as "- key: value" lines. Rendering stops
// at the first line that would overflow the budget, ending the section with
// TruncationMarker instead of a silent cut. A budget of zero or less means
// SectionBudget. Empty input renders as "".
func RenderSection(mems []*store.Memory, budget int) string {
	if budget <= 0 {
		budget = SectionBudget
	}
	var b strings.Builder
	for _, m := range mems {
		line := fmt.Sprintf("- %s: %s\n", m.Key, m.Value)
		if b.Len()+len(line) > budget {
			b.WriteString(TruncationMarker + "\n")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
