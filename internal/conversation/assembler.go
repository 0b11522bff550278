// ABOUTME: Builds the per-turn prompt preamble from identity, history, memory.
// ABOUTME: Owns the last-interaction cache behind the ongoing-conversation flag.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/familiar/internal/memory"
	"github.com/2389/familiar/internal/store"
)

// OngoingThreshold is how recently a channel must have been active for a
// turn to count as part of an ongoing conversation. Ongoing conversations
// suppress greeting behavior in the prompt layer.
const OngoingThreshold = 30 * time.Minute

// historyLimit is how many recent messages the preamble includes.
const historyLimit = 20

// TurnContext is the assembled preamble for one turn.
type TurnContext struct {
	Preamble string
	Ongoing  bool
}

// Memories is the slice of the memory service the assembler needs.
type Memories interface {
	ForUser(ctx context.Context, username string) (global, user []*store.Memory, err error)
}

// Assembler builds turn preambles. It owns the last-interaction cache: the
// store is consulted once per channel, then the cache is touched on every
// build so back-to-back turns read as ongoing without another query.
type Assembler struct {
	history  *Service
	memories Memories
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewAssembler builds turn preambles from history and memory.
func NewAssembler(history *Service, memories Memories, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		history:  history,
		memories: memories,
		logger:   logger.With("component", "assembler"),
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// BuildTurnContext assembles the preamble for one turn: an identity and
// time header, recent history with the familiar's own turns labeled, then
// global and user-scoped memories. Store read failures degrade to a smaller
// preamble; they are logged, never fatal.
func (a *Assembler) BuildTurnContext(ctx context.Context, user, channelID string) TurnContext {
	now := a.now()
	last, ongoing := a.touch(ctx, channelID, now)

	var b strings.Builder
	b.WriteString("Current user: " + user + "\n")
	b.WriteString("Current time: " + now.UTC().Format("Monday, 02 Jan 2006 15:04 MST"))
	if last.IsZero() {
		b.WriteString(" (first conversation in this channel)\n")
	} else {
		fmt.Fprintf(&b, " (last activity %s ago)\n", humanDuration(now.Sub(last)))
	}

	if history := a.renderHistory(ctx, channelID); history != "" {
		b.WriteString("\nRecent conversation ((you) marks your own messages):\n")
		b.WriteString(history)
	}

	global, userMems, err := a.memories.ForUser(ctx, user)
	if err != nil {
		a.logger.Warn("loading memories failed", "channel_id", channelID, "user", user, "error", err)
	}
	if sec := memory.RenderSection(global, memory.SectionBudget); sec != "" {
		b.WriteString("\nThings you know (shared):\n")
		b.WriteString(sec)
	}
	if sec := memory.RenderSection(userMems, memory.SectionBudget); sec != "" {
		fmt.Fprintf(&b, "\nThings you know about %s:\n", user)
		b.WriteString(sec)
	}

	return TurnContext{Preamble: b.String(), Ongoing: ongoing}
}

// touch reports the channel's previous activity time and whether the
// conversation counts as ongoing, then marks the channel active as of now.
func (a *Assembler) touch(ctx context.Context, channelID string, now time.Time) (time.Time, bool) {
	a.mu.Lock()
	last, cached := a.lastSeen[channelID]
	a.mu.Unlock()

	if !cached {
		stored, err := a.history.LastInteraction(ctx, channelID)
		switch {
		case err == nil:
			last = stored
		case errors.Is(err, store.ErrNotFound):
			// first contact
		default:
			a.logger.Warn("reading last interaction failed", "channel_id", channelID, "error", err)
		}
	}

	a.mu.Lock()
	a.lastSeen[channelID] = now
	a.mu.Unlock()

	ongoing := !last.IsZero() && now.Sub(last) < OngoingThreshold
	return last, ongoing
}

func (a *Assembler) renderHistory(ctx context.Context, channelID string) string {
	msgs, err := a.history.Recent(ctx, channelID, historyLimit)
	if err != nil {
		a.logger.Warn("loading history failed", "channel_id", channelID, "error", err)
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		author := m.Author
		if m.IsBot {
			author += " (you)"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.UTC().Format("15:04"), author, m.Content)
	}
	return b.String()
}

// humanDuration renders a duration coarsely, in its largest sensible unit.
func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second")
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
