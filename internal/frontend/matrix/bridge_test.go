// ABOUTME: Tests for Matrix bridge filtering and rendering helpers
// ABOUTME: Covers message splitting, allowlists, reactions, and verdicts

package matrix

import (
	"strings"
	"testing"
	"unicode/utf8"

	"maunium.net/go/mautrix/id"

	"github.com/2389/familiar/internal/approval"
	"github.com/2389/familiar/internal/config"
)

func TestSplitMessage(t *testing.T) {
	short := splitMessage("hello", 10)
	if len(short) != 1 || short[0] != "hello" {
		t.Errorf("splitMessage(short) = %v, want one chunk", short)
	}

	chunks := splitMessage(strings.Repeat("a", 25), 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 10) {
		t.Errorf("first chunk = %q, want 10 runes", chunks[0])
	}
	if chunks[2] != strings.Repeat("a", 5) {
		t.Errorf("last chunk = %q, want 5 runes", chunks[2])
	}
}

func TestSplitMessage_RuneSafe(t *testing.T) {
	text := strings.Repeat("héllo", 4)
	chunks := splitMessage(text, 7)

	var rejoined strings.Builder
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q is not valid UTF-8", c)
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != text {
		t.Errorf("chunks do not rejoin to the original text")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("truncate = %q, want %q", got, "hello...")
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := renderHTML("**bold** and `code`")
	if err != nil {
		t.Fatalf("renderHTML: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("html = %q, missing bold markup", html)
	}
	if !strings.Contains(html, "<code>code</code>") {
		t.Errorf("html = %q, missing code markup", html)
	}
	if strings.HasSuffix(html, "\n") {
		t.Errorf("html should be trimmed, got %q", html)
	}
}

func TestUserAllowed(t *testing.T) {
	open := &Bridge{cfg: config.MatrixConfig{}}
	if !open.userAllowed(id.UserID("@anyone:example.org")) {
		t.Error("empty allowlist should admit everyone")
	}

	restricted := &Bridge{cfg: config.MatrixConfig{
		AllowedUsers: []string{"@alice:example.org"},
	}}
	if !restricted.userAllowed(id.UserID("@alice:example.org")) {
		t.Error("listed user should be allowed")
	}
	if restricted.userAllowed(id.UserID("@mallory:example.org")) {
		t.Error("unlisted user should be rejected")
	}
}

func TestRoomAllowed(t *testing.T) {
	open := &Bridge{cfg: config.MatrixConfig{}}
	if !open.roomAllowed(id.RoomID("!any:example.org")) {
		t.Error("empty allowlist should admit every room")
	}

	restricted := &Bridge{cfg: config.MatrixConfig{
		AllowedRooms: []string{"!den:example.org"},
	}}
	if !restricted.roomAllowed(id.RoomID("!den:example.org")) {
		t.Error("listed room should be allowed")
	}
	if restricted.roomAllowed(id.RoomID("!other:example.org")) {
		t.Error("unlisted room should be rejected")
	}
}

func TestReactionVerdict(t *testing.T) {
	tests := []struct {
		key        string
		approve    bool
		recognized bool
	}{
		{"✅", true, true},
		{"✅️", true, true},
		{"❌", false, true},
		{"❌️", false, true},
		{"👍", false, false},
		{"yes", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		approve, recognized := reactionVerdict(tt.key)
		if approve != tt.approve || recognized != tt.recognized {
			t.Errorf("reactionVerdict(%q) = (%v, %v), want (%v, %v)",
				tt.key, approve, recognized, tt.approve, tt.recognized)
		}
	}
}

func TestVerdictText(t *testing.T) {
	got := verdictText(approval.DecisionApproved, "@alice:example.org")
	if !strings.Contains(got, "Approved by @alice:example.org") {
		t.Errorf("approved verdict = %q", got)
	}

	got = verdictText(approval.DecisionDeniedByUser, "@alice:example.org")
	if !strings.Contains(got, "Denied by @alice:example.org") {
		t.Errorf("denied verdict = %q", got)
	}

	got = verdictText(approval.DecisionDeniedTimeout, "")
	if !strings.Contains(got, "no response") {
		t.Errorf("timeout verdict = %q", got)
	}
}
