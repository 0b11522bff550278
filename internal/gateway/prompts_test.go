// ABOUTME: Tests for the prompt router that fans approval prompts out to surfaces.
// ABOUTME: Verifies channel registration, fallback, and same-surface resolution.

package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/2389/familiar/internal/approval"
)

// stubPrompter records prompts and resolutions for assertions.
type stubPrompter struct {
	prompted []approval.Request
	resolved []string
	failWith error
}

func (s *stubPrompter) PromptApproval(ctx context.Context, pc approval.Context, req approval.Request) (string, error) {
	if s.failWith != nil {
		return "", s.failWith
	}
	s.prompted = append(s.prompted, req)
	return "prompt-" + req.ID, nil
}

func (s *stubPrompter) ResolvePrompt(ctx context.Context, pc approval.Context, promptID string, decision approval.Decision, decidedBy string) error {
	s.resolved = append(s.resolved, promptID)
	return nil
}

func TestPromptRouter_RoutesToRegisteredChannel(t *testing.T) {
	router := newPromptRouter()
	channel := &stubPrompter{}
	fallback := &stubPrompter{}
	router.SetFallback(fallback)
	router.RegisterChannel("api:alice", channel)

	pc := approval.Context{ChannelID: "api:alice", UserID: "alice"}
	promptID, err := router.PromptApproval(context.Background(), pc, approval.Request{ID: "req-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if promptID != "prompt-req-1" {
		t.Errorf("expected prompt id 'prompt-req-1', got %q", promptID)
	}
	if len(channel.prompted) != 1 {
		t.Errorf("expected channel prompter to receive the prompt, got %d", len(channel.prompted))
	}
	if len(fallback.prompted) != 0 {
		t.Errorf("fallback should not have been prompted, got %d", len(fallback.prompted))
	}
}

func TestPromptRouter_FallsBackWhenUnregistered(t *testing.T) {
	router := newPromptRouter()
	fallback := &stubPrompter{}
	router.SetFallback(fallback)

	pc := approval.Context{ChannelID: "!room:example.org"}
	if _, err := router.PromptApproval(context.Background(), pc, approval.Request{ID: "req-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fallback.prompted) != 1 {
		t.Errorf("expected fallback to receive the prompt, got %d", len(fallback.prompted))
	}
}

func TestPromptRouter_NoPrompterAnywhere(t *testing.T) {
	router := newPromptRouter()

	_, err := router.PromptApproval(context.Background(), approval.Context{ChannelID: "nowhere"}, approval.Request{ID: "req-3"})
	if !errors.Is(err, ErrNoPrompter) {
		t.Errorf("expected ErrNoPrompter, got %v", err)
	}

	err = router.ResolvePrompt(context.Background(), approval.Context{ChannelID: "nowhere"}, "p", approval.DecisionDeniedTimeout, "")
	if !errors.Is(err, ErrNoPrompter) {
		t.Errorf("expected ErrNoPrompter on resolve, got %v", err)
	}
}

func TestPromptRouter_PromptErrorPropagates(t *testing.T) {
	router := newPromptRouter()
	boom := errors.New("surface gone")
	router.RegisterChannel("api:bob", &stubPrompter{failWith: boom})

	_, err := router.PromptApproval(context.Background(), approval.Context{ChannelID: "api:bob"}, approval.Request{ID: "req-4"})
	if !errors.Is(err, boom) {
		t.Errorf("expected prompter error to propagate, got %v", err)
	}
}

// A prompt must resolve on the surface that rendered it, even if the channel
// registration changed in between. SSE streams unregister at turn end while
// the gate may resolve the prompt afterward.
func TestPromptRouter_ResolveFollowsPromptingSurface(t *testing.T) {
	router := newPromptRouter()
	stream := &stubPrompter{}
	fallback := &stubPrompter{}
	router.SetFallback(fallback)
	router.RegisterChannel("api:alice", stream)

	pc := approval.Context{ChannelID: "api:alice"}
	promptID, err := router.PromptApproval(context.Background(), pc, approval.Request{ID: "req-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router.UnregisterChannel("api:alice")

	if err := router.ResolvePrompt(context.Background(), pc, promptID, approval.DecisionApproved, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stream.resolved) != 1 || stream.resolved[0] != promptID {
		t.Errorf("expected resolution on the prompting surface, got %v", stream.resolved)
	}
	if len(fallback.resolved) != 0 {
		t.Errorf("fallback should not have resolved, got %v", fallback.resolved)
	}
}

func TestPromptRouter_ResolveUnknownPromptUsesChannelRoute(t *testing.T) {
	router := newPromptRouter()
	fallback := &stubPrompter{}
	router.SetFallback(fallback)

	pc := approval.Context{ChannelID: "!room:example.org"}
	if err := router.ResolvePrompt(context.Background(), pc, "unseen-prompt", approval.DecisionDeniedTimeout, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fallback.resolved) != 1 {
		t.Errorf("expected channel-routed resolution, got %v", fallback.resolved)
	}
}

// Resolving a prompt consumes its routing entry; a second resolution for the
// same id falls back to the channel route.
func TestPromptRouter_ResolveConsumesEntry(t *testing.T) {
	router := newPromptRouter()
	stream := &stubPrompter{}
	router.RegisterChannel("api:alice", stream)

	pc := approval.Context{ChannelID: "api:alice"}
	promptID, err := router.PromptApproval(context.Background(), pc, approval.Request{ID: "req-6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := router.ResolvePrompt(context.Background(), pc, promptID, approval.DecisionApproved, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router.UnregisterChannel("api:alice")
	err = router.ResolvePrompt(context.Background(), pc, promptID, approval.DecisionApproved, "alice")
	if !errors.Is(err, ErrNoPrompter) {
		t.Errorf("expected ErrNoPrompter after entry consumed, got %v", err)
	}
}
