// ABOUTME: Routes approval prompts to the surface that owns the channel.
// ABOUTME: API turns register per-channel prompters; Matrix is the fallback.

package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/familiar/internal/approval"
)

// ErrNoPrompter means no surface can render a prompt for the channel.
var ErrNoPrompter = errors.New("no prompter for channel")

// promptRouter implements approval.Prompter by delegating to the surface
// that owns the channel. An API turn registers its SSE stream for the
// turn's duration; Matrix rooms fall through to the fallback prompter.
// Resolutions follow the prompter that sent the prompt, so a prompt never
// resolves on a different surface than it rendered on.
type promptRouter struct {
	mu       sync.Mutex
	channels map[string]approval.Prompter
	byPrompt map[string]approval.Prompter
	fallback approval.Prompter
}

func newPromptRouter() *promptRouter {
	return &promptRouter{
		channels: make(map[string]approval.Prompter),
		byPrompt: make(map[string]approval.Prompter),
	}
}

// SetFallback installs the prompter used for channels with no registration.
func (p *promptRouter) SetFallback(pr approval.Prompter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = pr
}

// RegisterChannel binds a channel's prompts to pr until unregistered.
func (p *promptRouter) RegisterChannel(channelID string, pr approval.Prompter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channelID] = pr
}

func (p *promptRouter) UnregisterChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
}

func (p *promptRouter) prompterFor(channelID string) approval.Prompter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.channels[channelID]; ok {
		return pr
	}
	return p.fallback
}

func (p *promptRouter) PromptApproval(ctx context.Context, pc approval.Context, req approval.Request) (string, error) {
	pr := p.prompterFor(pc.ChannelID)
	if pr == nil {
		return "", ErrNoPrompter
	}
	promptID, err := pr.PromptApproval(ctx, pc, req)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.byPrompt[promptID] = pr
	p.mu.Unlock()
	return promptID, nil
}

func (p *promptRouter) ResolvePrompt(ctx context.Context, pc approval.Context, promptID string, decision approval.Decision, decidedBy string) error {
	p.mu.Lock()
	pr, ok := p.byPrompt[promptID]
	if ok {
		delete(p.byPrompt, promptID)
	}
	p.mu.Unlock()
	if !ok {
		pr = p.prompterFor(pc.ChannelID)
	}
	if pr == nil {
		return ErrNoPrompter
	}
	return pr.ResolvePrompt(ctx, pc, promptID, decision, decidedBy)
}
