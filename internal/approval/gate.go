// ABOUTME: Permission gate racing user decisions against a deny timeout
// ABOUTME: Fails closed when no channel context is registered

package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a prompt waits before denying.
const DefaultTimeout = 60 * time.Second

// promptEditTimeout bounds prompt edits made after the caller's context died.
const promptEditTimeout = 5 * time.Second

// Answer errors.
var (
	ErrUnknownRequest = errors.New("unknown permission request")
	ErrWrongResponder = errors.New("responder does not match requesting user")
	ErrAlreadyDecided = errors.New("request already decided")
)

// Request describes one gated capability use.
type Request struct {
	ID          string // runtime request id; assigned if empty
	ToolName    string
	Kind        Kind
	Description string // human-readable detail, e.g. the command line
}

// Context identifies where a prompt renders and who may answer it.
type Context struct {
	ChannelID string
	UserID    string // only this user's response counts
}

// Prompter renders approval prompts on a chat surface. PromptApproval returns
// a prompt id used to edit the prompt after the decision. Both methods may
// fail; the gate logs and carries on.
type Prompter interface {
	PromptApproval(ctx context.Context, pc Context, req Request) (promptID string, err error)
	ResolvePrompt(ctx context.Context, pc Context, promptID string, decision Decision, decidedBy string) error
}

type pendingRequest struct {
	req       Request
	pc        Context
	decision  Decision
	decidedBy string
	decided   bool
	done      chan struct{}
}

// Gate owns the permission flow: the orchestrator registers a channel context
// around each turn, the runtime raises requests, frontends answer them.
type Gate struct {
	mu       sync.Mutex
	contexts map[string]Context         // channelID → active context
	pending  map[string]*pendingRequest // requestID → in-flight request

	prompter Prompter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a gate that prompts through the given prompter. A zero
// timeout means DefaultTimeout.
func NewGate(prompter Prompter, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		contexts: make(map[string]Context),
		pending:  make(map[string]*pendingRequest),
		prompter: prompter,
		timeout:  timeout,
		logger:   logger.With("component", "approval"),
	}
}

// SetContext registers the channel's permission context for the upcoming
// turn. A channel holds at most one context; setting replaces.
func (g *Gate) SetContext(channelID string, pc Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contexts[channelID] = pc
}

// ClearContext removes the channel's permission context. Requests arriving
// afterward are denied without prompting.
func (g *Gate) ClearContext(channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.contexts, channelID)
}

// Request prompts for a decision and blocks until the user answers, the
// timeout fires, or ctx ends. It always returns a terminal decision; there
// is no error path out of the gate.
func (g *Gate) Request(ctx context.Context, channelID string, req Request) Decision {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	g.mu.Lock()
	pc, ok := g.contexts[channelID]
	g.mu.Unlock()
	if !ok {
		g.logger.Warn("permission request without channel context",
			"channel_id", channelID, "tool", req.ToolName)
		return DecisionDeniedNoContext
	}

	promptID, err := g.prompter.PromptApproval(ctx, pc, req)
	if err != nil {
		// The user never saw a prompt, so there is nothing to wait for
		g.logger.Warn("approval prompt failed to send",
			"channel_id", channelID, "tool", req.ToolName, "error", err)
		return DecisionDeniedTimeout
	}

	p := &pendingRequest{req: req, pc: pc, done: make(chan struct{})}
	g.mu.Lock()
	g.pending[req.ID] = p
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	g.logger.Info("permission requested",
		"channel_id", channelID, "request_id", req.ID,
		"tool", req.ToolName, "kind", req.Kind.String())

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		g.mu.Lock()
		decision, decidedBy := p.decision, p.decidedBy
		g.mu.Unlock()
		g.resolvePrompt(ctx, pc, promptID, decision, decidedBy)
		g.logger.Info("permission decided",
			"channel_id", channelID, "request_id", req.ID,
			"decision", decision.String(), "decided_by", decidedBy)
		return decision

	case <-timer.C:
		g.resolvePrompt(ctx, pc, promptID, DecisionDeniedTimeout, "")
		g.logger.Info("permission timed out",
			"channel_id", channelID, "request_id", req.ID, "tool", req.ToolName)
		return DecisionDeniedTimeout

	case <-ctx.Done():
		// The turn is gone; deny and tidy the prompt on a fresh context
		editCtx, cancel := context.WithTimeout(context.Background(), promptEditTimeout)
		defer cancel()
		g.resolvePrompt(editCtx, pc, promptID, DecisionDeniedTimeout, "")
		return DecisionDeniedTimeout
	}
}

// resolvePrompt edits the prompt into its decided state, swallowing failures.
func (g *Gate) resolvePrompt(ctx context.Context, pc Context, promptID string, decision Decision, decidedBy string) {
	if err := g.prompter.ResolvePrompt(ctx, pc, promptID, decision, decidedBy); err != nil {
		g.logger.Warn("editing approval prompt failed",
			"channel_id", pc.ChannelID, "prompt_id", promptID, "error", err)
	}
}

// Answer resolves a pending request. The responder must be the user the
// request was raised for; late or duplicate answers return an error the
// frontend can ignore.
func (g *Gate) Answer(requestID, responder string, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if p.pc.UserID != "" && responder != p.pc.UserID {
		return ErrWrongResponder
	}
	if p.decided {
		return ErrAlreadyDecided
	}

	p.decided = true
	p.decidedBy = responder
	if approve {
		p.decision = DecisionApproved
	} else {
		p.decision = DecisionDeniedByUser
	}
	close(p.done)
	return nil
}

// PendingFor reports whether a request id is currently awaiting an answer.
func (g *Gate) PendingFor(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[requestID]
	return ok
}
