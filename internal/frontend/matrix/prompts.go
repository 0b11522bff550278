// ABOUTME: Reaction-based permission prompts rendered as Matrix messages.
// ABOUTME: Maps prompt event ids to pending requests and answers the gate.

package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/familiar/internal/approval"
)

// Reaction keys users answer prompts with.
const (
	reactionApprove = "✅"
	reactionDeny    = "❌"
)

// maxPromptDetail caps how much of a tool invocation renders in the prompt.
const maxPromptDetail = 400

// pendingPrompt ties a prompt message back to its permission request.
type pendingPrompt struct {
	requestID string
	roomID    id.RoomID
}

// PromptApproval renders a permission request as a room message and seeds
// the approve and deny reactions so answering is one tap. The returned
// prompt id is the Matrix event id of the prompt message.
func (b *Bridge) PromptApproval(ctx context.Context, pc approval.Context, req approval.Request) (string, error) {
	roomID := id.RoomID(pc.ChannelID)
	body := fmt.Sprintf(
		"**Permission needed**\n\nThe familiar wants to %s:\n\n```\n%s\n```\n\nReact %s to approve or %s to deny.",
		req.Kind.Describe(), truncate(req.Description, maxPromptDetail),
		reactionApprove, reactionDeny)

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
	if html, err := renderHTML(body); err == nil && html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := b.client.SendMessageEvent(sendCtx, roomID, event.EventMessage, &content)
	if err != nil {
		return "", fmt.Errorf("sending approval prompt: %w", err)
	}

	b.mu.Lock()
	b.pending[resp.EventID] = pendingPrompt{requestID: req.ID, roomID: roomID}
	b.mu.Unlock()

	b.react(roomID, resp.EventID, reactionApprove)
	b.react(roomID, resp.EventID, reactionDeny)

	b.logger.Info("approval prompt sent",
		"room", roomID.String(), "request_id", req.ID, "tool", req.ToolName)
	return resp.EventID.String(), nil
}

// ResolvePrompt edits the prompt message in place to show the verdict and
// forgets the pending entry.
func (b *Bridge) ResolvePrompt(ctx context.Context, pc approval.Context, promptID string, decision approval.Decision, decidedBy string) error {
	eventID := id.EventID(promptID)

	b.mu.Lock()
	p, ok := b.pending[eventID]
	delete(b.pending, eventID)
	b.mu.Unlock()

	roomID := p.roomID
	if !ok {
		roomID = id.RoomID(pc.ChannelID)
	}

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    verdictText(decision, decidedBy),
	}
	content.SetEdit(eventID)

	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.SendMessageEvent(sendCtx, roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("editing approval prompt: %w", err)
	}
	return nil
}

// handleReaction answers the gate when a reaction lands on a pending prompt.
// The gate enforces that only the requesting user's answer counts.
func (b *Bridge) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}

	rel := evt.Content.AsReaction().RelatesTo
	if rel.Type != event.RelAnnotation || rel.EventID == "" {
		return
	}

	b.mu.Lock()
	p, ok := b.pending[rel.EventID]
	b.mu.Unlock()
	if !ok {
		return
	}

	approve, recognized := reactionVerdict(rel.Key)
	if !recognized {
		return
	}

	err := b.gate.Answer(p.requestID, evt.Sender.String(), approve)
	switch {
	case err == nil:
		b.logger.Info("permission answered by reaction",
			"room", evt.RoomID.String(), "request_id", p.requestID,
			"sender", evt.Sender.String(), "approve", approve)
	case errors.Is(err, approval.ErrWrongResponder):
		b.logger.Debug("ignoring reaction from non-requesting user",
			"room", evt.RoomID.String(), "sender", evt.Sender.String())
	default:
		// Late or duplicate reactions land here; nothing to do
		b.logger.Debug("reaction did not resolve a request",
			"request_id", p.requestID, "error", err)
	}
}

// react adds a reaction to a message, best effort.
func (b *Bridge) react(roomID id.RoomID, eventID id.EventID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.SendReaction(ctx, roomID, eventID, key); err != nil {
		b.logger.Debug("failed to seed prompt reaction",
			"event_id", eventID.String(), "error", err)
	}
}

// reactionVerdict maps a reaction key onto an approval verdict. Clients often
// append the emoji variation selector U+FE0F, so it is stripped first.
func reactionVerdict(key string) (approve, recognized bool) {
	switch strings.TrimSuffix(strings.TrimSpace(key), "\ufe0f") {
	case reactionApprove:
		return true, true
	case reactionDeny:
		return false, true
	default:
		return false, false
	}
}

// verdictText is the body the prompt message is edited into once decided.
func verdictText(decision approval.Decision, decidedBy string) string {
	switch decision {
	case approval.DecisionApproved:
		if decidedBy != "" {
			return fmt.Sprintf("%s Approved by %s", reactionApprove, decidedBy)
		}
		return reactionApprove + " Approved"
	case approval.DecisionDeniedByUser:
		if decidedBy != "" {
			return fmt.Sprintf("%s Denied by %s", reactionDeny, decidedBy)
		}
		return reactionDeny + " Denied"
	case approval.DecisionDeniedTimeout:
		return reactionDeny + " Denied, no response in time"
	default:
		return reactionDeny + " Denied"
	}
}
