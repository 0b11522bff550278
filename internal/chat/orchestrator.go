// ABOUTME: Chat orchestrator driving one conversational turn end to end.
// ABOUTME: Serializes per-channel turns and routes runtime events.

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/familiar/internal/approval"
	"github.com/2389/familiar/internal/conversation"
	"github.com/2389/familiar/internal/memory"
	"github.com/2389/familiar/internal/runtime"
	"github.com/2389/familiar/internal/session"
	"github.com/2389/familiar/internal/tools"
)

// DefaultTurnTimeout bounds one turn. Tool chains can be slow, so this is
// generous.
const DefaultTurnTimeout = 5 * time.Minute

// cleanupTimeout bounds post-failure work that must not inherit the turn's
// context, which may already be dead.
const cleanupTimeout = 5 * time.Second

// ongoingInstruction is appended to the turn context mid-conversation so the
// model answers directly instead of greeting again.
const ongoingInstruction = "This conversation is ongoing. Answer directly and do not greet the user again."

// maxDetailLen caps the detail line shown on approval prompts.
const maxDetailLen = 200

// Turn is one inbound user message.
type Turn struct {
	ChannelID string
	User      string
	Text      string
	MessageID string // platform message id, may be empty
}

// StatusSink receives turn progress for rendering on a chat surface.
// Implementations must not block; calls arrive on the turn's stream goroutine.
type StatusSink interface {
	Thinking(text string)
	TextDelta(text string)
	ToolStarted(displayName string)
	ToolEnded(displayName string)
}

// Runtime is the slice of the runtime client the orchestrator drives.
type Runtime interface {
	Turn(ctx context.Context, sessionID string, turn runtime.TurnRequest, onEvent func(runtime.Event)) (string, error)
	AnswerPermission(ctx context.Context, sessionID, requestID string, allow bool) error
}

// Sessions resolves and invalidates per-channel runtime sessions.
type Sessions interface {
	Resolve(ctx context.Context, channelID, systemPrompt string) (*session.Handle, error)
	Invalidate(ctx context.Context, channelID string)
}

// Config carries the orchestrator's collaborators and tuning.
type Config struct {
	Runtime      Runtime
	Sessions     Sessions
	Gate         *approval.Gate
	Assembler    *conversation.Assembler
	History      *conversation.Service
	Memories     *memory.Service
	Registry     *tools.Registry
	SystemPrompt string
	BotName      string        // author recorded for the familiar's own messages
	AllowedTools []string      // sent with every turn so resumed sessions pick up config changes
	TurnTimeout  time.Duration // zero means DefaultTurnTimeout
	Logger       *slog.Logger
}

// Orchestrator runs conversational turns. Turns on one channel are
// serialized; turns across channels run concurrently.
type Orchestrator struct {
	runtime     Runtime
	sessions    Sessions
	gate        *approval.Gate
	assembler   *conversation.Assembler
	history     *conversation.Service
	memories    *memory.Service
	registry    *tools.Registry
	system      string
	botName     string
	allowed     []string
	turnTimeout time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator creates an orchestrator from cfg.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.BotName == "" {
		cfg.BotName = "familiar"
	}
	return &Orchestrator{
		runtime:     cfg.Runtime,
		sessions:    cfg.Sessions,
		gate:        cfg.Gate,
		assembler:   cfg.Assembler,
		history:     cfg.History,
		memories:    cfg.Memories,
		registry:    cfg.Registry,
		system:      cfg.SystemPrompt,
		botName:     cfg.BotName,
		allowed:     cfg.AllowedTools,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger.With("component", "chat"),
	}
}

// Converse runs one turn: assemble context, resolve the channel's session,
// issue the turn, and record both sides once the stream completes. Returns
// the final text, which is empty when the model produced no content; an
// empty answer is not an error. Any resolution or turn failure invalidates
// the session so the next turn starts clean.
func (o *Orchestrator) Converse(ctx context.Context, turn Turn, sink StatusSink) (string, error) {
	if sink == nil {
		sink = noopSink{}
	}
	lock := o.channelLock(turn.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	tc := o.assembler.BuildTurnContext(ctx, turn.User, turn.ChannelID)

	o.gate.SetContext(turn.ChannelID, approval.Context{
		ChannelID: turn.ChannelID,
		UserID:    turn.User,
	})
	defer o.gate.ClearContext(turn.ChannelID)

	handle, err := o.sessions.Resolve(ctx, turn.ChannelID, o.system)
	if err != nil {
		o.invalidate(turn.ChannelID)
		return "", fmt.Errorf("resolving session: %w", err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	dispatcher := o.registry.NewDispatcher(sink, o.logger)
	defer dispatcher.Drain()

	o.logger.Debug("issuing turn",
		"channel_id", turn.ChannelID,
		"session_id", handle.RuntimeID,
		"user", turn.User,
	)

	text, err := o.runtime.Turn(turnCtx, handle.RuntimeID, runtime.TurnRequest{
		Prompt:       turn.Text,
		Context:      o.contextText(tc),
		AllowedTools: o.allowed,
	}, func(ev runtime.Event) {
		o.routeEvent(turnCtx, handle, turn, dispatcher, sink, ev)
	})
	if err != nil {
		o.invalidate(turn.ChannelID)
		return "", fmt.Errorf("turn failed: %w", err)
	}

	o.history.RecordUserMessage(ctx, turn.ChannelID, turn.MessageID, turn.User, turn.Text)
	o.history.RecordBotMessage(ctx, turn.ChannelID, o.botName, text)
	return text, nil
}

// channelLock returns the mutex serializing turns for one channel.
func (o *Orchestrator) channelLock(channelID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := o.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[channelID] = lock
	}
	return lock
}

func (o *Orchestrator) contextText(tc conversation.TurnContext) string {
	if !tc.Ongoing {
		return tc.Preamble
	}
	return tc.Preamble + "\n" + ongoingInstruction + "\n"
}

// invalidate destroys the channel's session so the next turn starts clean.
// It runs on a detached context because the turn's context may itself be the
// failure.
func (o *Orchestrator) invalidate(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	o.sessions.Invalidate(ctx, channelID)
}

// routeEvent dispatches one stream event. Unknown and malformed events are
// logged and skipped; a broken event must not break the turn.
func (o *Orchestrator) routeEvent(ctx context.Context, handle *session.Handle, turn Turn, dispatcher *tools.Dispatcher, sink StatusSink, ev runtime.Event) {
	switch ev.Type {
	case runtime.EventThinking:
		var payload runtime.TextEvent
		if o.decode(ev, &payload) {
			sink.Thinking(payload.Text)
		}
	case runtime.EventText:
		var payload runtime.TextEvent
		if o.decode(ev, &payload) {
			sink.TextDelta(payload.Text)
		}
	case runtime.EventToolStart:
		var payload runtime.ToolStartEvent
		if !o.decode(ev, &payload) {
			return
		}
		if memory.IsMemoryTool(payload.Name) {
			o.memories.HandleToolCall(ctx, payload.Name, payload.Input, turn.User)
		}
		dispatcher.OnExecutionStart(payload.ToolCallID, payload.Name)
	case runtime.EventToolComplete:
		var payload runtime.ToolCompleteEvent
		if o.decode(ev, &payload) {
			dispatcher.OnExecutionComplete(payload.ToolCallID)
		}
	case runtime.EventPermissionRequest:
		var payload runtime.PermissionRequestEvent
		if !o.decode(ev, &payload) {
			return
		}
		// Decided off the stream goroutine so the wait cannot stall
		// event parsing.
		go o.decidePermission(ctx, handle, turn.ChannelID, payload)
	}
}

func (o *Orchestrator) decode(ev runtime.Event, into any) bool {
	if err := json.Unmarshal([]byte(ev.Data), into); err != nil {
		o.logger.Warn("malformed stream event",
			"type", string(ev.Type),
			"error", err,
		)
		return false
	}
	return true
}

// decidePermission runs the gate for one permission request and posts the
// verdict back to the runtime. The runtime holds the tool execution until
// the verdict arrives, so the answer is posted on a detached context; by the
// time a decision exists the turn's context may already be cancelled.
func (o *Orchestrator) decidePermission(ctx context.Context, handle *session.Handle, channelID string, payload runtime.PermissionRequestEvent) {
	decision := o.gate.Request(ctx, channelID, approval.Request{
		ID:          payload.RequestID,
		ToolName:    payload.ToolName,
		Kind:        approval.KindForTool(payload.ToolName),
		Description: describeToolUse(o.registry.DisplayName(payload.ToolName), payload.Input),
	})

	answerCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := o.runtime.AnswerPermission(answerCtx, handle.RuntimeID, payload.RequestID, decision.Allowed()); err != nil {
		o.logger.Warn("posting permission verdict failed",
			"request_id", payload.RequestID,
			"decision", decision.String(),
			"error", err,
		)
	}
}

// describeToolUse builds the detail line shown on an approval prompt: the
// tool's display name plus the most telling input field.
func describeToolUse(displayName string, input json.RawMessage) string {
	detail := inputDetail(input)
	if detail == "" {
		return displayName
	}
	return displayName + ": " + detail
}

// inputDetail extracts a short human-readable detail from tool input. Known
// single-field shapes render bare; anything else renders as compact JSON.
func inputDetail(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"command", "file_path", "url", "query", "pattern"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return truncateDetail(v)
		}
	}
	compact, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return truncateDetail(string(compact))
}

func truncateDetail(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDetailLen {
		return s
	}
	return string(runes[:maxDetailLen]) + "..."
}

type noopSink struct{}

func (noopSink) Thinking(string)    {}
func (noopSink) TextDelta(string)   {}
func (noopSink) ToolStarted(string) {}
func (noopSink) ToolEnded(string)   {}
