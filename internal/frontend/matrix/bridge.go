// ABOUTME: Matrix bridge connecting rooms to the chat orchestrator.
// ABOUTME: Owns the sync loop, message filtering, and reply rendering.

package matrix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/familiar/internal/approval"
	"github.com/2389/familiar/internal/chat"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/dedupe"
)

const (
	// typingTimeout is how long one typing notification stays visible.
	typingTimeout = 30 * time.Second

	// typingRefresh re-announces typing while a turn is still streaming.
	// Kept under typingTimeout so the indicator never lapses mid-turn.
	typingRefresh = 10 * time.Second

	// networkTimeout bounds ordinary Matrix API calls.
	networkTimeout = 10 * time.Second

	// sendTimeout bounds message sends, which can carry large bodies.
	sendTimeout = 30 * time.Second

	// syncRetryDelay spaces reconnect attempts after a dropped sync.
	syncRetryDelay = 15 * time.Second

	// maxMessageLen caps one outbound message body in runes; longer
	// replies are split into numbered chunks.
	maxMessageLen = 4000
)

// Config assembles a bridge from daemon components.
type Config struct {
	Matrix       config.MatrixConfig
	StateDir     string
	Orchestrator *chat.Orchestrator
	Gate         *approval.Gate
	Dedupe       *dedupe.Cache
	Logger       *slog.Logger
}

// Bridge connects Matrix rooms to the orchestrator. It also serves as the
// fallback approval prompter: permission prompts render as room messages
// answered with reactions.
type Bridge struct {
	cfg      config.MatrixConfig
	stateDir string
	client   *mautrix.Client
	orch     *chat.Orchestrator
	gate     *approval.Gate
	dedupe   *dedupe.Cache
	logger   *slog.Logger

	// mu guards crypto, cancel, and pending; the rest is set before Run
	mu      sync.Mutex
	crypto  *cryptoManager
	cancel  context.CancelFunc
	pending map[id.EventID]pendingPrompt

	// ctx is the parent for turn goroutines, assigned in Run before the
	// sync loop starts dispatching
	ctx context.Context

	// startTime in origin-server millis; events from before it are ignored
	startTime int64
}

// NewBridge creates a bridge for the configured account. No network calls
// happen until Run.
func NewBridge(cfg Config) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:      cfg.Matrix,
		stateDir: cfg.StateDir,
		client:   client,
		orch:     cfg.Orchestrator,
		gate:     cfg.Gate,
		dedupe:   cfg.Dedupe,
		logger:   logger.With("component", "matrix"),
		pending:  make(map[id.EventID]pendingPrompt),
	}, nil
}

// Run validates the access token, initializes encryption, and syncs until
// ctx ends. Transient sync failures reconnect after a delay; only startup
// problems are returned.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.ctx = runCtx
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver, "user_id", b.cfg.UserID)

	whoami, err := b.client.Whoami(runCtx)
	if err != nil {
		return fmt.Errorf("verifying matrix access token: %w", err)
	}
	if whoami.UserID != b.client.UserID {
		return fmt.Errorf("access token belongs to %s, configured user is %s", whoami.UserID, b.client.UserID)
	}
	if b.client.DeviceID == "" {
		b.client.DeviceID = whoami.DeviceID
	}

	crypto, err := setupCrypto(runCtx, b.client, b.cfg.RecoveryKey, b.stateDir, b.logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	b.mu.Lock()
	b.crypto = crypto
	b.mu.Unlock()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessage)
	syncer.OnEventType(event.EventReaction, b.handleReaction)
	syncer.OnEventType(event.StateMember, b.handleMembership)

	b.startTime = time.Now().UnixMilli()
	b.logger.Info("matrix bridge running", "device_id", b.client.DeviceID.String())

	for {
		err := b.client.SyncWithContext(runCtx)
		if runCtx.Err() != nil {
			b.logger.Info("matrix bridge stopped")
			return nil
		}
		if err != nil {
			b.logger.Warn("matrix sync dropped, reconnecting",
				"error", err, "retry_in", syncRetryDelay)
		}
		select {
		case <-runCtx.Done():
			b.logger.Info("matrix bridge stopped")
			return nil
		case <-time.After(syncRetryDelay):
		}
	}
}

// Close stops the sync loop and releases encryption state.
func (b *Bridge) Close() error {
	b.mu.Lock()
	cancel, crypto := b.cancel, b.crypto
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.client.StopSync()
	return crypto.Close()
}

// handleMessage filters an inbound room message and, when it qualifies,
// starts a turn goroutine so the sync loop keeps draining.
func (b *Bridge) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}
	if evt.Timestamp < b.startTime {
		return
	}

	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText {
		return
	}
	// Edits restate a message that already ran; m.replace carries the
	// original event id
	if content.RelatesTo.GetReplaceID() != "" {
		return
	}

	if !b.userAllowed(evt.Sender) {
		b.logger.Debug("ignoring message from non-allowed user",
			"room", evt.RoomID.String(), "sender", evt.Sender.String())
		return
	}
	if !b.roomAllowed(evt.RoomID) {
		b.logger.Debug("ignoring message in non-allowed room", "room", evt.RoomID.String())
		return
	}

	// Homeservers redeliver events across reconnects; the cache keeps a
	// redelivered message from running twice
	if b.dedupe.CheckAndMark("matrix:" + evt.ID.String()) {
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"content", truncate(body, 50))

	go b.runTurn(evt.RoomID, evt.Sender, body, evt.ID)
}

// runTurn drives one orchestrator turn and sends the reply or a friendly
// error back to the room.
func (b *Bridge) runTurn(roomID id.RoomID, sender id.UserID, text string, msgID id.EventID) {
	var sink chat.StatusSink
	if b.cfg.Typing {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
		sink = newTypingSink(b, roomID)
	}

	turn := chat.Turn{
		ChannelID: roomID.String(),
		User:      sender.String(),
		Text:      text,
		MessageID: msgID.String(),
	}

	reply, err := b.orch.Converse(b.ctx, turn, sink)
	if err != nil {
		b.logger.Error("turn failed", "room", roomID.String(), "error", err)
		b.sendMarkdown(roomID, chat.Categorize(err).Message())
		return
	}
	if reply == "" {
		b.logger.Warn("turn produced no reply", "room", roomID.String())
		return
	}

	b.sendMarkdown(roomID, reply)
}

// handleMembership joins rooms the familiar is invited to by allowed users.
func (b *Bridge) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.client.UserID.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if !b.userAllowed(evt.Sender) {
		b.logger.Info("ignoring invite from non-allowed user",
			"room", evt.RoomID.String(), "sender", evt.Sender.String())
		return
	}
	if !b.roomAllowed(evt.RoomID) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room on invite",
		"room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// userAllowed reports whether the sender may talk to the familiar. An empty
// allowlist admits everyone.
func (b *Bridge) userAllowed(userID id.UserID) bool {
	if len(b.cfg.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedUsers, userID.String())
}

// roomAllowed reports whether the bridge listens in the room. An empty
// allowlist admits every room.
func (b *Bridge) roomAllowed(roomID id.RoomID) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID.String())
}

// setTyping announces or clears the typing indicator. Failures only degrade
// presentation, so they log at debug.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator",
			"room", roomID.String(), "error", err)
	}
}

// sendMarkdown renders Markdown to HTML and sends it to the room, splitting
// long replies into numbered chunks. Sends use a background context so a
// finished turn still gets its reply out during shutdown.
func (b *Bridge) sendMarkdown(roomID id.RoomID, text string) {
	chunks := splitMessage(text, maxMessageLen)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunk)
		}

		content := event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    chunk,
		}
		if html, err := renderHTML(chunk); err == nil && html != "" {
			content.Format = event.FormatHTML
			content.FormattedBody = html
		} else if err != nil {
			b.logger.Debug("markdown render failed, sending plain text", "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		_, err := b.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
		cancel()
		if err != nil {
			b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
			return
		}
	}
}

// typingSink keeps the typing indicator alive while a long turn streams.
// Sink calls must not block, so refreshes run off the stream goroutine.
type typingSink struct {
	bridge *Bridge
	roomID id.RoomID

	mu   sync.Mutex
	last time.Time
}

func newTypingSink(b *Bridge, roomID id.RoomID) *typingSink {
	return &typingSink{bridge: b, roomID: roomID, last: time.Now()}
}

func (s *typingSink) refresh() {
	s.mu.Lock()
	if time.Since(s.last) < typingRefresh {
		s.mu.Unlock()
		return
	}
	s.last = time.Now()
	s.mu.Unlock()
	go s.bridge.setTyping(s.roomID, true)
}

func (s *typingSink) Thinking(string)    { s.refresh() }
func (s *typingSink) TextDelta(string)   { s.refresh() }
func (s *typingSink) ToolStarted(string) { s.refresh() }
func (s *typingSink) ToolEnded(string)   { s.refresh() }

// renderHTML converts Markdown to the HTML Matrix clients display. The
// trailing newline goldmark emits is trimmed.
func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// splitMessage breaks text into chunks of at most maxLen runes.
func splitMessage(s string, maxLen int) []string {
	runes := []rune(s)
	var chunks []string
	for len(runes) > maxLen {
		chunks = append(chunks, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// truncate shortens a string to maxLen runes for log lines.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
