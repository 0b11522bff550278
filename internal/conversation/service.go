// ABOUTME: Conversation history service; history is the source of truth.
// ABOUTME: Records both sides of every turn into the bounded per-channel ring.

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/store"
)

// saveTimeout bounds history writes. Writes run on a detached context so a
// cancelled turn cannot abort recording what already happened.
const saveTimeout = 5 * time.Second

// HistoryStore is the slice of the persistence layer the service needs.
type HistoryStore interface {
	AppendMessage(ctx context.Context, channelID string, msg *store.Message) error
	GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*store.Message, error)
	GetLastInteraction(ctx context.Context, channelID string) (time.Time, error)
}

// Service records and serves per-channel conversation history.
type Service struct {
	store  HistoryStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService wraps a store with history recording.
func NewService(st HistoryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// RecordUserMessage appends an inbound user message. Write failures are
// logged and swallowed: losing a history row must not fail the turn.
func (s *Service) RecordUserMessage(ctx context.Context, channelID, externalID, author, content string) {
	s.record(channelID, &store.Message{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Author:     author,
		Content:    content,
		CreatedAt:  s.now(),
	})
}

// RecordBotMessage appends the familiar's own reply. Empty replies are not
// recorded.
func (s *Service) RecordBotMessage(ctx context.Context, channelID, author, content string) {
	if content == "" {
		return
	}
	s.record(channelID, &store.Message{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   content,
		IsBot:     true,
		CreatedAt: s.now(),
	})
}

func (s *Service) record(channelID string, msg *store.Message) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.AppendMessage(saveCtx, channelID, msg); err != nil {
		s.logger.Error("recording message failed",
			"channel_id", channelID, "author", msg.Author, "is_bot", msg.IsBot, "error", err)
		return
	}
	s.logger.Debug("message recorded",
		"channel_id", channelID, "author", msg.Author, "is_bot", msg.IsBot)
}

// Recent returns up to limit messages for a channel, oldest first.
func (s *Service) Recent(ctx context.Context, channelID string, limit int) ([]*store.Message, error) {
	return s.store.GetRecentMessages(ctx, channelID, limit)
}

// LastInteraction returns a channel's last activity time, or
// store.ErrNotFound for a channel with no history.
func (s *Service) LastInteraction(ctx context.Context, channelID string) (time.Time, error) {
	return s.store.GetLastInteraction(ctx, channelID)
}
