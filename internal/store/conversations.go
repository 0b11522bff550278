// ABOUTME: Conversation history persistence for SQLiteStore
// ABOUTME: Bounded per-channel message ring with last-interaction tracking

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendMessage appends a message to a channel's history and touches the
// conversation's last-interaction time. The history is a bounded ring: once
// a channel holds MaxMessagesPerChannel messages, the oldest are dropped.
func (s *SQLiteStore) AppendMessage(ctx context.Context, channelID string, msg *Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (channel_id, last_interaction)
		VALUES (?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			last_interaction = excluded.last_interaction
	`, channelID, createdAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (channel_id, message_id, external_id, author, content, is_bot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		channelID,
		msg.ID,
		nullString(msg.ExternalID),
		msg.Author,
		msg.Content,
		boolToInt(msg.IsBot),
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	// Drop everything older than the most recent MaxMessagesPerChannel
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE channel_id = ?
		  AND seq NOT IN (
			SELECT seq FROM messages
			WHERE channel_id = ?
			ORDER BY seq DESC
			LIMIT ?
		  )
	`, channelID, channelID, MaxMessagesPerChannel)
	if err != nil {
		return fmt.Errorf("trimming message history: %w", err)
	}

	s.logger.Debug("appended message", "channel_id", channelID, "author", msg.Author, "is_bot", msg.IsBot)
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetRecentMessages retrieves the most recent `limit` messages for a channel
// in chronological order (oldest first). If limit is 0 or negative, up to
// MaxMessagesPerChannel messages are returned.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > MaxMessagesPerChannel {
		limit = MaxMessagesPerChannel
	}

	// Get the N most recent messages, but return them in chronological order
	query := `
		SELECT message_id, external_id, author, content, is_bot, created_at
		FROM (
			SELECT seq, message_id, external_id, author, content, is_bot, created_at
			FROM messages
			WHERE channel_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var externalID *string
		var isBot int

		if err := rows.Scan(&msg.ID, &externalID, &msg.Author, &msg.Content, &isBot, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		if externalID != nil {
			msg.ExternalID = *externalID
		}
		msg.IsBot = isBot != 0

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// GetLastInteraction returns a channel's last-interaction time.
// Returns ErrNotFound if the channel has no conversation record yet.
func (s *SQLiteStore) GetLastInteraction(ctx context.Context, channelID string) (time.Time, error) {
	var str string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_interaction FROM conversations WHERE channel_id = ?`,
		channelID,
	).Scan(&str)

	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last interaction: %w", err)
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last_interaction: %w", err)
	}
	return t, nil
}
