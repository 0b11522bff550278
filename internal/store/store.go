// ABOUTME: Store interface and data types for familiar persistence
// ABOUTME: Defines SessionRecord, Message, Memory structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Bounds enforced by the store on write.
const (
	// MaxMessagesPerChannel caps the per-channel history ring; the oldest
	// messages are dropped on append once the cap is reached.
	MaxMessagesPerChannel = 100

	// MaxMemoriesPerScope caps memory entries per (scope, username) bucket;
	// the least-recently-updated entry is evicted before a new insert.
	MaxMemoriesPerScope = 30

	// MaxMemoryValueLen is the maximum stored length of a memory value.
	// Longer values are truncated on write.
	MaxMemoryValueLen = 1024
)

// SessionRecord maps a channel to its model-runtime session.
// One record per channel; Active=false marks a dead session without
// deleting conversation history.
type SessionRecord struct {
	ChannelID        string
	RuntimeSessionID string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	Active           bool
}

// Message is a single entry in a channel's bounded conversation history
type Message struct {
	ID         string
	ExternalID string // chat-platform message id, if any
	Author     string
	Content    string
	IsBot      bool
	CreatedAt  time.Time
}

// MemoryScope identifies whether a memory applies globally or to one user
type MemoryScope string

const (
	ScopeGlobal MemoryScope = "global"
	ScopeUser   MemoryScope = "user"
)

// Memory is a persisted key/value fact.
// Uniqueness is enforced on (Key, Scope, Username); Username is empty for
// global scope.
type Memory struct {
	ID        string
	Key       string
	Value     string
	Scope     MemoryScope
	Username  string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for session, conversation, and memory persistence
type Store interface {
	// Session records
	UpsertSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, channelID string) (*SessionRecord, error)
	ListSessions(ctx context.Context) ([]*SessionRecord, error)
	ListActiveSessions(ctx context.Context) ([]*SessionRecord, error)
	TouchSession(ctx context.Context, channelID string, usedAt time.Time) error
	DeactivateSession(ctx context.Context, channelID string) error
	DeleteSession(ctx context.Context, channelID string) error

	// Conversation history (bounded ring per channel)
	AppendMessage(ctx context.Context, channelID string, msg *Message) error
	GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)
	GetLastInteraction(ctx context.Context, channelID string) (time.Time, error)

	// Memories
	UpsertMemory(ctx context.Context, mem *Memory) error
	GetMemory(ctx context.Context, key string, scope MemoryScope, username string) (*Memory, error)
	ListMemories(ctx context.Context, scope MemoryScope, username string) ([]*Memory, error)
	DeleteMemory(ctx context.Context, key string, scope MemoryScope, username string) error

	// Close releases any resources held by the store
	Close() error
}
