// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	sessions     map[string]*SessionRecord // keyed by channel ID
	messages     map[string][]*Message     // keyed by channel ID, append order
	interactions map[string]time.Time      // keyed by channel ID
	memories     map[string]*Memory        // keyed by "key|scope|username"

	// FailWrites makes all write operations return an error, for testing
	// the store-failures-are-swallowed paths.
	FailWrites bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:     make(map[string]*SessionRecord),
		messages:     make(map[string][]*Message),
		interactions: make(map[string]time.Time),
		memories:     make(map[string]*Memory),
	}
}

func memoryKey(key string, scope MemoryScope, username string) string {
	return key + "|" + string(scope) + "|" + username
}

func (m *MockStore) writeErr() error {
	if m.FailWrites {
		return fmt.Errorf("mock store: writes disabled")
	}
	return nil
}

// UpsertSession stores a session record, preserving CreatedAt on repeat upserts.
func (m *MockStore) UpsertSession(ctx context.Context, rec *SessionRecord) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	r := *rec
	if existing, ok := m.sessions[r.ChannelID]; ok {
		r.CreatedAt = existing.CreatedAt
	}
	m.sessions[r.ChannelID] = &r
	return nil
}

// GetSession retrieves a session record by channel ID.
func (m *MockStore) GetSession(ctx context.Context, channelID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[channelID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *rec
	return &result, nil
}

// ListSessions returns all session records ordered by most recent use.
func (m *MockStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []*SessionRecord
	for _, rec := range m.sessions {
		r := *rec
		recs = append(recs, &r)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastUsedAt.After(recs[j].LastUsedAt)
	})
	return recs, nil
}

// ListActiveSessions returns session records with Active=true.
func (m *MockStore) ListActiveSessions(ctx context.Context) ([]*SessionRecord, error) {
	all, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var recs []*SessionRecord
	for _, rec := range all {
		if rec.Active {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// TouchSession refreshes a session's last-used timestamp.
func (m *MockStore) TouchSession(ctx context.Context, channelID string, usedAt time.Time) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[channelID]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsedAt = usedAt
	return nil
}

// DeactivateSession flips Active to false for a channel's session.
func (m *MockStore) DeactivateSession(ctx context.Context, channelID string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[channelID]
	if !ok {
		return ErrNotFound
	}
	rec.Active = false
	return nil
}

// DeleteSession removes a channel's session record.
func (m *MockStore) DeleteSession(ctx context.Context, channelID string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[channelID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, channelID)
	return nil
}

// AppendMessage appends to a channel's bounded history ring.
func (m *MockStore) AppendMessage(ctx context.Context, channelID string, msg *Message) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgCopy := *msg
	if msgCopy.CreatedAt.IsZero() {
		msgCopy.CreatedAt = time.Now()
	}

	msgs := append(m.messages[channelID], &msgCopy)
	if len(msgs) > MaxMessagesPerChannel {
		msgs = msgs[len(msgs)-MaxMessagesPerChannel:]
	}
	m.messages[channelID] = msgs
	m.interactions[channelID] = msgCopy.CreatedAt
	return nil
}

// GetRecentMessages returns the most recent messages in chronological order.
func (m *MockStore) GetRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxMessagesPerChannel {
		limit = MaxMessagesPerChannel
	}

	msgs := m.messages[channelID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		result[i] = &c
	}
	return result, nil
}

// GetLastInteraction returns a channel's last-interaction time.
func (m *MockStore) GetLastInteraction(ctx context.Context, channelID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.interactions[channelID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return t, nil
}

// UpsertMemory inserts or updates a memory with truncation and eviction,
// mirroring the SQLite implementation's semantics.
func (m *MockStore) UpsertMemory(ctx context.Context, mem *Memory) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	value := truncateValue(mem.Value)
	k := memoryKey(mem.Key, mem.Scope, mem.Username)

	if existing, ok := m.memories[k]; ok {
		existing.Value = value
		existing.UpdatedAt = now
		mem.ID = existing.ID
		mem.Value = value
		mem.UpdatedAt = now
		return nil
	}

	// Evict the least-recently-updated entry if the bucket is full
	var bucket []*Memory
	for _, entry := range m.memories {
		if entry.Scope == mem.Scope && entry.Username == mem.Username {
			bucket = append(bucket, entry)
		}
	}
	if len(bucket) >= MaxMemoriesPerScope {
		oldest := bucket[0]
		for _, entry := range bucket[1:] {
			if entry.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = entry
			}
		}
		delete(m.memories, memoryKey(oldest.Key, oldest.Scope, oldest.Username))
	}

	id := mem.ID
	if id == "" {
		id = uuid.New().String()
	}
	stored := &Memory{
		ID:        id,
		Key:       mem.Key,
		Value:     value,
		Scope:     mem.Scope,
		Username:  mem.Username,
		CreatedBy: mem.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.memories[k] = stored

	mem.ID = id
	mem.Value = value
	mem.CreatedAt = now
	mem.UpdatedAt = now
	return nil
}

// GetMemory retrieves a memory by (key, scope, username).
func (m *MockStore) GetMemory(ctx context.Context, key string, scope MemoryScope, username string) (*Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.memories[memoryKey(key, scope, username)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *mem
	return &result, nil
}

// ListMemories returns all memories in a (scope, username) bucket, most
// recently updated first.
func (m *MockStore) ListMemories(ctx context.Context, scope MemoryScope, username string) ([]*Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memories []*Memory
	for _, mem := range m.memories {
		if mem.Scope == scope && mem.Username == username {
			c := *mem
			memories = append(memories, &c)
		}
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].UpdatedAt.After(memories[j].UpdatedAt)
	})
	return memories, nil
}

// DeleteMemory removes a memory by (key, scope, username).
func (m *MockStore) DeleteMemory(ctx context.Context, key string, scope MemoryScope, username string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey(key, scope, username)
	if _, ok := m.memories[k]; !ok {
		return ErrNotFound
	}
	delete(m.memories, k)
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
