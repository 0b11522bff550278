// ABOUTME: Memory service: write policy over the store plus local tool calls.
// ABOUTME: Normalizes keys, enforces scoping, and swallows tool-path failures.

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/familiar/internal/store"
)

// Local tool names the runtime's agent may call to manage memories.
const (
	ToolRemember = "remember"
	ToolForget   = "forget"
)

var (
	ErrEmptyKey        = errors.New("memory key is empty")
	ErrEmptyValue      = errors.New("memory value is empty")
	ErrInvalidScope    = errors.New("scope must be global or user")
	ErrMissingUsername = errors.New("user-scoped memory needs a username")
)

// Store is the slice of the persistence layer the service needs.
type Store interface {
	UpsertMemory(ctx context.Context, mem *store.Memory) error
	GetMemory(ctx context.Context, key string, scope store.MemoryScope, username string) (*store.Memory, error)
	ListMemories(ctx context.Context, scope store.MemoryScope, username string) ([]*store.Memory, error)
	DeleteMemory(ctx context.Context, key string, scope store.MemoryScope, username string) error
}

// Service applies write policy on top of the memory store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService wraps a store with memory write policy.
func NewService(st Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "memory")}
}

// NormalizeKey lowercases and trims a memory key so "Favorite Color" and
// "favorite color" address the same fact.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Remember upserts a fact. Global scope clears the username; user scope
// requires one. The stored entry comes back with its id and timestamps set.
func (s *Service) Remember(ctx context.Context, key, value string, scope store.MemoryScope, username, createdBy string) (*store.Memory, error) {
	key = NormalizeKey(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return nil, ErrEmptyKey
	}
	if value == "" {
		return nil, ErrEmptyValue
	}
	username, err := scopedUsername(scope, username)
	if err != nil {
		return nil, err
	}

	mem := &store.Memory{
		Key:       key,
		Value:     value,
		Scope:     scope,
		Username:  username,
		CreatedBy: createdBy,
	}
	if err := s.store.UpsertMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("remembering %q: %w", key, err)
	}
	s.logger.Info("memory saved", "key", key, "scope", string(scope), "username", username)
	return mem, nil
}

// Forget deletes a fact. Forgetting a missing key surfaces store.ErrNotFound.
func (s *Service) Forget(ctx context.Context, key string, scope store.MemoryScope, username string) error {
	key = NormalizeKey(key)
	if key == "" {
		return ErrEmptyKey
	}
	username, err := scopedUsername(scope, username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMemory(ctx, key, scope, username); err != nil {
		return fmt.Errorf("forgetting %q: %w", key, err)
	}
	s.logger.Info("memory forgotten", "key", key, "scope", string(scope), "username", username)
	return nil
}

// Get looks up one fact by key.
func (s *Service) Get(ctx context.Context, key string, scope store.MemoryScope, username string) (*store.Memory, error) {
	key = NormalizeKey(key)
	username, err := scopedUsername(scope, username)
	if err != nil {
		return nil, err
	}
	return s.store.GetMemory(ctx, key, scope, username)
}

// List returns one (scope, username) bucket, most recently updated first.
func (s *Service) List(ctx context.Context, scope store.MemoryScope, username string) ([]*store.Memory, error) {
	username, err := scopedUsername(scope, username)
	if err != nil {
		return nil, err
	}
	return s.store.ListMemories(ctx, scope, username)
}

// ForUser returns the two buckets a turn's context draws from: global facts
// first, then the user's own.
func (s *Service) ForUser(ctx context.Context, username string) (global, user []*store.Memory, err error) {
	global, err = s.store.ListMemories(ctx, store.ScopeGlobal, "")
	if err != nil {
		return nil, nil, fmt.Errorf("listing global memories: %w", err)
	}
	user, err = s.store.ListMemories(ctx, store.ScopeUser, username)
	if err != nil {
		return nil, nil, fmt.Errorf("listing memories for %s: %w", username, err)
	}
	return global, user, nil
}

// scopedUsername validates a scope and pins the username it implies.
func scopedUsername(scope store.MemoryScope, username string) (string, error) {
	switch scope {
	case store.ScopeGlobal:
		return "", nil
	case store.ScopeUser:
		if username == "" {
			return "", ErrMissingUsername
		}
		return username, nil
	default:
		return "", ErrInvalidScope
	}
}

type rememberArgs struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Global bool   `json:"global,omitempty"`
}

type forgetArgs struct {
	Key    string `json:"key"`
	Global bool   `json:"global,omitempty"`
}

// IsMemoryTool reports whether a tool name belongs to this service.
func IsMemoryTool(toolName string) bool {
	return toolName == ToolRemember || toolName == ToolForget
}

// HandleToolCall executes a remember/forget call observed on the event
// stream. Failures are logged and swallowed: losing one memory write must
// not fail the turn. Returns false for tool names this service does not own.
func (s *Service) HandleToolCall(ctx context.Context, toolName string, args json.RawMessage, username string) bool {
	switch toolName {
	case ToolRemember:
		var a rememberArgs
		if err := json.Unmarshal(args, &a); err != nil {
			s.logger.Warn("bad remember arguments", "error", err)
			return true
		}
		scope, owner := store.ScopeUser, username
		if a.Global {
			scope, owner = store.ScopeGlobal, ""
		}
		if _, err := s.Remember(ctx, a.Key, a.Value, scope, owner, username); err != nil {
			s.logger.Warn("remember failed", "key", a.Key, "error", err)
		}
		return true

	case ToolForget:
		var a forgetArgs
		if err := json.Unmarshal(args, &a); err != nil {
			s.logger.Warn("bad forget arguments", "error", err)
			return true
		}
		scope, owner := store.ScopeUser, username
		if a.Global {
			scope, owner = store.ScopeGlobal, ""
		}
		if err := s.Forget(ctx, a.Key, scope, owner); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("forget failed", "key", a.Key, "error", err)
		}
		return true

	default:
		return false
	}
}
