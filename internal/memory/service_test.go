// ABOUTME: Tests for memory write policy and local tool handling.
// ABOUTME: Uses the in-memory mock store to exercise scoping and failures.

package memory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	svc := NewService(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, st
}

func TestRemember_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Remember(ctx, "favorite color", "blue", store.ScopeUser, "alice", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, mem.ID)
	assert.Equal(t, "favorite color", mem.Key)
	assert.Equal(t, "blue", mem.Value)

	got, err := svc.Get(ctx, "favorite color", store.ScopeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Value)
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestRemember_NormalizesKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "  Favorite Color ", "blue", store.ScopeUser, "alice", "alice")
	require.NoError(t, err)

	got, err := svc.Get(ctx, "favorite color", store.ScopeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Value)
}

func TestRemember_GlobalScopeClearsUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Remember(ctx, "house rules", "no shouting", store.ScopeGlobal, "alice", "alice")
	require.NoError(t, err)
	assert.Empty(t, mem.Username)

	got, err := svc.Get(ctx, "house rules", store.ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, "no shouting", got.Value)
}

func TestRemember_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "  ", "blue", store.ScopeUser, "alice", "alice")
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = svc.Remember(ctx, "color", "  ", store.ScopeUser, "alice", "alice")
	assert.ErrorIs(t, err, ErrEmptyValue)

	_, err = svc.Remember(ctx, "color", "blue", store.ScopeUser, "", "alice")
	assert.ErrorIs(t, err, ErrMissingUsername)

	_, err = svc.Remember(ctx, "color", "blue", store.MemoryScope("team"), "alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestForget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "color", "blue", store.ScopeUser, "alice", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Forget(ctx, "Color", store.ScopeUser, "alice"))

	_, err = svc.Get(ctx, "color", store.ScopeUser, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = svc.Forget(ctx, "color", store.ScopeUser, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestForUser_ReturnsBothBuckets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "house rules", "no shouting", store.ScopeGlobal, "", "admin")
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "favorite color", "blue", store.ScopeUser, "alice", "alice")
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "favorite color", "green", store.ScopeUser, "bob", "bob")
	require.NoError(t, err)

	global, user, err := svc.ForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "house rules", global[0].Key)
	require.Len(t, user, 1)
	assert.Equal(t, "blue", user[0].Value)
}

func TestHandleToolCall_Remember(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	args := json.RawMessage(`{"key": "Favorite Color", "value": "blue"}`)
	handled := svc.HandleToolCall(ctx, ToolRemember, args, "alice")
	assert.True(t, handled)

	got, err := svc.Get(ctx, "favorite color", store.ScopeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Value)
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestHandleToolCall_RememberGlobal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	args := json.RawMessage(`{"key": "house rules", "value": "no shouting", "global": true}`)
	require.True(t, svc.HandleToolCall(ctx, ToolRemember, args, "alice"))

	got, err := svc.Get(ctx, "house rules", store.ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestHandleToolCall_Forget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "color", "blue", store.ScopeUser, "alice", "alice")
	require.NoError(t, err)

	require.True(t, svc.HandleToolCall(ctx, ToolForget, json.RawMessage(`{"key": "color"}`), "alice"))

	_, err = svc.Get(ctx, "color", store.ScopeUser, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleToolCall_BadArgumentsSwallowed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.True(t, svc.HandleToolCall(ctx, ToolRemember, json.RawMessage(`{not json`), "alice"))

	user, err := svc.List(ctx, store.ScopeUser, "alice")
	require.NoError(t, err)
	assert.Empty(t, user)
}

func TestHandleToolCall_StoreFailureSwallowed(t *testing.T) {
	svc, st := newTestService(t)
	st.FailWrites = true

	args := json.RawMessage(`{"key": "color", "value": "blue"}`)
	assert.True(t, svc.HandleToolCall(context.Background(), ToolRemember, args, "alice"))
}

func TestHandleToolCall_UnknownTool(t *testing.T) {
	svc, _ := newTestService(t)
	assert.False(t, svc.HandleToolCall(context.Background(), "Bash", json.RawMessage(`{}`), "alice"))
}

func TestIsMemoryTool(t *testing.T) {
	assert.True(t, IsMemoryTool(ToolRemember))
	assert.True(t, IsMemoryTool(ToolForget))
	assert.False(t, IsMemoryTool("Bash"))
}
