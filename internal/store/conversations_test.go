// ABOUTME: Tests for bounded conversation history storage
// ABOUTME: Covers the retention cap and chronological reads

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendMessage_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &Message{
		ID:         "msg-1",
		ExternalID: "$event1:example.org",
		Author:     "alice",
		Content:    "hello there",
		IsBot:      false,
	}
	require.NoError(t, s.AppendMessage(ctx, "chan-1", msg))

	msgs, err := s.GetRecentMessages(ctx, "chan-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "$event1:example.org", msgs[0].ExternalID)
	assert.Equal(t, "alice", msgs[0].Author)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.False(t, msgs[0].IsBot)
	assert.False(t, msgs[0].CreatedAt.IsZero())
}

func TestGetRecentMessages_ChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, "chan-1", &Message{
			ID:      fmt.Sprintf("msg-%d", i),
			Author:  "alice",
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	// Limit smaller than total: the three newest, oldest first.
	msgs, err := s.GetRecentMessages(ctx, "chan-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-2", msgs[0].ID)
	assert.Equal(t, "msg-3", msgs[1].ID)
	assert.Equal(t, "msg-4", msgs[2].ID)
}

func TestGetRecentMessages_EmptyChannel(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.GetRecentMessages(context.Background(), "nothing-here", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendMessage_EnforcesCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	total := MaxMessagesPerChannel + 50
	for i := 0; i < total; i++ {
		require.NoError(t, s.AppendMessage(ctx, "chan-1", &Message{
			ID:      fmt.Sprintf("msg-%d", i),
			Author:  "alice",
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	msgs, err := s.GetRecentMessages(ctx, "chan-1", MaxMessagesPerChannel)
	require.NoError(t, err)
	require.Len(t, msgs, MaxMessagesPerChannel)

	// The survivors are exactly the newest cap-many, still in order.
	assert.Equal(t, fmt.Sprintf("msg-%d", total-MaxMessagesPerChannel), msgs[0].ID)
	assert.Equal(t, fmt.Sprintf("msg-%d", total-1), msgs[len(msgs)-1].ID)
}

func TestAppendMessage_CapIsPerChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxMessagesPerChannel+10; i++ {
		require.NoError(t, s.AppendMessage(ctx, "busy", &Message{
			ID:      fmt.Sprintf("busy-%d", i),
			Author:  "alice",
			Content: "x",
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, "quiet", &Message{
			ID:      fmt.Sprintf("quiet-%d", i),
			Author:  "bob",
			Content: "y",
		}))
	}

	quiet, err := s.GetRecentMessages(ctx, "quiet", 0)
	require.NoError(t, err)
	assert.Len(t, quiet, 3, "trimming one channel must not touch another")
}

func TestGetLastInteraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLastInteraction(ctx, "chan-1")
	assert.ErrorIs(t, err, ErrNotFound)

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, s.AppendMessage(ctx, "chan-1", &Message{
		ID:      "msg-1",
		Author:  "alice",
		Content: "hi",
	}))

	got, err := s.GetLastInteraction(ctx, "chan-1")
	require.NoError(t, err)
	assert.True(t, got.After(before), "last interaction should track the newest append")
}
