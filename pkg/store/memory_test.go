package store

import (
	"context"
	"testing"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *MemoryStore, roomID string, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.SaveMessage(context.Background(), model.ChatMessage{
			ID: id, RoomID: roomID, SenderID: "u1", Content: "m", MessageType: model.TypeText,
		}))
	}
}

func ids(msgs []model.ChatMessage) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMemoryStore_ListMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "batch:1", 5, 1, 3, 2, 4)
	seed(t, s, "batch:2", 10)

	tests := []struct {
		name string
		page model.Page
		want []int64
	}{
		{name: "latest", page: model.Page{Limit: 3}, want: []int64{3, 4, 5}},
		{name: "default limit", page: model.Page{}, want: []int64{1, 2, 3, 4, 5}},
		{name: "before cursor", page: model.Page{Before: 4, Limit: 2}, want: []int64{2, 3}},
		{name: "before first", page: model.Page{Before: 1, Limit: 2}, want: []int64{}},
		{name: "cursor between ids", page: model.Page{Before: 100, Limit: 1}, want: []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMessages(ctx, "batch:1", tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	assert.Equal(t, 5, s.Count("batch:1"))
	assert.Equal(t, 1, s.Count("batch:2"))
}

func TestMemoryStore_SaveIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "dm:a:b", 1, 1, 1)
	assert.Equal(t, 1, s.Count("dm:a:b"))
}

func TestMemoryStore_ConversationIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	msg := model.ChatMessage{ID: 7, RoomID: "dm:a:b", SenderID: "a", CreatedAt: now}
	require.NoError(t, s.IndexMessage(ctx, msg, []string{"a", "b"}))
	msg.ID, msg.CreatedAt = 8, now.Add(time.Second)
	require.NoError(t, s.IndexMessage(ctx, msg, []string{"a", "b"}))

	convs, err := s.Conversations(ctx, "b")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, int64(2), convs[0].UnreadCount)
	assert.Equal(t, int64(8), convs[0].LastMessageID)

	convs, err = s.Conversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)

	require.NoError(t, s.MarkRead(ctx, "dm:a:b", "b", now))
	convs, err = s.Conversations(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)

	at, err := s.ReadMarker(ctx, "dm:a:b", "b")
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
}
