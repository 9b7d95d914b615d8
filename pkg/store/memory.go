package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

type convKey struct {
	userID, roomID string
}

// MemoryStore is an in-process store with the same semantics as ScyllaStore.
// It backs STORE_BACKEND=memory and the tests.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]model.ChatMessage // room -> ascending by id
	reads         map[convKey]time.Time
	conversations map[convKey]model.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string][]model.ChatMessage),
		reads:         make(map[convKey]time.Time),
		conversations: make(map[convKey]model.Conversation),
	}
}

func (s *MemoryStore) SaveMessage(_ context.Context, m model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[m.RoomID]
	i, found := slices.BinarySearchFunc(msgs, m.ID, func(x model.ChatMessage, id int64) int {
		switch {
		case x.ID < id:
			return -1
		case x.ID > id:
			return 1
		}
		return 0
	})
	if found {
		msgs[i] = m
		return nil
	}
	s.messages[m.RoomID] = slices.Insert(msgs, i, m)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, roomID string, page model.Page) ([]model.ChatMessage, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	end := len(msgs)
	if page.Before > 0 {
		end, _ = slices.BinarySearchFunc(msgs, page.Before, func(x model.ChatMessage, id int64) int {
			switch {
			case x.ID < id:
				return -1
			case x.ID > id:
				return 1
			}
			return 0
		})
	}
	start := max(0, end-page.Limit)
	return slices.Clone(msgs[start:end]), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, roomID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := convKey{userID, roomID}
	s.reads[k] = at
	if c, ok := s.conversations[k]; ok {
		c.UnreadCount = 0
		s.conversations[k] = c
	}
	return nil
}

func (s *MemoryStore) ReadMarker(_ context.Context, roomID, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[convKey{userID, roomID}], nil
}

func (s *MemoryStore) IndexMessage(_ context.Context, m model.ChatMessage, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, userID := range participants {
		k := convKey{userID, m.RoomID}
		c := s.conversations[k]
		c.UserID, c.RoomID = userID, m.RoomID
		c.LastMessageID, c.LastUpdated = m.ID, m.CreatedAt
		if userID != m.SenderID {
			c.UnreadCount++
		}
		s.conversations[k] = c
	}
	return nil
}

func (s *MemoryStore) Conversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for k, c := range s.conversations {
		if k.userID == userID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Conversation) int {
		return b.LastUpdated.Compare(a.LastUpdated)
	})
	return out, nil
}

// Count reports how many messages are stored for roomID.
func (s *MemoryStore) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[roomID])
}
