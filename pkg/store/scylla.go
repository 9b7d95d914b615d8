// Package store persists chat history, read markers and the per-user
// conversation index.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/academy-chat/pkg/db"
	"github.com/mahaj/academy-chat/pkg/model"
)

type ScyllaStore struct {
	db *db.Session
}

func NewScyllaStore(session *db.Session) *ScyllaStore {
	return &ScyllaStore{db: session}
}

func (s *ScyllaStore) SaveMessage(ctx context.Context, m model.ChatMessage) error {
	const query = `INSERT INTO messages (room_id, id, sender_id, sender_email, content, message_type, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.db.Query(query,
		m.RoomID, m.ID, m.SenderID, m.SenderEmail, m.Content, string(m.MessageType), m.FileURL, m.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert message %d into %s: %w", m.ID, m.RoomID, err)
	}
	return nil
}

// ListMessages returns up to page.Limit messages older than page.Before,
// oldest first.
func (s *ScyllaStore) ListMessages(ctx context.Context, roomID string, page model.Page) ([]model.ChatMessage, error) {
	page = page.Normalize()

	var q *gocql.Query
	if page.Before > 0 {
		q = s.db.Query(`SELECT room_id, id, sender_id, sender_email, content, message_type, file_url, created_at
			FROM messages WHERE room_id = ? AND id < ? LIMIT ?`, roomID, page.Before, page.Limit)
	} else {
		q = s.db.Query(`SELECT room_id, id, sender_id, sender_email, content, message_type, file_url, created_at
			FROM messages WHERE room_id = ? LIMIT ?`, roomID, page.Limit)
	}

	iter := q.WithContext(ctx).Iter()

	var (
		messages []model.ChatMessage
		m        model.ChatMessage
		msgType  string
	)
	for iter.Scan(&m.RoomID, &m.ID, &m.SenderID, &m.SenderEmail, &m.Content, &msgType, &m.FileURL, &m.CreatedAt) {
		m.MessageType = model.MessageType(msgType)
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", roomID, err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// MarkRead records the read marker and resets the unread counter. In Scylla,
// deleting a counter row is how it goes back to zero.
func (s *ScyllaStore) MarkRead(ctx context.Context, roomID, userID string, at time.Time) error {
	if err := s.db.Query(`INSERT INTO read_markers (user_id, room_id, read_at) VALUES (?, ?, ?)`,
		userID, roomID, at).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("write read marker %s/%s: %w", userID, roomID, err)
	}
	if err := s.db.Query(`DELETE FROM conversation_counters WHERE user_id = ? AND room_id = ?`,
		userID, roomID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("reset unread count %s/%s: %w", userID, roomID, err)
	}
	return nil
}

func (s *ScyllaStore) ReadMarker(ctx context.Context, roomID, userID string) (time.Time, error) {
	var at time.Time
	err := s.db.Query(`SELECT read_at FROM read_markers WHERE user_id = ? AND room_id = ?`,
		userID, roomID).WithContext(ctx).Scan(&at)
	if errors.Is(err, gocql.ErrNotFound) {
		return time.Time{}, nil
	}
	return at, err
}

// IndexMessage updates the conversation index for every participant and bumps
// the unread counter of everyone except the sender.
func (s *ScyllaStore) IndexMessage(ctx context.Context, m model.ChatMessage, participants []string) error {
	var errs []error
	for _, userID := range participants {
		err := s.db.Query(`INSERT INTO user_conversations (user_id, room_id, last_message_id, last_updated) VALUES (?, ?, ?, ?)`,
			userID, m.RoomID, m.ID, m.CreatedAt).WithContext(ctx).Exec()
		if err != nil {
			log.Printf("[STORE] Failed to update conversation for %s: %v", userID, err)
			errs = append(errs, err)
		}

		if userID == m.SenderID {
			continue
		}
		err = s.db.Query(`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND room_id = ?`,
			userID, m.RoomID).WithContext(ctx).Exec()
		if err != nil {
			log.Printf("[STORE] Failed to increment unread count for %s: %v", userID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ScyllaStore) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := s.db.Query(`SELECT user_id, room_id, last_message_id, last_updated FROM user_conversations WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var (
		conversations []model.Conversation
		c             model.Conversation
	)
	for iter.Scan(&c.UserID, &c.RoomID, &c.LastMessageID, &c.LastUpdated) {
		c.UnreadCount = 0
		var count int64
		err := s.db.Query(`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND room_id = ?`,
			c.UserID, c.RoomID).WithContext(ctx).Scan(&count)
		if err == nil {
			c.UnreadCount = count
		}
		conversations = append(conversations, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}

	slices.SortFunc(conversations, func(a, b model.Conversation) int {
		return b.LastUpdated.Compare(a.LastUpdated)
	})
	return conversations, nil
}
