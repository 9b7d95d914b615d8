package chat

import (
	"context"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

// Store persists chat history. SaveMessage must be durable before it returns.
type Store interface {
	SaveMessage(ctx context.Context, m model.ChatMessage) error
	ListMessages(ctx context.Context, roomID string, page model.Page) ([]model.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) error
}

type Permissions interface {
	CanAccessRoom(ctx context.Context, identity model.Identity, roomID string) (bool, error)
}

// PresenceStore mirrors presence for readers outside this process.
type PresenceStore interface {
	SetState(ctx context.Context, st model.PresenceState) error
	JoinRoom(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
}

// Fanout carries room events to every gateway holding members of the room.
type Fanout interface {
	Publish(ctx context.Context, ev model.RoomEvent) error
}

type IDGenerator interface {
	Generate() int64
}

// Sink is the outbound side of one connection. Deliver must not block; it
// returns false when the connection cannot keep up or is closed.
type Sink interface {
	Deliver(env model.Envelope) bool
	Close()
}

type nopPresenceStore struct{}

func (nopPresenceStore) SetState(context.Context, model.PresenceState) error { return nil }
func (nopPresenceStore) JoinRoom(context.Context, string, string) error      { return nil }
func (nopPresenceStore) LeaveRoom(context.Context, string, string) error     { return nil }
