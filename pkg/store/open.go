package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/db"
	"github.com/mahaj/academy-chat/pkg/model"
)

// Backend is everything the services need from history storage.
type Backend interface {
	SaveMessage(ctx context.Context, m model.ChatMessage) error
	ListMessages(ctx context.Context, roomID string, page model.Page) ([]model.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) error
	ReadMarker(ctx context.Context, roomID, userID string) (time.Time, error)
	IndexMessage(ctx context.Context, m model.ChatMessage, participants []string) error
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// Open returns the configured backend and a func that releases it.
func Open(cfg *config.Config) (Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return NewMemoryStore(), func() {}, nil
	case config.StoreScylla:
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			return nil, nil, err
		}
		return NewScyllaStore(session), session.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
