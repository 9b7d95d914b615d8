package main

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
)

type conversationIndexer interface {
	IndexMessage(ctx context.Context, m model.ChatMessage, participants []string) error
}

type rosterReader interface {
	Members(ctx context.Context, batchID string) ([]string, error)
}

// Projector turns accepted messages on the room event topic into per-user
// conversation rows with unread counts.
type Projector struct {
	store  conversationIndexer
	roster rosterReader
}

func NewProjector(store conversationIndexer, roster rosterReader) *Projector {
	return &Projector{store: store, roster: roster}
}

// Handle indexes new_message events and ignores everything else on the topic.
func (p *Projector) Handle(ctx context.Context, ev model.RoomEvent) error {
	if ev.Envelope.Event != model.EventNewMessage {
		return nil
	}

	var msg model.ChatMessage
	if err := ev.Envelope.Decode(&msg); err != nil {
		return fmt.Errorf("decode message in %s: %w", ev.RoomID, err)
	}

	participants, err := p.participants(ctx, msg)
	if err != nil {
		return err
	}
	if err := p.store.IndexMessage(ctx, msg, participants); err != nil {
		return fmt.Errorf("index message %d: %w", msg.ID, err)
	}
	log.Printf("Indexed message %d in %s for %d participants", msg.ID, msg.RoomID, len(participants))
	return nil
}

func (p *Projector) participants(ctx context.Context, msg model.ChatMessage) ([]string, error) {
	id, err := room.Parse(msg.RoomID)
	if err != nil {
		return nil, err
	}

	var users []string
	switch id.Kind {
	case room.KindDirect:
		users = slices.Clone(id.Participants)
	case room.KindBatch:
		users, err = p.roster.Members(ctx, id.BatchID)
		if err != nil {
			return nil, fmt.Errorf("roster for batch %s: %w", id.BatchID, err)
		}
	}
	// Admins can post without being enrolled; they still get a row.
	if msg.SenderID != "" && !slices.Contains(users, msg.SenderID) {
		users = append(users, msg.SenderID)
	}
	slices.Sort(users)
	return users, nil
}
