package chat

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mahaj/academy-chat/pkg/model"
)

// MaxContentLength caps message content, in runes.
const MaxContentLength = 4000

const typingEmitTimeout = 2 * time.Second

// roomSequence serializes acceptance for one room. accepted counts messages
// that were persisted and published.
type roomSequence struct {
	mu       sync.Mutex
	accepted uint64
}

// Router validates, persists and fans out room traffic.
type Router struct {
	registry *Registry
	rooms    *RoomManager
	store    Store
	fanout   Fanout
	ids      IDGenerator
	now      func() time.Time
	typing   *typingTracker

	seqMu sync.Mutex
	seqs  map[string]*roomSequence
}

func NewRouter(registry *Registry, rooms *RoomManager, store Store, fanout Fanout, ids IDGenerator,
	typingTimeout time.Duration, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	r := &Router{
		registry: registry,
		rooms:    rooms,
		store:    store,
		fanout:   fanout,
		ids:      ids,
		now:      now,
		seqs:     make(map[string]*roomSequence),
	}
	r.typing = newTypingTracker(typingTimeout, r.emit)
	return r
}

func (r *Router) sequence(roomID string) *roomSequence {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	s, ok := r.seqs[roomID]
	if !ok {
		s = &roomSequence{}
		r.seqs[roomID] = s
	}
	return s
}

// Accepted reports how many messages roomID has accepted in this process.
func (r *Router) Accepted(roomID string) uint64 {
	s := r.sequence(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// member resolves connID and checks it belongs to roomID.
func (r *Router) member(connID, roomID string) (model.Identity, error) {
	conn, ok := r.registry.Lookup(connID)
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if !r.rooms.IsMember(roomID, conn.Identity.ID) {
		return model.Identity{}, fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	return conn.Identity, nil
}

func validateSend(req model.SendMessageRequest) (model.MessageType, error) {
	if req.RoomID == "" {
		return "", fmt.Errorf("%w: roomId is required", ErrValidation)
	}
	mt, err := model.ParseMessageType(req.MessageType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if mt == model.TypeSystem {
		return "", fmt.Errorf("%w: system messages are server-only", ErrValidation)
	}
	if mt == model.TypeFile {
		u, err := url.Parse(req.FileURL)
		if req.FileURL == "" || err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", fmt.Errorf("%w: file messages need an http(s) fileUrl", ErrValidation)
		}
	} else if req.FileURL != "" {
		return "", fmt.Errorf("%w: fileUrl is only allowed on file messages", ErrValidation)
	}
	if strings.TrimSpace(req.Content) == "" && mt != model.TypeFile {
		return "", fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	}
	return mt, nil
}

// Send accepts a message from connID. The message is persisted before it is
// published; a failed write publishes nothing. Acceptance, persistence and
// publication for one room happen under that room's sequence lock, so every
// recipient observes the same order.
func (r *Router) Send(ctx context.Context, connID string, req model.SendMessageRequest) (model.ChatMessage, error) {
	mt, err := validateSend(req)
	if err != nil {
		return model.ChatMessage{}, err
	}
	sender, err := r.member(connID, req.RoomID)
	if err != nil {
		return model.ChatMessage{}, err
	}

	seq := r.sequence(req.RoomID)
	seq.mu.Lock()

	msg := model.ChatMessage{
		ID:          r.ids.Generate(),
		RoomID:      req.RoomID,
		SenderID:    sender.ID,
		SenderEmail: sender.Email,
		Content:     req.Content,
		MessageType: mt,
		FileURL:     req.FileURL,
		CreatedAt:   r.now().UTC(),
	}

	if err := r.store.SaveMessage(ctx, msg); err != nil {
		seq.mu.Unlock()
		log.Printf("[ROUTER] Failed to persist message in %s from %s: %v", msg.RoomID, msg.SenderID, err)
		return model.ChatMessage{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	env, err := model.NewEnvelope(model.EventNewMessage, msg)
	if err == nil {
		err = r.fanout.Publish(ctx, model.RoomEvent{RoomID: msg.RoomID, Envelope: env})
	}
	if err != nil {
		seq.mu.Unlock()
		log.Printf("[ROUTER] Message %d persisted but not published: %v", msg.ID, err)
		return msg, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	seq.accepted++
	seq.mu.Unlock()

	r.typing.stop(msg.RoomID, sender.ID)
	return msg, nil
}

func (r *Router) TypingStart(connID, roomID string) error {
	identity, err := r.member(connID, roomID)
	if err != nil {
		return err
	}
	r.typing.start(roomID, identity)
	return nil
}

func (r *Router) TypingStop(connID, roomID string) error {
	identity, err := r.member(connID, roomID)
	if err != nil {
		return err
	}
	r.typing.stop(roomID, identity.ID)
	return nil
}

// MarkRead records that the identity has read roomID up to now.
func (r *Router) MarkRead(ctx context.Context, connID, roomID string) (time.Time, error) {
	identity, err := r.member(connID, roomID)
	if err != nil {
		return time.Time{}, err
	}
	at := r.now().UTC()
	if err := r.store.MarkRead(ctx, roomID, identity.ID, at); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return at, nil
}

// History returns persisted messages for a member, oldest first.
func (r *Router) History(ctx context.Context, connID, roomID string, page model.Page) ([]model.ChatMessage, error) {
	if _, err := r.member(connID, roomID); err != nil {
		return nil, err
	}
	msgs, err := r.store.ListMessages(ctx, roomID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msgs, nil
}

func (r *Router) emit(ev model.RoomEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), typingEmitTimeout)
	defer cancel()
	if err := r.fanout.Publish(ctx, ev); err != nil {
		log.Printf("[ROUTER] Failed to publish %s in %s: %v", ev.Envelope.Event, ev.RoomID, err)
	}
}
