// Package chat is the real-time chat core: connection registry, rooms,
// message routing, presence and notifications.
//
// A Hub wires the components together. Transports hand it connections
// (Connect/Disconnect) and decoded client events (HandleEvent); it answers
// through each connection's Sink.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

const (
	DefaultTypingTimeout    = 8 * time.Second
	DefaultPresenceDebounce = 10 * time.Second
)

type Options struct {
	Store       Store
	Permissions Permissions
	IDs         IDGenerator

	// PresenceStore is optional.
	PresenceStore PresenceStore
	// Fanout defaults to delivering through this Hub only.
	Fanout Fanout

	TypingTimeout    time.Duration
	PresenceDebounce time.Duration
	Now              func() time.Time
}

type Hub struct {
	registry *Registry
	rooms    *RoomManager
	router   *Router
	presence *Presence
	notifier *Dispatcher
	now      func() time.Time
}

func NewHub(opts Options) (*Hub, error) {
	if opts.Store == nil || opts.Permissions == nil || opts.IDs == nil {
		return nil, errors.New("chat: Store, Permissions and IDs are required")
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.PresenceDebounce <= 0 {
		opts.PresenceDebounce = DefaultPresenceDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Hub{now: opts.Now}
	if opts.Fanout == nil {
		opts.Fanout = LocalFanout{Hub: h}
	}

	h.registry = NewRegistry(opts.Now)
	h.rooms = NewRoomManager(h.registry, opts.Permissions, opts.PresenceStore)
	h.rooms.observer = h
	h.router = NewRouter(h.registry, h.rooms, opts.Store, opts.Fanout, opts.IDs, opts.TypingTimeout, opts.Now)
	h.presence = NewPresence(h.registry, opts.PresenceStore, opts.PresenceDebounce, opts.Now, h.deliverToUsers)
	h.notifier = NewDispatcher(h.registry, opts.Now, h.deliver)
	return h, nil
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Rooms() *RoomManager { return h.rooms }

func (h *Hub) Router() *Router { return h.router }

func (h *Hub) Presence() *Presence { return h.presence }

func (h *Hub) Notifications() *Dispatcher { return h.notifier }

// Connect registers a connection for an authenticated identity.
func (h *Hub) Connect(connID string, identity model.Identity, sink Sink) error {
	first, err := h.registry.Register(connID, identity, sink)
	if err != nil {
		return err
	}
	log.Printf("[HUB] Connection %s registered for %s (%d live)", connID, identity.ID, h.registry.Len())
	if first {
		h.presence.connected(identity.ID)
	}
	return nil
}

// Disconnect unregisters a connection, drops every room membership it held
// and, if it was the identity's last connection, starts the offline debounce.
func (h *Hub) Disconnect(connID string) {
	conn, last, ok := h.registry.Unregister(connID)
	if !ok {
		return
	}
	at := h.now()
	gone := h.rooms.dropConnection(connID, conn.Identity.ID)
	log.Printf("[HUB] Connection %s for %s closed, left %d rooms", connID, conn.Identity.ID, len(gone))
	if last {
		h.presence.disconnected(conn.Identity.ID, at)
	}
}

func (h *Hub) memberJoined(_ string, identity model.Identity, others []string) {
	h.presence.notePeers(identity.ID, others)
}

func (h *Hub) memberLeft(roomID, userID string) {
	h.router.typing.stop(roomID, userID)
}

// HandleEvent processes one client event to completion. Every rejected
// action answers the caller with an ack or an error event.
func (h *Hub) HandleEvent(ctx context.Context, connID string, env model.Envelope) {
	h.registry.Touch(connID)

	switch env.Event {
	case model.EventJoinRoom, model.EventLeaveRoom:
		var req model.RoomRequest
		err := env.Decode(&req)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		h.handleMembership(ctx, connID, env.Event, req.RoomID, err)

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if err := env.Decode(&req); err != nil {
			h.replyError(connID, fmt.Errorf("%w: %v", ErrBadRequest, err))
			return
		}
		if _, err := h.router.Send(ctx, connID, req); err != nil {
			h.replyError(connID, err)
		}

	case model.EventTypingStart, model.EventTypingStop:
		var req model.RoomRequest
		if err := env.Decode(&req); err != nil {
			h.replyError(connID, fmt.Errorf("%w: %v", ErrBadRequest, err))
			return
		}
		var err error
		if env.Event == model.EventTypingStart {
			err = h.router.TypingStart(connID, req.RoomID)
		} else {
			err = h.router.TypingStop(connID, req.RoomID)
		}
		if err != nil {
			h.replyError(connID, err)
		}

	case model.EventMarkRead:
		var req model.RoomRequest
		if err := env.Decode(&req); err != nil {
			h.replyError(connID, fmt.Errorf("%w: %v", ErrBadRequest, err))
			return
		}
		at, err := h.router.MarkRead(ctx, connID, req.RoomID)
		if err != nil {
			h.replyError(connID, err)
			return
		}
		h.reply(connID, model.EventReadMarked, model.ReadMarkedPayload{RoomID: req.RoomID, ReadAt: at})

	case model.EventHistory:
		var req model.HistoryRequest
		if err := env.Decode(&req); err != nil {
			h.replyError(connID, fmt.Errorf("%w: %v", ErrBadRequest, err))
			return
		}
		msgs, err := h.router.History(ctx, connID, req.RoomID, model.Page{Before: req.Before, Limit: req.Limit})
		if err != nil {
			h.replyError(connID, err)
			return
		}
		if msgs == nil {
			msgs = []model.ChatMessage{}
		}
		h.reply(connID, model.EventHistory, model.HistoryPayload{RoomID: req.RoomID, Messages: msgs})

	default:
		h.replyError(connID, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event))
	}
}

// handleMembership always acknowledges. Authorization failures are reported
// through the ack alone; anything else also gets an error event.
func (h *Hub) handleMembership(ctx context.Context, connID string, event model.EventName, roomID string, err error) {
	ack := model.EventRoomJoined
	if event == model.EventLeaveRoom {
		ack = model.EventRoomLeft
	}

	ok := false
	if err == nil {
		if event == model.EventJoinRoom {
			ok, err = h.rooms.Join(ctx, connID, roomID)
		} else {
			ok, err = h.rooms.Leave(ctx, connID, roomID)
		}
	}

	h.reply(connID, ack, model.RoomAck{RoomID: roomID, Success: ok})
	if err != nil && !errors.Is(err, ErrUnauthorized) {
		h.replyError(connID, err)
	}
	if ok && event == model.EventJoinRoom {
		h.sendPresenceSnapshot(connID, roomID)
	}
}

// sendPresenceSnapshot tells a fresh joiner who in the room is online.
func (h *Hub) sendPresenceSnapshot(connID, roomID string) {
	conn, ok := h.registry.Lookup(connID)
	if !ok {
		return
	}
	for _, uid := range h.rooms.memberIDs(roomID) {
		if uid == conn.Identity.ID {
			continue
		}
		st := h.presence.State(uid)
		if st.Status != model.StatusOnline {
			continue
		}
		h.reply(connID, model.EventPresenceUpdate, st)
	}
}

// DeliverRoomEvent hands ev to every live local connection of the room's
// members.
func (h *Hub) DeliverRoomEvent(ev model.RoomEvent) {
	members := h.rooms.memberIDs(ev.RoomID)
	if ev.ExcludeUserID != "" {
		members = slicesDelete(members, ev.ExcludeUserID)
	}
	h.deliver(h.registry.connectionsOf(members), ev.Envelope)
}

// Notify delivers a notification to every live connection of userID.
func (h *Hub) Notify(userID string, typ model.NotificationType, title, message string, data map[string]any) (int, error) {
	return h.notifier.Notify(userID, typ, title, message, data)
}

func (h *Hub) deliverToUsers(userIDs []string, env model.Envelope) {
	h.deliver(h.registry.connectionsOf(userIDs), env)
}

// deliver never blocks. A connection whose queue is full is closed; its
// transport then calls Disconnect.
func (h *Hub) deliver(conns []*Connection, env model.Envelope) {
	for _, c := range conns {
		if !c.sink.Deliver(env) {
			log.Printf("[HUB] Connection %s cannot keep up, evicting", c.ID)
			c.sink.Close()
		}
	}
}

func (h *Hub) reply(connID string, event model.EventName, payload any) {
	conn, ok := h.registry.Lookup(connID)
	if !ok {
		return
	}
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("[HUB] Failed to encode %s: %v", event, err)
		return
	}
	h.deliver([]*Connection{conn}, env)
}

// replyError drops errors for a connection that has already gone; there is
// no one left to tell.
func (h *Hub) replyError(connID string, err error) {
	if errors.Is(err, ErrUnknownConnection) {
		log.Printf("[HUB] Dropping reply for closed connection %s: %v", connID, err)
		return
	}
	h.reply(connID, model.EventError, ErrorEvent(err))
}

// ErrorEvent renders err as the payload of an error event.
func ErrorEvent(err error) model.ErrorPayload {
	return model.ErrorPayload{Message: publicMessage(err), Code: ErrorCode(err)}
}

// Shutdown cancels timers and closes every live connection.
func (h *Hub) Shutdown() {
	h.presence.stop()
	h.router.typing.stopAll()
	conns := h.registry.all()
	for _, c := range conns {
		c.sink.Close()
	}
	log.Printf("[HUB] Shutdown closed %d connections", len(conns))
}

func slicesDelete(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// LocalFanout delivers room events to this process's connections only.
type LocalFanout struct {
	Hub *Hub
}

func (f LocalFanout) Publish(_ context.Context, ev model.RoomEvent) error {
	f.Hub.DeliverRoomEvent(ev)
	return nil
}
