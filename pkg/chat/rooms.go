package chat

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
)

const presenceStoreTimeout = 2 * time.Second

type member struct {
	identity model.Identity
	conns    int
}

// membershipObserver hears about identity-level membership changes.
type membershipObserver interface {
	memberJoined(roomID string, identity model.Identity, others []string)
	memberLeft(roomID, userID string)
}

// RoomManager owns room membership. Membership is keyed by identity: an
// identity is a member while at least one of its connections has joined.
// Per-connection joins are tracked so a disconnect cleans up exactly what
// that connection held.
type RoomManager struct {
	registry *Registry
	perms    Permissions
	presence PresenceStore
	observer membershipObserver

	mu     sync.RWMutex
	rooms  map[string]map[string]*member  // room -> user -> member
	joined map[string]map[string]struct{} // conn -> rooms
}

func NewRoomManager(registry *Registry, perms Permissions, presence PresenceStore) *RoomManager {
	if presence == nil {
		presence = nopPresenceStore{}
	}
	return &RoomManager{
		registry: registry,
		perms:    perms,
		presence: presence,
		rooms:    make(map[string]map[string]*member),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Join authorizes and records connID's membership in roomID. Joining a room
// the connection already holds succeeds without side effects.
func (m *RoomManager) Join(ctx context.Context, connID, roomID string) (bool, error) {
	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if _, err := room.Parse(roomID); err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	allowed, err := m.perms.CanAccessRoom(ctx, conn.Identity, roomID)
	if err != nil {
		return false, fmt.Errorf("access check for %s: %w", roomID, err)
	}
	if !allowed {
		return false, fmt.Errorf("%w: %s may not join %s", ErrUnauthorized, conn.Identity.ID, roomID)
	}

	uid := conn.Identity.ID

	m.mu.Lock()
	// The connection may have gone away while the access check ran.
	if _, live := m.registry.Lookup(connID); !live {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	rooms := m.joined[connID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		m.joined[connID] = rooms
	}
	if _, already := rooms[roomID]; already {
		m.mu.Unlock()
		return true, nil
	}
	rooms[roomID] = struct{}{}

	members := m.rooms[roomID]
	if members == nil {
		members = make(map[string]*member)
		m.rooms[roomID] = members
	}
	mem := members[uid]
	newMember := mem == nil
	if newMember {
		mem = &member{identity: conn.Identity}
		members[uid] = mem
	}
	mem.conns++
	var others []string
	if newMember {
		others = memberIDsLocked(members, uid)
	}
	m.mu.Unlock()

	if newMember {
		m.mirror(func(ctx context.Context) error { return m.presence.JoinRoom(ctx, roomID, uid) })
		if m.observer != nil {
			m.observer.memberJoined(roomID, conn.Identity, others)
		}
	}
	return true, nil
}

// Leave drops connID's join of roomID. Leaving a room the connection never
// joined fails with ErrNotInRoom.
func (m *RoomManager) Leave(_ context.Context, connID, roomID string) (bool, error) {
	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	m.mu.Lock()
	if _, held := m.joined[connID][roomID]; !held {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	delete(m.joined[connID], roomID)
	gone := m.releaseLocked(roomID, conn.Identity.ID)
	m.mu.Unlock()

	if gone {
		m.memberGone(roomID, conn.Identity.ID)
	}
	return true, nil
}

// dropConnection releases every room connID held and returns the rooms the
// identity is no longer a member of.
func (m *RoomManager) dropConnection(connID, userID string) []string {
	m.mu.Lock()
	held := m.joined[connID]
	delete(m.joined, connID)
	var gone []string
	for roomID := range held {
		if m.releaseLocked(roomID, userID) {
			gone = append(gone, roomID)
		}
	}
	m.mu.Unlock()

	slices.Sort(gone)
	for _, roomID := range gone {
		m.memberGone(roomID, userID)
	}
	return gone
}

func (m *RoomManager) releaseLocked(roomID, userID string) bool {
	members := m.rooms[roomID]
	mem, ok := members[userID]
	if !ok {
		return false
	}
	mem.conns--
	if mem.conns > 0 {
		return false
	}
	delete(members, userID)
	return true
}

func (m *RoomManager) memberGone(roomID, userID string) {
	m.mirror(func(ctx context.Context) error { return m.presence.LeaveRoom(ctx, roomID, userID) })
	if m.observer != nil {
		m.observer.memberLeft(roomID, userID)
	}
}

func (m *RoomManager) mirror(op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceStoreTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		log.Printf("[ROOMS] Failed to mirror membership: %v", err)
	}
}

// MembersOf returns the identities currently in roomID, sorted by id.
func (m *RoomManager) MembersOf(roomID string) []model.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Identity, 0, len(m.rooms[roomID]))
	for _, mem := range m.rooms[roomID] {
		out = append(out, mem.identity)
	}
	slices.SortFunc(out, func(a, b model.Identity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (m *RoomManager) IsMember(roomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][userID]
	return ok
}

// RoomsOf returns the rooms connID has joined, sorted.
func (m *RoomManager) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.joined[connID]))
	for roomID := range m.joined[connID] {
		out = append(out, roomID)
	}
	slices.Sort(out)
	return out
}

func (m *RoomManager) memberIDs(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memberIDsLocked(m.rooms[roomID], "")
}

func memberIDsLocked(members map[string]*member, except string) []string {
	out := make([]string, 0, len(members))
	for uid := range members {
		if uid != except {
			out = append(out, uid)
		}
	}
	slices.Sort(out)
	return out
}
