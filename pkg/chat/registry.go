package chat

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

// Connection is one live client channel.
type Connection struct {
	ID          string
	Identity    model.Identity
	ConnectedAt time.Time

	sink         Sink
	lastActivity atomic.Int64
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Registry tracks live connections and the identity behind each.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
	now    func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
		now:    now,
	}
}

// Register adds a connection. first reports whether it is the identity's only
// live connection.
func (r *Registry) Register(id string, identity model.Identity, sink Sink) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}

	now := r.now()
	c := &Connection{ID: id, Identity: identity, ConnectedAt: now, sink: sink}
	c.lastActivity.Store(now.UnixNano())

	r.conns[id] = c
	userConns := r.byUser[identity.ID]
	if userConns == nil {
		userConns = make(map[string]*Connection)
		r.byUser[identity.ID] = userConns
	}
	userConns[id] = c

	return len(userConns) == 1, nil
}

// Unregister removes a connection. last reports whether the identity has no
// live connections left.
func (r *Registry) Unregister(id string) (conn *Connection, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, false, false
	}
	delete(r.conns, id)

	userConns := r.byUser[c.Identity.ID]
	delete(userConns, id)
	if len(userConns) == 0 {
		delete(r.byUser, c.Identity.ID)
		last = true
	}
	return c, last, true
}

func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Touch(id string) {
	if c, ok := r.Lookup(id); ok {
		c.lastActivity.Store(r.now().UnixNano())
	}
}

// ConnectionsFor returns the ids of every live connection of userID, sorted.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// connectionsOf snapshots the live connections of the given identities.
func (r *Registry) connectionsOf(userIDs []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, uid := range userIDs {
		for _, c := range r.byUser[uid] {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
