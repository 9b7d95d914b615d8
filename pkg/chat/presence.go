package chat

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

type presenceEntry struct {
	state model.PresenceState
	// pending is the debounce timer armed when the last connection closed.
	pending *time.Timer
	gen     uint64
}

// Presence runs the offline -> online -> offline state machine per identity.
// Going offline waits out a debounce window so a quick reconnect produces no
// transition at all.
//
// Updates go to the identity's peers: every identity that has shared a room
// with it during this process's lifetime.
type Presence struct {
	registry *Registry
	store    PresenceStore
	debounce time.Duration
	now      func() time.Time
	deliver  func(userIDs []string, env model.Envelope)

	mu      sync.Mutex
	entries map[string]*presenceEntry
	peers   map[string]map[string]struct{}
}

func NewPresence(registry *Registry, store PresenceStore, debounce time.Duration, now func() time.Time,
	deliver func(userIDs []string, env model.Envelope)) *Presence {
	if store == nil {
		store = nopPresenceStore{}
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{
		registry: registry,
		store:    store,
		debounce: debounce,
		now:      now,
		deliver:  deliver,
		entries:  make(map[string]*presenceEntry),
		peers:    make(map[string]map[string]struct{}),
	}
}

func (p *Presence) entry(userID string) *presenceEntry {
	e, ok := p.entries[userID]
	if !ok {
		e = &presenceEntry{state: model.PresenceState{UserID: userID, Status: model.StatusOffline}}
		p.entries[userID] = e
	}
	return e
}

// connected handles the identity's first live connection.
func (p *Presence) connected(userID string) {
	p.mu.Lock()
	e := p.entry(userID)
	if e.pending != nil {
		// Reconnected inside the debounce window.
		e.pending.Stop()
		e.pending = nil
		e.gen++
		p.mu.Unlock()
		return
	}
	if e.state.Status == model.StatusOnline {
		p.mu.Unlock()
		return
	}
	e.state = model.PresenceState{UserID: userID, Status: model.StatusOnline, LastSeen: p.now().UTC()}
	st := e.state
	peers := p.peersLocked(userID)
	p.mu.Unlock()

	p.publish(st, peers)
}

// disconnected arms the offline debounce after the last connection closed at.
func (p *Presence) disconnected(userID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(userID)
	if e.pending != nil {
		e.pending.Stop()
	}
	e.gen++
	gen := e.gen
	e.pending = time.AfterFunc(p.debounce, func() { p.expire(userID, gen, at) })
}

func (p *Presence) expire(userID string, gen uint64, at time.Time) {
	p.mu.Lock()
	e := p.entry(userID)
	if e.gen != gen || e.pending == nil {
		p.mu.Unlock()
		return
	}
	e.pending = nil
	if p.registry.Online(userID) || e.state.Status == model.StatusOffline {
		p.mu.Unlock()
		return
	}
	e.state = model.PresenceState{UserID: userID, Status: model.StatusOffline, LastSeen: at.UTC()}
	st := e.state
	peers := p.peersLocked(userID)
	p.mu.Unlock()

	p.publish(st, peers)
}

func (p *Presence) publish(st model.PresenceState, peers []string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceStoreTimeout)
	defer cancel()
	if err := p.store.SetState(ctx, st); err != nil {
		log.Printf("[PRESENCE] Failed to store %s for %s: %v", st.Status, st.UserID, err)
	}

	log.Printf("[PRESENCE] %s is %s (%d peers)", st.UserID, st.Status, len(peers))
	if len(peers) == 0 {
		return
	}
	env, err := model.NewEnvelope(model.EventPresenceUpdate, st)
	if err != nil {
		return
	}
	p.deliver(peers, env)
}

// notePeers records that userID now shares a room with others.
func (p *Presence) notePeers(userID string, others []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range others {
		if o == userID {
			continue
		}
		p.addPeerLocked(userID, o)
		p.addPeerLocked(o, userID)
	}
}

func (p *Presence) addPeerLocked(a, b string) {
	set := p.peers[a]
	if set == nil {
		set = make(map[string]struct{})
		p.peers[a] = set
	}
	set[b] = struct{}{}
}

func (p *Presence) peersLocked(userID string) []string {
	out := make([]string, 0, len(p.peers[userID]))
	for id := range p.peers[userID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// State returns the current presence of userID. Unknown identities are offline.
func (p *Presence) State(userID string) model.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[userID]; ok {
		return e.state
	}
	return model.PresenceState{UserID: userID, Status: model.StatusOffline}
}

// Peers returns the identities that would receive userID's presence updates.
func (p *Presence) Peers(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peersLocked(userID)
}

func (p *Presence) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.pending != nil {
			e.pending.Stop()
			e.pending = nil
		}
		e.gen++
	}
}
