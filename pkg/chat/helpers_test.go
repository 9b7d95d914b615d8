package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
	"github.com/mahaj/academy-chat/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	events []model.Envelope
	limit  int
	closed bool
}

func (s *fakeSink) Deliver(env model.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.limit > 0 && len(s.events) >= s.limit) {
		return false
	}
	s.events = append(s.events, env)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) named(event model.EventName) []model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Envelope
	for _, e := range s.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func decode[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// roomPerms allows dm participants and the batch members listed in batches.
type roomPerms struct {
	batches map[string][]string
	err     error
}

func (p roomPerms) CanAccessRoom(_ context.Context, identity model.Identity, roomID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	id, err := room.Parse(roomID)
	if err != nil {
		return false, err
	}
	if id.Kind == room.KindDirect {
		return id.HasParticipant(identity.ID), nil
	}
	for _, uid := range p.batches[id.BatchID] {
		if uid == identity.ID {
			return true, nil
		}
	}
	return false, nil
}

type counterIDs struct {
	n atomic.Int64
}

func (c *counterIDs) Generate() int64 { return c.n.Add(1) }

type failingStore struct {
	*store.MemoryStore
	fail atomic.Bool
}

func (s *failingStore) SaveMessage(ctx context.Context, m model.ChatMessage) error {
	if s.fail.Load() {
		return errors.New("scylla: no hosts available")
	}
	return s.MemoryStore.SaveMessage(ctx, m)
}

type failingFanout struct{}

func (failingFanout) Publish(context.Context, model.RoomEvent) error {
	return errors.New("kafka: leader not available")
}

type recordingPresenceStore struct {
	mu     sync.Mutex
	states []model.PresenceState
	online map[string]map[string]bool
}

func (r *recordingPresenceStore) SetState(_ context.Context, st model.PresenceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

func (r *recordingPresenceStore) JoinRoom(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.online == nil {
		r.online = make(map[string]map[string]bool)
	}
	if r.online[roomID] == nil {
		r.online[roomID] = make(map[string]bool)
	}
	r.online[roomID][userID] = true
	return nil
}

func (r *recordingPresenceStore) LeaveRoom(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online[roomID], userID)
	return nil
}

func (r *recordingPresenceStore) isOnline(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[roomID][userID]
}

type testEnv struct {
	hub      *Hub
	store    *failingStore
	presence *recordingPresenceStore
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    &failingStore{MemoryStore: store.NewMemoryStore()},
		presence: &recordingPresenceStore{},
	}
	opts := Options{
		Store: env.store,
		Permissions: roomPerms{batches: map[string][]string{
			"42": {"coach-1", "student-1", "student-2"},
		}},
		IDs:              &counterIDs{},
		PresenceStore:    env.presence,
		TypingTimeout:    time.Minute,
		PresenceDebounce: time.Minute,
	}
	for _, m := range mutate {
		m(&opts)
	}
	hub, err := NewHub(opts)
	require.NoError(t, err)
	t.Cleanup(hub.Shutdown)
	env.hub = hub
	return env
}

func (e *testEnv) connect(t *testing.T, connID, userID string) *fakeSink {
	t.Helper()
	sink := &fakeSink{}
	require.NoError(t, e.hub.Connect(connID, model.Identity{ID: userID, Email: userID + "@academy.test", Role: model.RoleCustomer}, sink))
	return sink
}

func (e *testEnv) send(t *testing.T, connID string, event model.EventName, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(event, payload)
	require.NoError(t, err)
	e.hub.HandleEvent(context.Background(), connID, env)
}

func (e *testEnv) join(t *testing.T, connID, roomID string) {
	t.Helper()
	ok, err := e.hub.Rooms().Join(context.Background(), connID, roomID)
	require.NoError(t, err)
	require.True(t, ok)
}
