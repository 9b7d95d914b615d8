package chat

import (
	"sync"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

type typingKey struct {
	roomID, userID string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingTracker holds ephemeral (room, identity) typing pairs. A pair clears on
// an explicit stop, on a send, when the identity leaves the room, or when no
// refresh arrives within timeout.
type typingTracker struct {
	timeout time.Duration
	emit    func(model.RoomEvent)

	mu      sync.Mutex
	gen     uint64
	entries map[typingKey]*typingEntry
}

func newTypingTracker(timeout time.Duration, emit func(model.RoomEvent)) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		emit:    emit,
		entries: make(map[typingKey]*typingEntry),
	}
}

// start marks identity as typing in roomID, or refreshes the timeout if it
// already is. Only the first start emits user_typing.
func (t *typingTracker) start(roomID string, identity model.Identity) {
	key := typingKey{roomID, identity.ID}

	t.mu.Lock()
	e, refreshing := t.entries[key]
	if refreshing {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.entries[key] = e
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
	t.mu.Unlock()

	if !refreshing {
		env, _ := model.NewEnvelope(model.EventUserTyping, model.TypingPayload{
			RoomID: roomID, UserID: identity.ID, Email: identity.Email,
		})
		t.emit(model.RoomEvent{RoomID: roomID, ExcludeUserID: identity.ID, Envelope: env})
	}
}

// stop clears the pair and reports whether it was set.
func (t *typingTracker) stop(roomID, userID string) bool {
	key := typingKey{roomID, userID}

	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		e.timer.Stop()
		delete(t.entries, key)
	}
	t.mu.Unlock()

	if ok {
		t.emitStopped(key)
	}
	return ok
}

func (t *typingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.emitStopped(key)
}

func (t *typingTracker) emitStopped(key typingKey) {
	env, _ := model.NewEnvelope(model.EventUserStoppedTyping, model.StoppedTypingPayload{
		RoomID: key.roomID, UserID: key.userID,
	})
	t.emit(model.RoomEvent{RoomID: key.roomID, ExcludeUserID: key.userID, Envelope: env})
}

func (t *typingTracker) isTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{roomID, userID}]
	return ok
}

// stopAll cancels every timer without emitting.
func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
