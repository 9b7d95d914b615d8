package chat

import (
	"testing"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 60 * time.Millisecond

func presenceUpdates(t *testing.T, sink *fakeSink, userID string) []model.PresenceState {
	t.Helper()
	var out []model.PresenceState
	for _, e := range sink.named(model.EventPresenceUpdate) {
		if st := decode[model.PresenceState](t, e); st.UserID == userID {
			out = append(out, st)
		}
	}
	return out
}

func newPresenceEnv(t *testing.T) (*testEnv, *fakeSink) {
	env := newTestEnv(t, func(o *Options) { o.PresenceDebounce = testDebounce })
	coach := env.connect(t, "c1", "coach-1")
	env.connect(t, "s1", "student-1")
	env.join(t, "c1", "batch:42")
	env.join(t, "s1", "batch:42")
	return env, coach
}

func TestPresence_OfflineAfterDebounce(t *testing.T) {
	env, coach := newPresenceEnv(t)
	assert.Equal(t, []string{"student-1"}, env.hub.Presence().Peers("coach-1"))

	before := time.Now().UTC()
	env.hub.Disconnect("s1")

	assert.Equal(t, model.StatusOnline, env.hub.Presence().State("student-1").Status, "still online inside the window")
	assert.Empty(t, presenceUpdates(t, coach, "student-1"))

	require.Eventually(t, func() bool {
		return len(presenceUpdates(t, coach, "student-1")) > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(2 * testDebounce)

	updates := presenceUpdates(t, coach, "student-1")
	require.Len(t, updates, 1, "exactly one offline transition")
	assert.Equal(t, model.StatusOffline, updates[0].Status)
	assert.False(t, updates[0].LastSeen.Before(before))
	assert.Equal(t, model.StatusOffline, env.hub.Presence().State("student-1").Status)

	// Coming back is a fresh online transition.
	env.connect(t, "s2", "student-1")
	updates = presenceUpdates(t, coach, "student-1")
	require.Len(t, updates, 2)
	assert.Equal(t, model.StatusOnline, updates[1].Status)
}

func TestPresence_FastReconnectIsSilent(t *testing.T) {
	env, coach := newPresenceEnv(t)

	env.hub.Disconnect("s1")
	env.connect(t, "s1-retry", "student-1")
	time.Sleep(3 * testDebounce)

	assert.Empty(t, presenceUpdates(t, coach, "student-1"))
	assert.Equal(t, model.StatusOnline, env.hub.Presence().State("student-1").Status)
}

func TestPresence_SecondDeviceKeepsOnline(t *testing.T) {
	env, coach := newPresenceEnv(t)
	env.connect(t, "s1-tablet", "student-1")

	env.hub.Disconnect("s1")
	time.Sleep(3 * testDebounce)

	assert.Empty(t, presenceUpdates(t, coach, "student-1"))
}

func TestPresence_MirrorsToStore(t *testing.T) {
	env, _ := newPresenceEnv(t)
	env.hub.Disconnect("s1")

	require.Eventually(t, func() bool {
		env.presence.mu.Lock()
		defer env.presence.mu.Unlock()
		n := len(env.presence.states)
		return n > 0 && env.presence.states[n-1].UserID == "student-1" &&
			env.presence.states[n-1].Status == model.StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func TestPresence_UnknownIdentityIsOffline(t *testing.T) {
	env := newTestEnv(t)
	st := env.hub.Presence().State("nobody")
	assert.Equal(t, model.PresenceState{UserID: "nobody", Status: model.StatusOffline}, st)
}
