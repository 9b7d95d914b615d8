package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_BroadcastReachesEveryDevice(t *testing.T) {
	env := newTestEnv(t)
	coachPhone := env.connect(t, "c1", "coach-1")
	coachLaptop := env.connect(t, "c2", "coach-1")
	student := env.connect(t, "s1", "student-1")
	outsider := env.connect(t, "o1", "student-2")

	env.join(t, "c1", "batch:42")
	env.join(t, "s1", "batch:42")

	env.send(t, "s1", model.EventSendMessage, model.SendMessageRequest{RoomID: "batch:42", Content: "hello"})

	var ids []int64
	for name, sink := range map[string]*fakeSink{"coach phone": coachPhone, "coach laptop": coachLaptop, "sender": student} {
		got := sink.named(model.EventNewMessage)
		require.Len(t, got, 1, name)
		msg := decode[model.ChatMessage](t, got[0])
		assert.Equal(t, "hello", msg.Content, name)
		assert.Equal(t, "student-1", msg.SenderID, name)
		assert.Equal(t, model.TypeText, msg.MessageType, name)
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[1], ids[2])
	assert.Empty(t, outsider.named(model.EventNewMessage), "student-2 never joined")
	assert.Empty(t, student.named(model.EventError))

	history, err := env.store.ListMessages(context.Background(), "batch:42", model.Page{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ids[0], history[0].ID)
	assert.Equal(t, uint64(1), env.hub.Router().Accepted("batch:42"))
}

func TestRouter_SendRejections(t *testing.T) {
	env := newTestEnv(t)
	sink := env.connect(t, "s1", "student-1")
	env.join(t, "s1", "batch:42")

	tests := []struct {
		name string
		req  model.SendMessageRequest
		code string
	}{
		{"not a member", model.SendMessageRequest{RoomID: "dm:coach-1:student-1", Content: "hi"}, CodeNotInRoom},
		{"empty content", model.SendMessageRequest{RoomID: "batch:42", Content: "  "}, CodeValidation},
		{"unknown type", model.SendMessageRequest{RoomID: "batch:42", Content: "hi", MessageType: "video"}, CodeValidation},
		{"system type", model.SendMessageRequest{RoomID: "batch:42", Content: "hi", MessageType: "system"}, CodeValidation},
		{"file without url", model.SendMessageRequest{RoomID: "batch:42", MessageType: "file"}, CodeValidation},
		{"file with bad url", model.SendMessageRequest{RoomID: "batch:42", MessageType: "file", FileURL: "ftp://x/y"}, CodeValidation},
		{"url on text", model.SendMessageRequest{RoomID: "batch:42", Content: "hi", FileURL: "https://cdn/x.pdf"}, CodeValidation},
		{"too long", model.SendMessageRequest{RoomID: "batch:42", Content: strings.Repeat("a", MaxContentLength+1)}, CodeValidation},
		{"missing room", model.SendMessageRequest{Content: "hi"}, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink.reset()
			env.send(t, "s1", model.EventSendMessage, tt.req)

			errs := sink.named(model.EventError)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, decode[model.ErrorPayload](t, errs[0]).Code)
			assert.Empty(t, sink.named(model.EventNewMessage))
		})
	}
	assert.Zero(t, env.store.Count("batch:42"))
}

func TestRouter_FileMessage(t *testing.T) {
	env := newTestEnv(t)
	sink := env.connect(t, "s1", "student-1")
	env.join(t, "s1", "batch:42")

	msg, err := env.hub.Router().Send(context.Background(), "s1", model.SendMessageRequest{
		RoomID: "batch:42", MessageType: "file", FileURL: "https://cdn.academy.test/games/opening.pgn",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeFile, msg.MessageType)
	assert.Len(t, sink.named(model.EventNewMessage), 1)
}

func TestRouter_PersistenceFailureIsNotBroadcast(t *testing.T) {
	env := newTestEnv(t)
	coach := env.connect(t, "c1", "coach-1")
	student := env.connect(t, "s1", "student-1")
	env.join(t, "c1", "batch:42")
	env.join(t, "s1", "batch:42")

	env.store.fail.Store(true)
	env.send(t, "s1", model.EventSendMessage, model.SendMessageRequest{RoomID: "batch:42", Content: "lost?"})

	errs := student.named(model.EventError)
	require.Len(t, errs, 1)
	payload := decode[model.ErrorPayload](t, errs[0])
	assert.Equal(t, CodePersistence, payload.Code)
	assert.NotContains(t, payload.Message, "scylla", "store internals stay server side")

	assert.Empty(t, coach.named(model.EventNewMessage))
	assert.Empty(t, coach.named(model.EventError), "only the sender hears about it")
	assert.Empty(t, student.named(model.EventNewMessage))
	assert.Zero(t, env.hub.Router().Accepted("batch:42"))

	// The client retries once the store is back.
	env.store.fail.Store(false)
	env.send(t, "s1", model.EventSendMessage, model.SendMessageRequest{RoomID: "batch:42", Content: "lost?"})
	assert.Len(t, coach.named(model.EventNewMessage), 1)
	assert.Equal(t, uint64(1), env.hub.Router().Accepted("batch:42"))
}

func TestRouter_FanoutFailureAfterPersist(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Fanout = failingFanout{} })
	env.connect(t, "s1", "student-1")
	env.join(t, "s1", "batch:42")

	msg, err := env.hub.Router().Send(context.Background(), "s1", model.SendMessageRequest{RoomID: "batch:42", Content: "hi"})
	assert.ErrorIs(t, err, ErrDelivery)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, 1, env.store.Count("batch:42"), "the message stays in history")
}

func TestRouter_ConcurrentSendersSeeOneOrder(t *testing.T) {
	env := newTestEnv(t)
	senders := []string{"coach-1", "student-1", "student-2"}
	sinks := make(map[string]*fakeSink)
	for _, uid := range senders {
		sinks[uid] = env.connect(t, "conn-"+uid, uid)
		env.join(t, "conn-"+uid, "batch:42")
	}

	const perSender = 25
	var wg sync.WaitGroup
	for _, uid := range senders {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := env.hub.Router().Send(context.Background(), "conn-"+uid, model.SendMessageRequest{
					RoomID: "batch:42", Content: fmt.Sprintf("%s-%d", uid, i),
				})
				assert.NoError(t, err)
			}
		}(uid)
	}
	wg.Wait()

	var reference []int64
	for _, uid := range senders {
		var seen []int64
		for _, env := range sinks[uid].named(model.EventNewMessage) {
			seen = append(seen, decode[model.ChatMessage](t, env).ID)
		}
		require.Len(t, seen, perSender*len(senders))
		if reference == nil {
			reference = seen
			continue
		}
		assert.Equal(t, reference, seen, "%s observed a different order", uid)
	}
	assert.IsIncreasing(t, reference)

	history, err := env.store.ListMessages(context.Background(), "batch:42", model.Page{Limit: model.MaxPageLimit})
	require.NoError(t, err)
	for i, m := range history {
		assert.Equal(t, reference[i], m.ID)
	}
}

func TestRouter_Typing(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.TypingTimeout = 50 * time.Millisecond })
	coach := env.connect(t, "c1", "coach-1")
	student := env.connect(t, "s1", "student-1")
	env.join(t, "c1", "dm:coach-1:student-1")
	env.join(t, "s1", "dm:coach-1:student-1")
	room := "dm:coach-1:student-1"

	env.send(t, "s1", model.EventTypingStart, model.RoomRequest{RoomID: room})
	env.send(t, "s1", model.EventTypingStart, model.RoomRequest{RoomID: room})

	typing := coach.named(model.EventUserTyping)
	require.Len(t, typing, 1, "a refresh does not re-announce")
	assert.Equal(t, model.TypingPayload{RoomID: room, UserID: "student-1", Email: "student-1@academy.test"},
		decode[model.TypingPayload](t, typing[0]))
	assert.Empty(t, student.named(model.EventUserTyping), "the typist does not hear itself")

	assert.Eventually(t, func() bool {
		return len(coach.named(model.EventUserStoppedTyping)) == 1
	}, time.Second, 5*time.Millisecond, "typing clears after the timeout")
	assert.False(t, env.hub.Router().typing.isTyping(room, "student-1"))

	// Sending clears typing immediately.
	coach.reset()
	env.send(t, "s1", model.EventTypingStart, model.RoomRequest{RoomID: room})
	env.send(t, "s1", model.EventSendMessage, model.SendMessageRequest{RoomID: room, Content: "e4"})
	require.Len(t, coach.named(model.EventUserStoppedTyping), 1)
	assert.False(t, env.hub.Router().typing.isTyping(room, "student-1"))

	// An explicit stop for a non-typist emits nothing.
	coach.reset()
	env.send(t, "s1", model.EventTypingStop, model.RoomRequest{RoomID: room})
	assert.Empty(t, coach.named(model.EventUserStoppedTyping))

	outsider := env.connect(t, "o1", "student-2")
	env.send(t, "o1", model.EventTypingStart, model.RoomRequest{RoomID: room})
	errs := outsider.named(model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeNotInRoom, decode[model.ErrorPayload](t, errs[0]).Code)
}

func TestRouter_TypingClearsOnLeave(t *testing.T) {
	env := newTestEnv(t)
	coach := env.connect(t, "c1", "coach-1")
	env.connect(t, "s1", "student-1")
	env.join(t, "c1", "batch:42")
	env.join(t, "s1", "batch:42")

	env.send(t, "s1", model.EventTypingStart, model.RoomRequest{RoomID: "batch:42"})
	env.hub.Disconnect("s1")

	assert.Len(t, coach.named(model.EventUserStoppedTyping), 1)
	assert.False(t, env.hub.Router().typing.isTyping("batch:42", "student-1"))
}

func TestHub_MarkReadAndHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	env := newTestEnv(t, func(o *Options) { o.Now = func() time.Time { return now } })
	sink := env.connect(t, "s1", "student-1")
	env.join(t, "s1", "batch:42")

	for i := 0; i < 3; i++ {
		env.send(t, "s1", model.EventSendMessage, model.SendMessageRequest{RoomID: "batch:42", Content: fmt.Sprint("move ", i)})
	}

	env.send(t, "s1", model.EventMarkRead, model.RoomRequest{RoomID: "batch:42"})
	marks := sink.named(model.EventReadMarked)
	require.Len(t, marks, 1)
	assert.True(t, decode[model.ReadMarkedPayload](t, marks[0]).ReadAt.Equal(now))

	marker, err := env.store.ReadMarker(context.Background(), "batch:42", "student-1")
	require.NoError(t, err)
	assert.True(t, marker.Equal(now))

	env.send(t, "s1", model.EventHistory, model.HistoryRequest{RoomID: "batch:42", Before: 3, Limit: 10})
	pages := sink.named(model.EventHistory)
	require.Len(t, pages, 1)
	page := decode[model.HistoryPayload](t, pages[0])
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "move 0", page.Messages[0].Content)
	assert.Equal(t, "move 1", page.Messages[1].Content)

	sink.reset()
	env.send(t, "s1", model.EventMarkRead, model.RoomRequest{RoomID: "batch:7"})
	errs := sink.named(model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeNotInRoom, decode[model.ErrorPayload](t, errs[0]).Code)
}

func TestHub_MalformedEvents(t *testing.T) {
	env := newTestEnv(t)
	sink := env.connect(t, "s1", "student-1")

	env.hub.HandleEvent(context.Background(), "s1", model.Envelope{Event: "resign"})
	env.hub.HandleEvent(context.Background(), "s1", model.Envelope{Event: model.EventSendMessage, Data: []byte(`"hello"`)})

	errs := sink.named(model.EventError)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, CodeBadRequest, decode[model.ErrorPayload](t, e).Code)
	}
}

func TestHub_SlowConsumerIsEvicted(t *testing.T) {
	env := newTestEnv(t)
	slow := &fakeSink{limit: 1}
	require.NoError(t, env.hub.Connect("c1", model.Identity{ID: "coach-1"}, slow))
	env.connect(t, "s1", "student-1")
	env.join(t, "c1", "batch:42")
	env.join(t, "s1", "batch:42")

	for i := 0; i < 3; i++ {
		_, err := env.hub.Router().Send(context.Background(), "s1", model.SendMessageRequest{RoomID: "batch:42", Content: "blitz"})
		require.NoError(t, err)
	}
	assert.True(t, slow.isClosed())
}
