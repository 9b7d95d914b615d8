package model

import (
	"encoding/json"
	"time"
)

type EventName string

// Client -> server
const (
	EventJoinRoom    EventName = "join_room"
	EventLeaveRoom   EventName = "leave_room"
	EventSendMessage EventName = "send_message"
	EventTypingStart EventName = "typing_start"
	EventTypingStop  EventName = "typing_stop"
	EventMarkRead    EventName = "mark_read"
	EventHistory     EventName = "history"
)

// Server -> client
const (
	EventNewMessage        EventName = "new_message"
	EventUserTyping        EventName = "user_typing"
	EventUserStoppedTyping EventName = "user_stopped_typing"
	EventNotification      EventName = "notification"
	EventPresenceUpdate    EventName = "presence_update"
	EventRoomJoined        EventName = "room_joined"
	EventRoomLeft          EventName = "room_left"
	EventError             EventName = "error"
	EventReadMarked        EventName = "read_marked"
)

// Envelope is the frame exchanged over the socket and the event bus.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event EventName, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID      string `json:"roomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
}

type HistoryRequest struct {
	RoomID string `json:"roomId"`
	Before int64  `json:"before,string,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type StoppedTypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type RoomAck struct {
	RoomID  string `json:"roomId"`
	Success bool   `json:"success"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ReadMarkedPayload struct {
	RoomID string    `json:"roomId"`
	ReadAt time.Time `json:"readAt"`
}

type HistoryPayload struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// RoomEvent is a room-addressed envelope. ExcludeUserID, when set, suppresses
// delivery to every connection of that identity.
type RoomEvent struct {
	RoomID        string   `json:"roomId"`
	ExcludeUserID string   `json:"excludeUserId,omitempty"`
	Envelope      Envelope `json:"envelope"`
}
