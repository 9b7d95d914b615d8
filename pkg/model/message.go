package model

import (
	"fmt"
	"time"
)

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// ParseMessageType maps the wire value to a MessageType. An empty value means text.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case "":
		return TypeText, nil
	case TypeText, TypeFile, TypeSystem:
		return MessageType(s), nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// ChatMessage is immutable once accepted by the router.
type ChatMessage struct {
	ID          int64       `json:"id,string"`
	RoomID      string      `json:"roomId"`
	SenderID    string      `json:"senderId"`
	SenderEmail string      `json:"senderEmail"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	FileURL     string      `json:"fileUrl,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Page selects a slice of room history. Before is an exclusive message id cursor;
// zero means "latest".
type Page struct {
	Before int64
	Limit  int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Normalize clamps the limit into [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Before < 0 {
		p.Before = 0
	}
	return p
}

type ReadMarker struct {
	RoomID string    `json:"roomId"`
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Conversation is one row of a user's inbox: a room they take part in, its
// latest message and how many messages they have not read.
type Conversation struct {
	UserID        string    `json:"userId"`
	RoomID        string    `json:"roomId"`
	LastMessageID int64     `json:"lastMessageId,string"`
	LastUpdated   time.Time `json:"lastUpdated"`
	UnreadCount   int64     `json:"unreadCount"`
}
