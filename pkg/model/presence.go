package model

import (
	"fmt"
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type PresenceState struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

func ParseNotificationType(s string) (NotificationType, error) {
	switch NotificationType(s) {
	case "":
		return NotifyInfo, nil
	case NotifyInfo, NotifySuccess, NotifyWarning, NotifyError:
		return NotificationType(s), nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NotificationRequest is the intake record other services publish for delivery.
type NotificationRequest struct {
	UserID  string         `json:"userId"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
