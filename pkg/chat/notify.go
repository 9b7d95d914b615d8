package chat

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/academy-chat/pkg/model"
)

// Dispatcher delivers identity-addressed notifications to live connections.
// An identity with no live connection simply misses the notification.
type Dispatcher struct {
	registry *Registry
	now      func() time.Time
	deliver  func(conns []*Connection, env model.Envelope)
}

func NewDispatcher(registry *Registry, now func() time.Time, deliver func([]*Connection, model.Envelope)) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{registry: registry, now: now, deliver: deliver}
}

// Notify sends a notification event to every live connection of userID and
// returns how many connections it was handed to.
func (d *Dispatcher) Notify(userID string, typ model.NotificationType, title, message string, data map[string]any) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if _, err := model.ParseNotificationType(string(typ)); err != nil || typ == "" {
		return 0, fmt.Errorf("%w: notification type %q", ErrValidation, typ)
	}
	if strings.TrimSpace(title) == "" && strings.TrimSpace(message) == "" {
		return 0, fmt.Errorf("%w: notification needs a title or message", ErrValidation)
	}

	conns := d.registry.connectionsOf([]string{userID})
	if len(conns) == 0 {
		log.Printf("[NOTIFY] %s has no live connections, dropping %q", userID, title)
		return 0, nil
	}

	env, err := model.NewEnvelope(model.EventNotification, model.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	d.deliver(conns, env)
	return len(conns), nil
}

// NotifyRequest is Notify for a record taken off the intake topic.
func (d *Dispatcher) NotifyRequest(req model.NotificationRequest) (int, error) {
	typ, err := model.ParseNotificationType(req.Type)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return d.Notify(req.UserID, typ, req.Title, req.Message, req.Data)
}
