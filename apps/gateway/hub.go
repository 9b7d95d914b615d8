package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mahaj/academy-chat/pkg/bus"
	"github.com/mahaj/academy-chat/pkg/chat"
	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/model"
)

// gateway owns the chat hub and the Kafka plumbing around it.
type gateway struct {
	hub *chat.Hub

	fanout        *bus.KafkaFanout
	events        *bus.Consumer
	notifications *bus.Consumer

	wg sync.WaitGroup
}

type gatewayDeps struct {
	Store         chat.Store
	Permissions   chat.Permissions
	PresenceStore chat.PresenceStore
	IDs           chat.IDGenerator
}

func newGateway(cfg *config.Config, deps gatewayDeps) (*gateway, error) {
	g := &gateway{}

	// Each gateway needs every record on both topics, so each reads in a
	// group of its own.
	group := fmt.Sprintf("gateway-%d-%s", cfg.NodeID, uuid.NewString()[:8])

	var fanout chat.Fanout
	if cfg.FanoutMode == config.FanoutKafka {
		g.fanout = bus.NewKafkaFanout(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		g.events = bus.NewBroadcastConsumer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, group)
		fanout = g.fanout
	} else {
		g.fanout = bus.NewEventJournal(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		fanout = journaledFanout{g: g, journal: g.fanout}
	}
	g.notifications = bus.NewBroadcastConsumer(cfg.KafkaBrokers, cfg.KafkaNotificationsTopic, group)

	hub, err := newHub(cfg, deps, fanout)
	if err != nil {
		return nil, err
	}
	g.hub = hub
	return g, nil
}

func newHub(cfg *config.Config, deps gatewayDeps, fanout chat.Fanout) (*chat.Hub, error) {
	return chat.NewHub(chat.Options{
		Store:            deps.Store,
		Permissions:      deps.Permissions,
		PresenceStore:    deps.PresenceStore,
		IDs:              deps.IDs,
		Fanout:           fanout,
		TypingTimeout:    cfg.TypingTimeout,
		PresenceDebounce: cfg.PresenceDebounce,
	})
}

// journaledFanout delivers through this gateway only and copies accepted
// messages to the events topic, which the conversation projector reads.
// Journal failures are logged; the message is already stored and delivered.
type journaledFanout struct {
	g       *gateway
	journal chat.Fanout
}

func (f journaledFanout) Publish(ctx context.Context, ev model.RoomEvent) error {
	f.g.hub.DeliverRoomEvent(ev)
	if ev.Envelope.Event != model.EventNewMessage {
		return nil
	}
	if err := f.journal.Publish(ctx, ev); err != nil {
		log.Printf("[GATEWAY] Failed to journal message in %s: %v", ev.RoomID, err)
	}
	return nil
}

func (g *gateway) start(ctx context.Context) {
	if g.events != nil {
		g.run(ctx, g.events, bus.RoomEvents(g.deliverRoomEvent))
	}
	g.run(ctx, g.notifications, bus.Notifications(g.deliverNotification))
}

func (g *gateway) run(ctx context.Context, c *bus.Consumer, handle func(context.Context, []byte) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := c.Run(ctx, handle); err != nil {
			log.Printf("[GATEWAY] Consumer stopped: %v", err)
		}
	}()
}

func (g *gateway) deliverRoomEvent(_ context.Context, ev model.RoomEvent) error {
	g.hub.DeliverRoomEvent(ev)
	return nil
}

func (g *gateway) deliverNotification(_ context.Context, req model.NotificationRequest) error {
	n, err := g.hub.Notifications().NotifyRequest(req)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[GATEWAY] Notification for %s delivered to %d connections", req.UserID, n)
	}
	return nil
}

// close stops the consumers (ctx passed to start must already be cancelled)
// and then the hub.
func (g *gateway) close() error {
	g.wg.Wait()
	g.hub.Shutdown()

	var errs []error
	for _, c := range []*bus.Consumer{g.events, g.notifications} {
		if c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if g.fanout != nil {
		if err := g.fanout.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close gateway: %v", errs)
	}
	return nil
}
