// Package bus carries room events and notification requests over Kafka.
//
// Room events are keyed by room id so one room always lands on one
// partition; that keeps the per-room order the router produced.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/segmentio/kafka-go"
)

const retryDelay = time.Second

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// KafkaFanout publishes room events for every gateway to deliver.
type KafkaFanout struct {
	writer *kafka.Writer
}

func NewKafkaFanout(brokers []string, topic string) *KafkaFanout {
	return &KafkaFanout{writer: newWriter(brokers, topic)}
}

// NewEventJournal publishes room events without waiting for the broker.
// Batches the broker rejects are logged and dropped.
func NewEventJournal(brokers []string, topic string) *KafkaFanout {
	w := newWriter(brokers, topic)
	w.Async = true
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			log.Printf("[BUS] Dropped %d records for %s: %v", len(messages), topic, err)
		}
	}
	return &KafkaFanout{writer: w}
}

// Publish returns once the broker has acknowledged the event, or at once for
// a journal.
func (f *KafkaFanout) Publish(ctx context.Context, ev model.RoomEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode room event: %w", err)
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RoomID), Value: value}); err != nil {
		return fmt.Errorf("publish to %s: %w", f.writer.Topic, err)
	}
	return nil
}

func (f *KafkaFanout) Close() error {
	return f.writer.Close()
}

// NotificationWriter enqueues notification requests for the gateways.
type NotificationWriter struct {
	writer *kafka.Writer
}

func NewNotificationWriter(brokers []string, topic string) *NotificationWriter {
	return &NotificationWriter{writer: newWriter(brokers, topic)}
}

func (w *NotificationWriter) Publish(ctx context.Context, req model.NotificationRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := w.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.UserID), Value: value}); err != nil {
		return fmt.Errorf("publish to %s: %w", w.writer.Topic, err)
	}
	return nil
}

func (w *NotificationWriter) Close() error {
	return w.writer.Close()
}

// Consumer reads one topic in a consumer group.
type Consumer struct {
	reader *kafka.Reader
	name   string
}

// NewBroadcastConsumer joins a group of its own, so this process sees every
// record on the topic. It starts at the tail: a fresh gateway has no sockets
// that could want older events.
func NewBroadcastConsumer(brokers []string, topic, groupID string) *Consumer {
	return newConsumer(brokers, topic, groupID, kafka.LastOffset)
}

// NewGroupConsumer shares the topic's partitions with the rest of groupID and
// resumes from the group's committed offsets.
func NewGroupConsumer(brokers []string, topic, groupID string) *Consumer {
	return newConsumer(brokers, topic, groupID, kafka.FirstOffset)
}

func newConsumer(brokers []string, topic, groupID string, start int64) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     250 * time.Millisecond,
	})
	return &Consumer{reader: r, name: topic + "/" + groupID}
}

// Run feeds every record to handle until ctx is cancelled. A handler error is
// logged and the record skipped; read errors are retried.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, value []byte) error) error {
	log.Printf("[BUS] Consuming %s", c.name)
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Printf("[BUS] Error reading %s: %v. Retrying in %s...", c.name, err, retryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		if err := handle(ctx, m.Value); err != nil {
			log.Printf("[BUS] Skipping %s offset %d: %v", c.name, m.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// RoomEvents adapts fn to Consumer.Run for the room event topic.
func RoomEvents(fn func(ctx context.Context, ev model.RoomEvent) error) func(context.Context, []byte) error {
	return func(ctx context.Context, value []byte) error {
		ev, err := DecodeRoomEvent(value)
		if err != nil {
			return err
		}
		return fn(ctx, ev)
	}
}

// Notifications adapts fn to Consumer.Run for the notification topic.
func Notifications(fn func(ctx context.Context, req model.NotificationRequest) error) func(context.Context, []byte) error {
	return func(ctx context.Context, value []byte) error {
		var req model.NotificationRequest
		if err := json.Unmarshal(value, &req); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		return fn(ctx, req)
	}
}

func DecodeRoomEvent(value []byte) (model.RoomEvent, error) {
	var ev model.RoomEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return model.RoomEvent{}, fmt.Errorf("decode room event: %w", err)
	}
	if ev.RoomID == "" || ev.Envelope.Event == "" {
		return model.RoomEvent{}, errors.New("decode room event: missing room or event name")
	}
	return ev, nil
}
