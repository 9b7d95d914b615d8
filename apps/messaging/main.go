package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mahaj/academy-chat/pkg/auth"
	"github.com/mahaj/academy-chat/pkg/bus"
	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/store"
	"github.com/redis/go-redis/v9"
)

const groupID = "messaging-projector"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	history, closeStore, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	projector := NewProjector(history, auth.NewRedisEnrollments(rdb))
	consumer := bus.NewGroupConsumer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, groupID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Println("Starting Kafka Consumer...")
		if err := consumer.Run(ctx, bus.RoomEvents(projector.Handle)); err != nil {
			log.Printf("Consumer stopped: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"consumer": func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			closeStore()
			if err := rdb.Close(); err != nil {
				return err
			}
			return consumer.Close()
		},
	})

	exitCode := <-wait
	if exitCode != 0 {
		log.Printf("Shutdown completed with exit code: %d", exitCode)
		os.Exit(exitCode)
	}
	log.Println("Shutdown completed successfully")
}
