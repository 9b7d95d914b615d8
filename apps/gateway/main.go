package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mahaj/academy-chat/pkg/auth"
	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/presence"
	"github.com/mahaj/academy-chat/pkg/snowflake"
	"github.com/mahaj/academy-chat/pkg/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("[GATEWAY] %s", cfg.Redacted())

	history, closeStore, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	// NODE_ID must be unique per gateway instance.
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	gw, err := newGateway(cfg, gatewayDeps{
		Store:         history,
		Permissions:   auth.NewPolicy(auth.NewRedisEnrollments(rdb)),
		PresenceStore: presence.NewRedisStore(rdb),
		IDs:           node,
	})
	if err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw.start(ctx)

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	mux := http.NewServeMux()
	mux.Handle("/ws", newWSHandler(ctx, gw.hub, issuer, cfg.AllowedOrigins, cfg.RateLimitInterval, cfg.RateLimitBurst))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Gateway Service Starting on %s (fanout=%s)...", cfg.GatewayAddr, cfg.FanoutMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"hub": func(ctx context.Context) error {
			cancel()
			if err := gw.close(); err != nil {
				return err
			}
			closeStore()
			return rdb.Close()
		},
	})

	exitCode := <-wait
	if exitCode != 0 {
		log.Printf("Shutdown completed with exit code: %d", exitCode)
		os.Exit(exitCode)
	}
	log.Println("Shutdown completed successfully")
}
