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
	"github.com/mahaj/academy-chat/pkg/bus"
	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/presence"
	"github.com/mahaj/academy-chat/pkg/store"
	"github.com/redis/go-redis/v9"
)

type apiStore interface {
	historyReader
	conversationReader
	readMarker
}

type apiDeps struct {
	Issuer   *auth.Issuer
	Store    apiStore
	Perms    roomAccess
	Presence presenceReader
	Notifier notificationPublisher
	Origins  []string
	Now      func() time.Time
	// DevLogin mounts POST /login, which signs a token for any identity.
	DevLogin bool
}

func newRouter(d apiDeps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	authed := AuthMiddleware(d.Issuer)
	presenceHandler := NewPresenceHandler(d.Presence, d.Perms)

	mux := http.NewServeMux()
	// Public endpoints
	if d.DevLogin {
		mux.Handle("POST /login", LoginHandler(d.Issuer))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Protected endpoints
	mux.Handle("GET /history", authed(NewHistoryHandler(d.Store, d.Perms)))
	mux.Handle("GET /rooms/{id}/online", authed(http.HandlerFunc(presenceHandler.RoomOnline)))
	mux.Handle("GET /presence/{userId}", authed(http.HandlerFunc(presenceHandler.UserPresence)))
	mux.Handle("GET /conversations", authed(ConversationsHandler(d.Store)))
	mux.Handle("POST /rooms/read", authed(ReadHandler(d.Store, d.Perms, d.Now)))
	mux.Handle("POST /notify", authed(NotifyHandler(d.Notifier)))

	return CORSMiddleware(d.Origins)(mux)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("[API] %s", cfg.Redacted())
	if cfg.DevLogin() {
		log.Println("[API] Development login enabled: POST /login signs tokens for any identity")
	}

	history, closeStore, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	notifier := bus.NewNotificationWriter(cfg.KafkaBrokers, cfg.KafkaNotificationsTopic)

	srv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: newRouter(apiDeps{
			Issuer:   auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
			Store:    history,
			Perms:    auth.NewPolicy(auth.NewRedisEnrollments(rdb)),
			Presence: presence.NewRedisStore(rdb),
			Notifier: notifier,
			Origins:  cfg.AllowedOrigins,
			DevLogin: cfg.DevLogin(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("API Service Starting on %s...", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			closeStore()
			return errors.Join(notifier.Close(), rdb.Close())
		},
	})

	exitCode := <-wait
	if exitCode != 0 {
		log.Printf("Shutdown completed with exit code: %d", exitCode)
		os.Exit(exitCode)
	}
	log.Println("Shutdown completed successfully")
}
