package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/httpserver"
	"chatrelay/internal/moderation"
	"chatrelay/internal/notify"
	"chatrelay/internal/push"
	"chatrelay/internal/relay"
	"chatrelay/internal/security"
	"chatrelay/internal/store/postgres"
	"chatrelay/internal/store/sqlite"
)

type repos struct {
	users         domain.UserRepository
	rooms         domain.RoomRepository
	messages      domain.MessageRepository
	notifications domain.NotificationRepository
	subscriptions domain.PushSubscriptionRepository
}

func openStore(cfg *config.Config) (*sql.DB, repos, error) {
	if cfg.UsesPostgres() {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repos{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			return nil, repos{}, err
		}
		return db, repos{
			users:         postgres.NewUserRepo(db),
			rooms:         postgres.NewRoomRepo(db),
			messages:      postgres.NewMessageRepo(db),
			notifications: postgres.NewNotificationRepo(db),
			subscriptions: postgres.NewSubscriptionRepo(db),
		}, nil
	}

	db, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, repos{}, err
	}
	if err := sqlite.Migrate(db); err != nil {
		return nil, repos{}, err
	}
	return db, repos{
		users:         sqlite.NewUserRepo(db),
		rooms:         sqlite.NewRoomRepo(db),
		messages:      sqlite.NewMessageRepo(db),
		notifications: sqlite.NewNotificationRepo(db),
		subscriptions: sqlite.NewSubscriptionRepo(db),
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, rs, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stale persisted presence from a previous process is never trusted:
	// everyone is offline until they reconnect.
	if err := rs.users.MarkAllOffline(ctx); err != nil {
		log.Fatalf("failed to reset presence state: %v", err)
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		log.Fatalf("failed to initialize encryptor: %v", err)
	}

	var moderator domain.Moderator
	if cfg.ModerationURL != "" {
		moderator = moderation.NewClient(cfg.ModerationURL, cfg.ModerationKey)
	}

	var backend notify.Backend
	if cfg.RedisAddr != "" {
		redisBackend, err := notify.NewRedisBackend(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisBackend.Close()
		backend = redisBackend
	} else {
		backend = notify.NewMemoryBackend(0)
	}

	registry := relay.NewRegistry()
	rooms := relay.NewRooms(rs.rooms, registry)
	typing := relay.NewTyping(rooms, registry, cfg.TypingTimeout)
	calls := relay.NewCalls(registry, cfg.RingTimeout)

	queue := notify.NewQueue(backend, rs.notifications, rs.subscriptions, push.NewSender(), registry, notify.Config{
		Workers:     cfg.QueueWorkers,
		MaxAttempts: cfg.PushMaxAttempts,
		BaseBackoff: cfg.PushRetryBackoff,
	})
	presence := relay.NewPresence(registry, rs.users, queue, cfg.PresenceStaleAfter)
	fanout := relay.NewFanout(rooms, rs.rooms, rs.messages, moderator, encryptor, queue)

	go rooms.Run(ctx)
	go typing.Run(ctx)
	go calls.Run(ctx)
	go presence.Run(ctx)
	go queue.Run(ctx)

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Registry:      registry,
		Rooms:         rooms,
		Typing:        typing,
		Fanout:        fanout,
		Calls:         calls,
		Presence:      presence,
		Tokens:        tokenSvc,
		Users:         rs.users,
		Notifications: rs.notifications,
		Subscriptions: rs.subscriptions,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting %s on %s\n", cfg.AppName, cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	cancel()
}
