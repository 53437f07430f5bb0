package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
	"chatrelay/internal/ws"
)

// Deps collects everything the router wires together.
type Deps struct {
	Registry *relay.Registry
	Rooms    *relay.Rooms
	Typing   *relay.Typing
	Fanout   *relay.Fanout
	Calls    *relay.Calls
	Presence *relay.Presence

	Tokens        domain.TokenVerifier
	Users         domain.UserRepository
	Notifications domain.NotificationRepository
	Subscriptions domain.PushSubscriptionRepository
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The request timeout covers REST only. Websocket sessions are
	// long-lived and must not inherit a deadline.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"message": cfg.AppName,
				"version": "1.0.0",
			})
		})

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Users))

			r.Get("/rooms/{roomID}/messages", handleRoomHistory(d.Fanout, cfg.HistoryLimit))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", handleListNotifications(d.Notifications, cfg.HistoryLimit))
				r.Post("/{notificationID}/read", handleMarkNotificationRead(d.Notifications))
			})

			r.Route("/push/subscriptions", func(r chi.Router) {
				r.Post("/", handleCreateSubscription(d.Subscriptions))
				r.Delete("/", handleDeleteSubscription(d.Subscriptions))
			})
		})
	})

	r.Get("/ws", ws.MakeHandler(
		d.Registry, d.Rooms, d.Typing, d.Fanout, d.Calls, d.Presence,
		d.Tokens, d.Users, cfg.CORSOrigins,
	))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
