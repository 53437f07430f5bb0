package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

func handleRoomHistory(fanout *relay.Fanout, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil || roomID <= 0 {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}
		limit := queryInt(r, "limit", defaultLimit)

		msgs, err := fanout.History(r.Context(), roomID, user.ID, limit)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				http.Error(w, "not a member of this room", http.StatusForbidden)
				return
			}
			log.Printf("history: room %d: %v", roomID, err)
			http.Error(w, "failed to load messages", http.StatusInternalServerError)
			return
		}

		type messageResponse struct {
			ID          int64               `json:"id"`
			RoomID      int64               `json:"roomId"`
			SenderID    int64               `json:"senderId"`
			Text        string              `json:"text"`
			Attachments []domain.Attachment `json:"attachments,omitempty"`
			CreatedAt   string              `json:"createdAt"`
		}
		out := make([]messageResponse, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageResponse{
				ID:          m.ID,
				RoomID:      m.RoomID,
				SenderID:    m.SenderID,
				Text:        m.Content,
				Attachments: m.Attachments,
				CreatedAt:   m.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListNotifications(notifications domain.NotificationRepository, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		limit := queryInt(r, "limit", defaultLimit)

		items, err := notifications.ListForUser(r.Context(), user.ID, limit)
		if err != nil {
			log.Printf("notifications: list for user %d: %v", user.ID, err)
			http.Error(w, "failed to load notifications", http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []*domain.Notification{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleMarkNotificationRead(notifications domain.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		id, err := strconv.ParseInt(chi.URLParam(r, "notificationID"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid notification id", http.StatusBadRequest)
			return
		}
		if err := notifications.MarkRead(r.Context(), id, user.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "notification not found", http.StatusNotFound)
				return
			}
			log.Printf("notifications: mark %d read: %v", id, err)
			http.Error(w, "failed to update notification", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func handleCreateSubscription(subscriptions domain.PushSubscriptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		var in subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Endpoint == "" {
			http.Error(w, "endpoint is required", http.StatusBadRequest)
			return
		}
		sub := &domain.PushSubscription{UserID: user.ID, Endpoint: in.Endpoint}
		if err := subscriptions.Create(r.Context(), sub); err != nil {
			log.Printf("subscriptions: create for user %d: %v", user.ID, err)
			http.Error(w, "failed to register subscription", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	}
}

func handleDeleteSubscription(subscriptions domain.PushSubscriptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		var in subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Endpoint == "" {
			http.Error(w, "endpoint is required", http.StatusBadRequest)
			return
		}
		if err := subscriptions.DeleteByEndpoint(r.Context(), user.ID, in.Endpoint); err != nil {
			log.Printf("subscriptions: delete for user %d: %v", user.ID, err)
			http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}
