package domain

import "time"

// User represents an application user. Only the fields the relay touches are
// modeled here; the rest of the profile lives with the storage collaborator.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsOnline     bool      `db:"is_online" json:"is_online"`
	LastActiveAt time.Time `db:"last_active_at" json:"last_active_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Room represents a chat conversation with a persistent member list.
type Room struct {
	ID        int64     `db:"id"`
	Name      *string   `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	Path string `json:"path"`
	Type string `json:"type,omitempty"`
}

// Message represents a single chat message. Content is encrypted at rest.
type Message struct {
	ID          int64        `db:"id"`
	RoomID      int64        `db:"room_id"`
	SenderID    int64        `db:"sender_id"`
	Content     string       `db:"content"`
	Attachments []Attachment `db:"attachments"`
	CreatedAt   time.Time    `db:"created_at"`
}

// Notification types mirroring the persisted enum.
const (
	NotificationTypeMessage       = "message"
	NotificationTypeFriendRequest = "friendRequest"
	NotificationTypeSystem        = "system"

	// NotificationTypePresence is ephemeral: delivered in-app only, never
	// persisted or pushed.
	NotificationTypePresence = "presence"
)

// Notification is a persisted notification record.
type Notification struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	Type          string    `db:"type"`
	Content       string    `db:"content"`
	RelatedUserID *int64    `db:"related_user_id"`
	RelatedRoomID *int64    `db:"related_room_id"`
	IsRead        bool      `db:"is_read"`
	CreatedAt     time.Time `db:"created_at"`
}

// NotificationJob is one unit of work for the dispatch queue.
type NotificationJob struct {
	UserID        int64  `json:"user_id"`
	Type          string `json:"type"`
	Content       string `json:"content"`
	RelatedUserID *int64 `json:"related_user_id,omitempty"`
	RelatedRoomID *int64 `json:"related_room_id,omitempty"`

	// Online carries the new state for presence jobs.
	Online bool `json:"online,omitempty"`

	// NotificationID is set once the record has been persisted, so that
	// retries skip persistence and in-app delivery.
	NotificationID *int64 `json:"notification_id,omitempty"`
	Attempts       int    `json:"attempts"`
}

// PushSubscription is one push-delivery endpoint registered by a user device.
type PushSubscription struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Endpoint  string    `db:"endpoint"`
	CreatedAt time.Time `db:"created_at"`
}
