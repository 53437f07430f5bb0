package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users and their presence
// snapshot.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	SetPresence(ctx context.Context, id int64, isOnline bool, lastActiveAt time.Time) error
	// MarkAllOffline resets every persisted online flag; run at startup so
	// stale state from a previous process is never trusted.
	MarkAllOffline(ctx context.Context) error
	FriendIDs(ctx context.Context, id int64) ([]int64, error)
}

// RoomRepository exposes persistent room membership.
type RoomRepository interface {
	MemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListForRoom(ctx context.Context, roomID int64, limit int) ([]*Message, error)
}

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
}

// PushSubscriptionRepository manages a user's push-delivery endpoints.
type PushSubscriptionRepository interface {
	Create(ctx context.Context, s *PushSubscription) error
	ListForUser(ctx context.Context, userID int64) ([]*PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, userID int64, endpoint string) error
}
