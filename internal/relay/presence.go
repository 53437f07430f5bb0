package relay

import (
	"context"
	"log"
	"time"

	"chatrelay/internal/domain"
)

// NotificationEnqueuer pushes jobs onto the notification dispatch queue.
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, job domain.NotificationJob) error
}

// Presence tracks online/offline transitions and tells a user's social graph
// about them. It keeps no online set of its own: the connection registry is
// the single source of truth for who is online.
type Presence struct {
	registry    *Registry
	users       domain.UserRepository
	notify      NotificationEnqueuer
	staleAfter  time.Duration
	disconnects <-chan Disconnect

	// locks serializes transitions per user so a queued offline cannot
	// interleave with a concurrent reconnect's online.
	locks keyedMutex
}

func NewPresence(registry *Registry, users domain.UserRepository, notify NotificationEnqueuer, staleAfter time.Duration) *Presence {
	return &Presence{
		registry:    registry,
		users:       users,
		notify:      notify,
		staleAfter:  staleAfter,
		disconnects: registry.Subscribe("presence"),
	}
}

// HandleConnect records the online transition when a user's first connection
// registers. Later connections of the same user change nothing.
func (p *Presence) HandleConnect(ctx context.Context, userID int64, first bool) {
	if !first {
		return
	}
	p.transition(ctx, userID, true)
}

// IsOnline reports whether a user is online. Live registry state wins; a
// persisted snapshot (written by another instance) is only honored while its
// last-active timestamp is fresher than the stale threshold.
func (p *Presence) IsOnline(ctx context.Context, userID int64) bool {
	if p.registry.CountForUser(userID) > 0 {
		return true
	}
	u, err := p.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return false
	}
	return u.IsOnline && time.Since(u.LastActiveAt) < p.staleAfter
}

// Run reacts to registry disconnects, recording the offline transition when a
// user's last connection drops. Blocks until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.disconnects:
			if ev.LastForUser {
				p.transition(ctx, ev.UserID, false)
			}
		}
	}
}

func (p *Presence) transition(ctx context.Context, userID int64, online bool) {
	mu := p.locks.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	// A queued transition can be stale by the time it runs: the user may have
	// reconnected behind a pending offline, or dropped behind a pending
	// online. The registry is the source of truth; skip writes it contradicts.
	if online != (p.registry.CountForUser(userID) > 0) {
		return
	}

	if err := p.users.SetPresence(ctx, userID, online, time.Now()); err != nil {
		log.Printf("presence: persist status for user %d: %v", userID, err)
	}

	friends, err := p.users.FriendIDs(ctx, userID)
	if err != nil {
		log.Printf("presence: load friends of user %d: %v", userID, err)
		return
	}
	for _, friendID := range friends {
		job := domain.NotificationJob{
			UserID:        friendID,
			Type:          domain.NotificationTypePresence,
			RelatedUserID: &userID,
			Online:        online,
		}
		if err := p.notify.Enqueue(ctx, job); err != nil {
			log.Printf("presence: enqueue status change for friend %d: %v", friendID, err)
		}
	}
}
