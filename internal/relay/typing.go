package relay

import (
	"context"
	"sync"
	"time"
)

// Typing tracks ephemeral "is typing" state per (room, user) with a bounded
// lifetime. Expiry is proactive: a timer fires the removal and broadcasts the
// stop event, so stale indicators never outlive the timeout.
type Typing struct {
	rooms       *Rooms
	registry    *Registry
	timeout     time.Duration
	disconnects <-chan Disconnect

	shards [shardCount]typingShard
}

type typingKey struct {
	roomID int64
	userID int64
}

type typingEntry struct {
	timer     *time.Timer
	expiresAt time.Time
}

type typingShard struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

func NewTyping(rooms *Rooms, registry *Registry, timeout time.Duration) *Typing {
	t := &Typing{
		rooms:       rooms,
		registry:    registry,
		timeout:     timeout,
		disconnects: registry.Subscribe("typing"),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[typingKey]*typingEntry)
	}
	return t
}

// SetTyping starts or refreshes the typing state for (roomID, userID). Only
// the idle-to-typing edge broadcasts; refreshes extend the deadline silently.
func (t *Typing) SetTyping(roomID, userID int64) {
	key := typingKey{roomID, userID}
	sh := &t.shards[shardIndex(roomID)]

	sh.mu.Lock()
	if e, ok := sh.entries[key]; ok {
		e.expiresAt = time.Now().Add(t.timeout)
		e.timer.Reset(t.timeout)
		sh.mu.Unlock()
		return
	}
	e := &typingEntry{expiresAt: time.Now().Add(t.timeout)}
	e.timer = time.AfterFunc(t.timeout, func() {
		t.expire(roomID, userID)
	})
	sh.entries[key] = e
	sh.mu.Unlock()

	t.rooms.Broadcast(roomID, UserTypingEvent(roomID, userID, true), userID)
}

// ClearTyping removes the typing state on an explicit stop. A stop without a
// prior start is a no-op.
func (t *Typing) ClearTyping(roomID, userID int64) {
	key := typingKey{roomID, userID}
	sh := &t.shards[shardIndex(roomID)]

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok {
		e.timer.Stop()
		delete(sh.entries, key)
	}
	sh.mu.Unlock()

	if ok {
		t.rooms.Broadcast(roomID, UserTypingEvent(roomID, userID, false), userID)
	}
}

func (t *Typing) expire(roomID, userID int64) {
	key := typingKey{roomID, userID}
	sh := &t.shards[shardIndex(roomID)]

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	// A refresh may have raced the firing timer; re-arm for the remainder.
	if remaining := time.Until(e.expiresAt); remaining > 0 {
		e.timer.Reset(remaining)
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, key)
	sh.mu.Unlock()

	t.rooms.Broadcast(roomID, UserTypingEvent(roomID, userID, false), userID)
}

// ActiveTypers returns the users currently typing in a room.
func (t *Typing) ActiveTypers(roomID int64) []int64 {
	sh := &t.shards[shardIndex(roomID)]
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	var users []int64
	for key, e := range sh.entries {
		if key.roomID != roomID {
			continue
		}
		if now.Before(e.expiresAt) {
			users = append(users, key.userID)
		}
	}
	return users
}

// Run clears typing state for a disconnected connection's (room, user) pairs.
// Blocks until ctx is done.
func (t *Typing) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.disconnects:
			for _, roomID := range ev.Rooms {
				t.ClearTyping(roomID, ev.UserID)
			}
		}
	}
}
