package relay

import (
	"context"
	"fmt"
	"sync"

	"chatrelay/internal/domain"
)

// Rooms tracks which connections are currently subscribed to which rooms.
// Persistent membership is owned by the storage collaborator; this manager
// only gates and tracks the ephemeral subscriber sets.
type Rooms struct {
	store       domain.RoomRepository
	registry    *Registry
	disconnects <-chan Disconnect

	shards [shardCount]roomShard
}

type roomShard struct {
	mu   sync.RWMutex
	subs map[int64]map[string]*Conn
}

func NewRooms(store domain.RoomRepository, registry *Registry) *Rooms {
	r := &Rooms{
		store:       store,
		registry:    registry,
		disconnects: registry.Subscribe("rooms"),
	}
	for i := range r.shards {
		r.shards[i].subs = make(map[int64]map[string]*Conn)
	}
	return r
}

// Join subscribes a connection to a room. Fails with ErrUnauthorized when the
// connection's user is not a persistent member. Joining twice is a no-op.
func (r *Rooms) Join(ctx context.Context, conn *Conn, roomID int64) error {
	member, err := r.store.IsMember(ctx, roomID, conn.UserID)
	if err != nil {
		return fmt.Errorf("check room membership: %w", err)
	}
	if !member {
		return domain.ErrUnauthorized
	}

	sh := &r.shards[shardIndex(roomID)]
	sh.mu.Lock()
	if sh.subs[roomID] == nil {
		sh.subs[roomID] = make(map[string]*Conn)
	}
	sh.subs[roomID][conn.ID] = conn
	sh.mu.Unlock()

	conn.trackJoin(roomID)
	return nil
}

// Leave unsubscribes a connection from a room. Leaving a room that was never
// joined is a no-op.
func (r *Rooms) Leave(conn *Conn, roomID int64) {
	r.remove(conn.ID, roomID)
	conn.trackLeave(roomID)
}

func (r *Rooms) remove(connID string, roomID int64) {
	sh := &r.shards[shardIndex(roomID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if set, ok := sh.subs[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(sh.subs, roomID)
		}
	}
}

// Subscribers returns a snapshot of the connections currently subscribed to a
// room.
func (r *Rooms) Subscribers(roomID int64) []*Conn {
	sh := &r.shards[shardIndex(roomID)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	conns := make([]*Conn, 0, len(sh.subs[roomID]))
	for _, c := range sh.subs[roomID] {
		conns = append(conns, c)
	}
	return conns
}

// SubscriberUserIDs returns the set of user IDs with at least one connection
// subscribed to the room.
func (r *Rooms) SubscriberUserIDs(roomID int64) map[int64]struct{} {
	sh := &r.shards[shardIndex(roomID)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	users := make(map[int64]struct{}, len(sh.subs[roomID]))
	for _, c := range sh.subs[roomID] {
		users[c.UserID] = struct{}{}
	}
	return users
}

// Broadcast delivers one event to every connection currently subscribed to
// the room, except connections of the excluded users. This is the relay's
// single room-fanout primitive. Returns the number of connections reached.
func (r *Rooms) Broadcast(roomID int64, event any, excludeUsers ...int64) int {
	excluded := make(map[int64]struct{}, len(excludeUsers))
	for _, id := range excludeUsers {
		excluded[id] = struct{}{}
	}

	sent := 0
	for _, conn := range r.Subscribers(roomID) {
		if _, skip := excluded[conn.UserID]; skip {
			continue
		}
		if conn.Send(event) {
			sent++
		}
	}
	return sent
}

// Run reacts to registry disconnects, dropping the connection from every room
// it had joined. The subscription is taken at construction, so disconnects
// published before Run is scheduled are not lost. Blocks until ctx is done.
func (r *Rooms) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.disconnects:
			for _, roomID := range ev.Rooms {
				r.remove(ev.ConnID, roomID)
			}
		}
	}
}
