package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// EventSink delivers ordered events to one transport session. Send reports
// false when the session can no longer accept events.
type EventSink interface {
	Send(event any) bool
	Close()
}

// Conn is one live, authenticated transport session. A connection belongs to
// exactly one user for its whole lifetime; a user may hold many connections.
type Conn struct {
	ID     string
	UserID int64

	sink EventSink

	mu    sync.Mutex
	rooms map[int64]struct{}
}

// Send forwards an event to the connection's transport.
func (c *Conn) Send(event any) bool {
	return c.sink.Send(event)
}

func (c *Conn) trackJoin(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Conn) trackLeave(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// RoomIDs returns a snapshot of the rooms this connection has joined.
func (c *Conn) RoomIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Disconnect is published exactly once per torn-down connection and fanned
// out to every subscriber.
type Disconnect struct {
	ConnID string
	UserID int64
	// Rooms snapshots the connection's joined rooms at teardown.
	Rooms []int64
	// LastForUser is true when no live connection remains for the user.
	LastForUser bool
}

// Registry tracks each live transport session and its authenticated identity.
// It is the single source of truth for which users are online and on which
// connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[int64]map[string]*Conn

	subMu sync.Mutex
	subs  map[string]chan Disconnect
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byUser: make(map[int64]map[string]*Conn),
		subs:   make(map[string]chan Disconnect),
	}
}

// Register adds an authenticated connection, indexing it by connection ID and
// user ID. Token validation happens in the transport handshake before this
// point. Reports whether this is the user's first live connection.
func (r *Registry) Register(userID int64, sink EventSink) (conn *Conn, first bool) {
	conn = &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sink:   sink,
		rooms:  make(map[int64]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Conn)
	}
	first = len(r.byUser[userID]) == 0
	r.byUser[userID][conn.ID] = conn
	r.conns[conn.ID] = conn
	return conn, first
}

// Unregister removes all index entries for a connection and publishes one
// Disconnect event to every subscriber. Unknown IDs are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	userConns := r.byUser[conn.UserID]
	delete(userConns, connID)
	last := len(userConns) == 0
	if last {
		delete(r.byUser, conn.UserID)
	}
	r.mu.Unlock()

	ev := Disconnect{
		ConnID:      connID,
		UserID:      conn.UserID,
		Rooms:       conn.RoomIDs(),
		LastForUser: last,
	}
	r.publish(ev)
}

// Get looks up a connection by ID.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// ConnsOf returns the live connections of a user.
func (r *Registry) ConnsOf(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// CountForUser returns the number of live connections for a user.
func (r *Registry) CountForUser(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// SendToUser delivers an event to every live connection of one user: the
// direct-addressing mailbox used for presence and notification delivery,
// independent of room membership. Returns the number of connections reached.
func (r *Registry) SendToUser(userID int64, event any) int {
	sent := 0
	for _, conn := range r.ConnsOf(userID) {
		if conn.Send(event) {
			sent++
		}
	}
	return sent
}

// Subscribe registers a named consumer of disconnect events. Each subscriber
// receives every event; the name is for logging when a consumer falls behind.
func (r *Registry) Subscribe(name string) <-chan Disconnect {
	ch := make(chan Disconnect, 64)
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subs[name] = ch
	return ch
}

func (r *Registry) publish(ev Disconnect) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for name, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("registry: disconnect subscriber %q is saturated, blocking", name)
			ch <- ev
		}
	}
}
