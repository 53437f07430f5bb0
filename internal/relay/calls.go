package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
)

// CallState is the lifecycle state of a call session.
type CallState int

const (
	CallStateRinging CallState = iota
	CallStateActive
	CallStateEnded
	CallStateAborted
)

func (s CallState) String() string {
	switch s {
	case CallStateRinging:
		return "ringing"
	case CallStateActive:
		return "active"
	case CallStateEnded:
		return "ended"
	case CallStateAborted:
		return "aborted"
	}
	return "unknown"
}

// CallSession is a snapshot of one call's state. Signaling payloads are only
// ever relayed between the two bound participant connections.
type CallSession struct {
	ID             string
	CallerUserID   int64
	ReceiverUserID int64
	CallerConnID   string
	// ReceiverConnID stays empty until a device accepts.
	ReceiverConnID string
	State          CallState
	StartedAt      time.Time
	EndedAt        time.Time
}

type callSession struct {
	CallSession
	ringTimer *time.Timer
}

// Calls coordinates two-party call sessions: a state machine per call that
// relays signaling between exactly the caller connection and the bound
// receiver connection.
type Calls struct {
	registry    *Registry
	ringTimeout time.Duration
	disconnects <-chan Disconnect

	shards [shardCount]callShard

	idxMu  sync.Mutex
	byConn map[string]map[string]struct{}
}

type callShard struct {
	mu       sync.Mutex
	sessions map[string]*callSession
}

func NewCalls(registry *Registry, ringTimeout time.Duration) *Calls {
	c := &Calls{
		registry:    registry,
		ringTimeout: ringTimeout,
		disconnects: registry.Subscribe("calls"),
		byConn:      make(map[string]map[string]struct{}),
	}
	for i := range c.shards {
		c.shards[i].sessions = make(map[string]*callSession)
	}
	return c
}

// Start creates a ringing session and delivers incomingCall to every live
// connection of the receiver; the receiver may accept from any device. The
// caller gets a callStarted ack carrying the session ID. A receiver with no
// live connection still rings until the timeout aborts the session.
func (c *Calls) Start(caller *Conn, receiverUserID int64) (CallSession, error) {
	if receiverUserID == caller.UserID {
		return CallSession{}, domain.ErrInvalidInput
	}

	sess := &callSession{
		CallSession: CallSession{
			ID:             uuid.NewString(),
			CallerUserID:   caller.UserID,
			ReceiverUserID: receiverUserID,
			CallerConnID:   caller.ID,
			State:          CallStateRinging,
			StartedAt:      time.Now(),
		},
	}
	sess.ringTimer = time.AfterFunc(c.ringTimeout, func() {
		c.abortRinging(sess.ID)
	})

	sh := &c.shards[shardIndexString(sess.ID)]
	sh.mu.Lock()
	sh.sessions[sess.ID] = sess
	snapshot := sess.CallSession
	sh.mu.Unlock()

	c.index(caller.ID, sess.ID)

	for _, conn := range c.registry.ConnsOf(receiverUserID) {
		conn.Send(IncomingCallEvent(sess.ID, caller.UserID))
	}
	caller.Send(CallStartedEvent(sess.ID, receiverUserID))
	return snapshot, nil
}

// Accept transitions Ringing to Active, binding the accepting connection as
// the session's sole receiver. Other devices of the receiver get their
// prompts cancelled; the caller is notified.
func (c *Calls) Accept(callID string, conn *Conn) error {
	sh := &c.shards[shardIndexString(callID)]
	sh.mu.Lock()
	sess, ok := sh.sessions[callID]
	if !ok || sess.State != CallStateRinging || conn.UserID != sess.ReceiverUserID {
		sh.mu.Unlock()
		return domain.ErrInvalidState
	}
	sess.ReceiverConnID = conn.ID
	sess.State = CallStateActive
	sess.ringTimer.Stop()
	callerConnID := sess.CallerConnID
	receiverUserID := sess.ReceiverUserID
	sh.mu.Unlock()

	c.index(conn.ID, callID)

	if caller, ok := c.registry.Get(callerConnID); ok {
		caller.Send(CallAcceptedEvent(callID))
	}
	for _, other := range c.registry.ConnsOf(receiverUserID) {
		if other.ID != conn.ID {
			other.Send(CallCancelledEvent(callID))
		}
	}
	return nil
}

// RelaySignal forwards a signaling payload verbatim to the other bound
// participant. Returns ErrDropped when the session is missing or terminal,
// the sender is not a bound participant, or the target connection is gone.
// Dropped signals are an expected race on disconnect, never a user error.
func (c *Calls) RelaySignal(callID, fromConnID, signal string, data json.RawMessage) error {
	sh := &c.shards[shardIndexString(callID)]
	sh.mu.Lock()
	sess, ok := sh.sessions[callID]
	if !ok || (sess.State != CallStateRinging && sess.State != CallStateActive) {
		sh.mu.Unlock()
		return domain.ErrDropped
	}
	var targetConnID string
	switch fromConnID {
	case sess.CallerConnID:
		targetConnID = sess.ReceiverConnID
	case sess.ReceiverConnID:
		targetConnID = sess.CallerConnID
	default:
		sh.mu.Unlock()
		return domain.ErrDropped
	}
	sh.mu.Unlock()

	if targetConnID == "" {
		return domain.ErrDropped
	}
	target, ok := c.registry.Get(targetConnID)
	if !ok {
		return domain.ErrDropped
	}
	target.Send(CallSignalEvent(callID, signal, data))
	return nil
}

// End terminates a session from any non-terminal state, notifying whichever
// participant did not initiate the end. While ringing, any connection of the
// receiver user may end (reject) the call. Ending a released session or one
// the connection does not participate in is a no-op.
func (c *Calls) End(callID, byConnID string) {
	sh := &c.shards[shardIndexString(callID)]
	sh.mu.Lock()
	sess, ok := sh.sessions[callID]
	if !ok {
		sh.mu.Unlock()
		return
	}
	allowed := byConnID == sess.CallerConnID ||
		(sess.ReceiverConnID != "" && byConnID == sess.ReceiverConnID)
	if !allowed && sess.ReceiverConnID == "" {
		if conn, live := c.registry.Get(byConnID); live && conn.UserID == sess.ReceiverUserID {
			allowed = true
		}
	}
	sh.mu.Unlock()

	if allowed {
		c.terminate(callID, byConnID, CallStateEnded, "")
	}
}

// Session returns a snapshot of a live session.
func (c *Calls) Session(callID string) (CallSession, bool) {
	sh := &c.shards[shardIndexString(callID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[callID]
	if !ok {
		return CallSession{}, false
	}
	return sess.CallSession, true
}

// Run ends any non-terminal session whose caller or bound receiver connection
// dropped: a call never outlives its participants' connections. Blocks until
// ctx is done.
func (c *Calls) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.disconnects:
			c.idxMu.Lock()
			ids := make([]string, 0, len(c.byConn[ev.ConnID]))
			for id := range c.byConn[ev.ConnID] {
				ids = append(ids, id)
			}
			c.idxMu.Unlock()
			for _, callID := range ids {
				c.terminate(callID, ev.ConnID, CallStateEnded, "disconnected")
			}
		}
	}
}

func (c *Calls) abortRinging(callID string) {
	c.terminate(callID, "", CallStateAborted, "timeout")
}

func (c *Calls) terminate(callID, byConnID string, state CallState, reason string) {
	sh := &c.shards[shardIndexString(callID)]
	sh.mu.Lock()
	sess, ok := sh.sessions[callID]
	if !ok {
		sh.mu.Unlock()
		return
	}
	if state == CallStateAborted && sess.State != CallStateRinging {
		// The ring timer raced an accept or an end.
		sh.mu.Unlock()
		return
	}
	// A participant dropping before any device accepted aborts the session,
	// same terminal state as a ring timeout.
	if reason == "disconnected" && sess.State == CallStateRinging {
		state = CallStateAborted
	}
	sess.State = state
	sess.EndedAt = time.Now()
	sess.ringTimer.Stop()
	snapshot := sess.CallSession
	delete(sh.sessions, callID)
	sh.mu.Unlock()

	c.unindex(snapshot.CallerConnID, callID)
	if snapshot.ReceiverConnID != "" {
		c.unindex(snapshot.ReceiverConnID, callID)
	}

	ev := CallEndedEvent(callID, reason)

	// Notify every participant connection except the initiator. While still
	// ringing, the receiver side is all of the receiver user's devices.
	if snapshot.CallerConnID != byConnID {
		if caller, ok := c.registry.Get(snapshot.CallerConnID); ok {
			caller.Send(ev)
		}
	}
	if snapshot.ReceiverConnID != "" {
		if snapshot.ReceiverConnID != byConnID {
			if receiver, ok := c.registry.Get(snapshot.ReceiverConnID); ok {
				receiver.Send(ev)
			}
		}
	} else {
		for _, conn := range c.registry.ConnsOf(snapshot.ReceiverUserID) {
			if conn.ID != byConnID {
				conn.Send(ev)
			}
		}
	}
}

func (c *Calls) index(connID, callID string) {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	if c.byConn[connID] == nil {
		c.byConn[connID] = make(map[string]struct{})
	}
	c.byConn[connID][callID] = struct{}{}
}

func (c *Calls) unindex(connID, callID string) {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	if set, ok := c.byConn[connID]; ok {
		delete(set, callID)
		if len(set) == 0 {
			delete(c.byConn, connID)
		}
	}
}
