package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

type callsFixture struct {
	registry *relay.Registry
	calls    *relay.Calls

	callerSink *fakeSink
	caller     *relay.Conn

	// Two devices of the receiver user.
	d1Sink *fakeSink
	d1     *relay.Conn
	d2Sink *fakeSink
	d2     *relay.Conn
}

func newCallsFixture(t *testing.T, ringTimeout time.Duration) *callsFixture {
	t.Helper()
	reg := relay.NewRegistry()
	f := &callsFixture{
		registry:   reg,
		calls:      relay.NewCalls(reg, ringTimeout),
		callerSink: &fakeSink{},
		d1Sink:     &fakeSink{},
		d2Sink:     &fakeSink{},
	}
	f.caller, _ = reg.Register(10, f.callerSink)
	f.d1, _ = reg.Register(20, f.d1Sink)
	f.d2, _ = reg.Register(20, f.d2Sink)
	return f
}

func TestCallStartRingsEveryReceiverDevice(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)
	assert.Equal(t, relay.CallStateRinging, sess.State)
	assert.Equal(t, int64(10), sess.CallerUserID)
	assert.Equal(t, int64(20), sess.ReceiverUserID)
	assert.Empty(t, sess.ReceiverConnID)

	for _, sink := range []*fakeSink{f.d1Sink, f.d2Sink} {
		ev, ok := lastEvent[relay.IncomingCall](sink)
		require.True(t, ok)
		assert.Equal(t, sess.ID, ev.CallID)
		assert.Equal(t, int64(10), ev.CallerID)
	}

	ack, ok := lastEvent[relay.CallStarted](f.callerSink)
	require.True(t, ok)
	assert.Equal(t, sess.ID, ack.CallID)
}

func TestCallSelfCallRejected(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	_, err := f.calls.Start(f.caller, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCallAcceptBindsOneDeviceAndCancelsOthers(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	accepted, ok := lastEvent[relay.CallAccepted](f.callerSink)
	require.True(t, ok)
	assert.Equal(t, sess.ID, accepted.CallID)

	cancelled, ok := lastEvent[relay.CallCancelled](f.d2Sink)
	require.True(t, ok)
	assert.Equal(t, sess.ID, cancelled.CallID)
	_, ok = lastEvent[relay.CallCancelled](f.d1Sink)
	assert.False(t, ok, "the accepting device must not see a cancel")

	bound, ok := f.calls.Session(sess.ID)
	require.True(t, ok)
	assert.Equal(t, relay.CallStateActive, bound.State)
	assert.Equal(t, f.d1.ID, bound.ReceiverConnID)
}

func TestCallAcceptGuards(t *testing.T) {
	f := newCallsFixture(t, time.Minute)
	outsiderSink := &fakeSink{}
	outsider, _ := f.registry.Register(30, outsiderSink)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	assert.ErrorIs(t, f.calls.Accept(sess.ID, outsider), domain.ErrInvalidState)
	assert.ErrorIs(t, f.calls.Accept("no-such-call", f.d1), domain.ErrInvalidState)

	require.NoError(t, f.calls.Accept(sess.ID, f.d1))
	assert.ErrorIs(t, f.calls.Accept(sess.ID, f.d2), domain.ErrInvalidState, "a second accept is rejected")
}

func TestCallSignalRelayedBetweenBoundParticipants(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)
	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	offer := json.RawMessage(`{"sdp":"v=0"}`)
	require.NoError(t, f.calls.RelaySignal(sess.ID, f.caller.ID, "offer", offer))

	sig, ok := lastEvent[relay.CallSignal](f.d1Sink)
	require.True(t, ok)
	assert.Equal(t, "offer", sig.Signal)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(sig.Data))

	require.NoError(t, f.calls.RelaySignal(sess.ID, f.d1.ID, "answer", nil))
	back, ok := lastEvent[relay.CallSignal](f.callerSink)
	require.True(t, ok)
	assert.Equal(t, "answer", back.Signal)
}

func TestCallSignalDroppedOutsideParticipantSet(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	// Before accept there is no bound receiver to forward to.
	assert.ErrorIs(t, f.calls.RelaySignal(sess.ID, f.caller.ID, "offer", nil), domain.ErrDropped)

	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	// The non-accepting device is not a participant.
	assert.ErrorIs(t, f.calls.RelaySignal(sess.ID, f.d2.ID, "offer", nil), domain.ErrDropped)
	assert.Zero(t, countEvents(f.d2Sink, func(relay.CallSignal) bool { return true }))

	assert.ErrorIs(t, f.calls.RelaySignal("no-such-call", f.caller.ID, "offer", nil), domain.ErrDropped)
}

func TestCallEndNotifiesOtherParticipant(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)
	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	f.calls.End(sess.ID, f.caller.ID)

	ended, ok := lastEvent[relay.CallEnded](f.d1Sink)
	require.True(t, ok)
	assert.Equal(t, sess.ID, ended.CallID)
	_, ok = lastEvent[relay.CallEnded](f.callerSink)
	assert.False(t, ok, "the initiator is not echoed the end event")

	_, live := f.calls.Session(sess.ID)
	assert.False(t, live)

	// Ending a released session is a no-op.
	f.calls.End(sess.ID, f.caller.ID)
}

func TestCallRejectWhileRinging(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	// Any device of the receiver user may reject a ringing call.
	f.calls.End(sess.ID, f.d2.ID)

	_, ok := lastEvent[relay.CallEnded](f.callerSink)
	assert.True(t, ok)
	ended, ok := lastEvent[relay.CallEnded](f.d1Sink)
	require.True(t, ok, "the other ringing device is dismissed")
	assert.Equal(t, sess.ID, ended.CallID)

	_, live := f.calls.Session(sess.ID)
	assert.False(t, live)
}

func TestCallEndIgnoredFromNonParticipant(t *testing.T) {
	f := newCallsFixture(t, time.Minute)
	outsiderSink := &fakeSink{}
	outsider, _ := f.registry.Register(30, outsiderSink)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	f.calls.End(sess.ID, outsider.ID)

	_, live := f.calls.Session(sess.ID)
	assert.True(t, live, "a stranger cannot tear down the call")
}

func TestCallRingTimeoutAborts(t *testing.T) {
	f := newCallsFixture(t, 40*time.Millisecond)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, live := f.calls.Session(sess.ID)
		return !live
	}, time.Second, 5*time.Millisecond)

	ended, ok := lastEvent[relay.CallEnded](f.callerSink)
	require.True(t, ok)
	assert.Equal(t, "timeout", ended.Reason)
	for _, sink := range []*fakeSink{f.d1Sink, f.d2Sink} {
		_, ok := lastEvent[relay.CallEnded](sink)
		assert.True(t, ok, "ringing devices are dismissed on timeout")
	}

	// The late accept loses the race.
	assert.ErrorIs(t, f.calls.Accept(sess.ID, f.d1), domain.ErrInvalidState)
}

func TestCallAcceptStopsRingTimer(t *testing.T) {
	f := newCallsFixture(t, 40*time.Millisecond)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)
	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	time.Sleep(100 * time.Millisecond)
	bound, live := f.calls.Session(sess.ID)
	require.True(t, live, "an accepted call outlives the ring timeout")
	assert.Equal(t, relay.CallStateActive, bound.State)
}

func TestCallEndsWhenParticipantDisconnects(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.calls.Run(ctx)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)
	require.NoError(t, f.calls.Accept(sess.ID, f.d1))

	f.registry.Unregister(f.d1.ID)

	assert.Eventually(t, func() bool {
		_, live := f.calls.Session(sess.ID)
		return !live
	}, time.Second, 5*time.Millisecond)

	ended, ok := lastEvent[relay.CallEnded](f.callerSink)
	require.True(t, ok)
	assert.Equal(t, "disconnected", ended.Reason)
}

func TestCallAbortsWhenCallerDropsWhileRinging(t *testing.T) {
	f := newCallsFixture(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.calls.Run(ctx)

	sess, err := f.calls.Start(f.caller, 20)
	require.NoError(t, err)

	f.registry.Unregister(f.caller.ID)

	assert.Eventually(t, func() bool {
		_, live := f.calls.Session(sess.ID)
		return !live
	}, time.Second, 5*time.Millisecond)

	// Every ringing device is dismissed, same as a ring timeout.
	for _, sink := range []*fakeSink{f.d1Sink, f.d2Sink} {
		ended, ok := lastEvent[relay.CallEnded](sink)
		require.True(t, ok)
		assert.Equal(t, sess.ID, ended.CallID)
		assert.Equal(t, "disconnected", ended.Reason)
	}

	assert.ErrorIs(t, f.calls.Accept(sess.ID, f.d1), domain.ErrInvalidState)
}

func TestCallRingsWithOfflineReceiver(t *testing.T) {
	reg := relay.NewRegistry()
	calls := relay.NewCalls(reg, 40*time.Millisecond)
	callerSink := &fakeSink{}
	caller, _ := reg.Register(10, callerSink)

	sess, err := calls.Start(caller, 99)
	require.NoError(t, err)
	_, live := calls.Session(sess.ID)
	assert.True(t, live)

	assert.Eventually(t, func() bool {
		_, live := calls.Session(sess.ID)
		return !live
	}, time.Second, 5*time.Millisecond)
	ended, ok := lastEvent[relay.CallEnded](callerSink)
	require.True(t, ok)
	assert.Equal(t, "timeout", ended.Reason)
}
