package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
	"chatrelay/internal/security"
	"chatrelay/internal/ws"
)

const testOrigin = "http://localhost:3000"

type memUserStore struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	friends map[int64][]int64
}

func (s *memUserStore) GetByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *memUserStore) SetPresence(context.Context, int64, bool, time.Time) error { return nil }
func (s *memUserStore) MarkAllOffline(context.Context) error                      { return nil }
func (s *memUserStore) FriendIDs(_ context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends[id], nil
}

type memRoomStore struct {
	members map[int64][]int64
}

func (s *memRoomStore) MemberIDs(_ context.Context, roomID int64) ([]int64, error) {
	return s.members[roomID], nil
}

func (s *memRoomStore) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	for _, id := range s.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type memMessageStore struct {
	mu     sync.Mutex
	nextID int64
}

func (s *memMessageStore) Create(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	return nil
}

func (s *memMessageStore) ListForRoom(context.Context, int64, int) ([]*domain.Message, error) {
	return nil, nil
}

type captureEnqueuer struct {
	mu   sync.Mutex
	jobs []domain.NotificationJob
}

func (e *captureEnqueuer) Enqueue(_ context.Context, job domain.NotificationJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *captureEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

type wsFixture struct {
	server   *httptest.Server
	tokens   *security.TokenService
	registry *relay.Registry
	rooms    *relay.Rooms
	jobs     *captureEnqueuer
}

func newWSFixture(t *testing.T, mw ...func(http.Handler) http.Handler) *wsFixture {
	t.Helper()
	users := &memUserStore{
		users: map[int64]*domain.User{
			1: {ID: 1, Username: "alice", IsActive: true},
			2: {ID: 2, Username: "bob", IsActive: true},
			3: {ID: 3, Username: "eve", IsActive: false},
		},
		friends: map[int64][]int64{1: {2}},
	}
	roomStore := &memRoomStore{members: map[int64][]int64{10: {1, 2}}}
	jobs := &captureEnqueuer{}

	registry := relay.NewRegistry()
	rooms := relay.NewRooms(roomStore, registry)
	typing := relay.NewTyping(rooms, registry, 3*time.Second)
	calls := relay.NewCalls(registry, 30*time.Second)
	presence := relay.NewPresence(registry, users, jobs, 5*time.Minute)
	fanout := relay.NewFanout(rooms, roomStore, &memMessageStore{}, nil, nil, jobs)
	tokens := security.NewTokenService("test-secret", time.Hour)

	var handler http.Handler = ws.MakeHandler(registry, rooms, typing, fanout, calls, presence, tokens, users, []string{testOrigin})
	for _, wrap := range mw {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &wsFixture{
		server:   srv,
		tokens:   tokens,
		registry: registry,
		rooms:    rooms,
		jobs:     jobs,
	}
}

func (f *wsFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.CreateForUser(userID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func (f *wsFixture) joinRoom(t *testing.T, conn *websocket.Conn, roomID int64, expectSubs int) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "joinRoom", "roomId": roomID}))
	require.Eventually(t, func() bool {
		return len(f.rooms.Subscribers(roomID)) == expectSubs
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerRejectsDisallowedOrigin(t *testing.T) {
	f := newWSFixture(t)

	resp, err := http.Get(f.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerRejectsBadToken(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer garbage")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsInactiveUser(t *testing.T) {
	f := newWSFixture(t)
	token, err := f.tokens.CreateForUser(3)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+token)

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerAcceptsSubprotocolToken(t *testing.T) {
	f := newWSFixture(t)
	token, err := f.tokens.CreateForUser(1)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Sec-WebSocket-Protocol", "bearer, "+token)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.registry.CountForUser(1) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerMessageFlow(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	f.joinRoom(t, alice, 10, 1)
	f.joinRoom(t, bob, 10, 2)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":   "sendMessage",
		"roomId": 10,
		"text":   "hello bob",
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn)
		assert.Equal(t, "newMessage", ev["type"])
		assert.Equal(t, "hello bob", ev["text"])
		assert.Equal(t, float64(1), ev["senderId"])
	}
}

func TestHandlerSessionOutlivesRequestTimeout(t *testing.T) {
	f := newWSFixture(t, middleware.Timeout(100*time.Millisecond))
	alice := f.dial(t, 1)

	// The session keeps dispatching after the request deadline passed.
	time.Sleep(200 * time.Millisecond)

	f.joinRoom(t, alice, 10, 1)
	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":   "sendMessage",
		"roomId": 10,
		"text":   "still here",
	}))

	ev := readEvent(t, alice)
	assert.Equal(t, "newMessage", ev["type"])
	assert.Equal(t, "still here", ev["text"])
}

func TestHandlerRejectsSendToForeignRoom(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, 1)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":   "sendMessage",
		"roomId": 99,
		"text":   "hi",
	}))

	ev := readEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "not a member of this room", ev["message"])
}

func TestHandlerTypingFlow(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	f.joinRoom(t, alice, 10, 1)
	f.joinRoom(t, bob, 10, 2)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":     "typing",
		"roomId":   10,
		"isTyping": true,
	}))

	ev := readEvent(t, bob)
	assert.Equal(t, "userTyping", ev["type"])
	assert.Equal(t, float64(1), ev["userId"])
	assert.Equal(t, true, ev["isTyping"])
}

func TestHandlerTypingRequiresSubscription(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, 1)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":     "typing",
		"roomId":   10,
		"isTyping": true,
	}))

	ev := readEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
}

func TestHandlerCallFlow(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":       "startCall",
		"receiverId": 2,
	}))

	started := readEvent(t, alice)
	require.Equal(t, "callStarted", started["type"])
	callID := started["callId"].(string)

	incoming := readEvent(t, bob)
	require.Equal(t, "incomingCall", incoming["type"])
	assert.Equal(t, callID, incoming["callId"])
	assert.Equal(t, float64(1), incoming["callerId"])

	require.NoError(t, bob.WriteJSON(map[string]any{
		"type":   "acceptCall",
		"callId": callID,
	}))
	accepted := readEvent(t, alice)
	assert.Equal(t, "callAccepted", accepted["type"])

	require.NoError(t, bob.WriteJSON(map[string]any{
		"type":   "callSignal",
		"callId": callID,
		"signal": "answer",
		"data":   map[string]string{"sdp": "v=0"},
	}))
	signal := readEvent(t, alice)
	assert.Equal(t, "callSignal", signal["type"])
	assert.Equal(t, "answer", signal["signal"])

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":   "endCall",
		"callId": callID,
	}))
	ended := readEvent(t, bob)
	assert.Equal(t, "callEnded", ended["type"])
}

func TestHandlerConnectEnqueuesPresence(t *testing.T) {
	f := newWSFixture(t)

	f.dial(t, 1)
	require.Eventually(t, func() bool {
		return f.jobs.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.NotificationTypePresence, f.jobs.jobs[0].Type)
	assert.True(t, f.jobs.jobs[0].Online)
	assert.Equal(t, int64(2), f.jobs.jobs[0].UserID, "the friend is told, not the connecting user")

	// A second device is not a transition.
	f.dial(t, 1)
	require.Eventually(t, func() bool {
		return f.registry.CountForUser(1) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.jobs.count())
}
