package relay_test

import (
	"context"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

// fakeSink records delivered events in order.
type fakeSink struct {
	mu     sync.Mutex
	events []any
	closed bool
}

func (s *fakeSink) Send(event any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, event)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.events))
	copy(out, s.events)
	return out
}

func countEvents[T any](s *fakeSink, match func(T) bool) int {
	n := 0
	for _, ev := range s.Events() {
		if typed, ok := ev.(T); ok && match(typed) {
			n++
		}
	}
	return n
}

func lastEvent[T any](s *fakeSink) (T, bool) {
	var zero T
	events := s.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if typed, ok := events[i].(T); ok {
			return typed, true
		}
	}
	return zero, false
}

// fakeRoomStore is an in-memory RoomRepository.
type fakeRoomStore struct {
	mu      sync.Mutex
	members map[int64][]int64
	err     error
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{members: make(map[int64][]int64)}
}

func (s *fakeRoomStore) addMember(roomID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[roomID] = append(s.members[roomID], userID)
}

func (s *fakeRoomStore) MemberIDs(_ context.Context, roomID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]int64, len(s.members[roomID]))
	copy(out, s.members[roomID])
	return out, nil
}

func (s *fakeRoomStore) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, id := range s.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// fakeEnqueuer captures notification jobs.
type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []domain.NotificationJob
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, job domain.NotificationJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *fakeEnqueuer) Jobs() []domain.NotificationJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.NotificationJob, len(e.jobs))
	copy(out, e.jobs)
	return out
}

// fakeUserStore is an in-memory UserRepository.
type fakeUserStore struct {
	mu       sync.Mutex
	users    map[int64]*domain.User
	friends  map[int64][]int64
	presence []presenceWrite
}

type presenceWrite struct {
	userID   int64
	isOnline bool
	at       time.Time
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:   make(map[int64]*domain.User),
		friends: make(map[int64][]int64),
	}
}

func (s *fakeUserStore) GetByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *fakeUserStore) SetPresence(_ context.Context, id int64, isOnline bool, lastActiveAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, presenceWrite{id, isOnline, lastActiveAt})
	if u, ok := s.users[id]; ok {
		u.IsOnline = isOnline
		u.LastActiveAt = lastActiveAt
	}
	return nil
}

func (s *fakeUserStore) MarkAllOffline(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.IsOnline = false
	}
	return nil
}

func (s *fakeUserStore) FriendIDs(_ context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.friends[id]))
	copy(out, s.friends[id])
	return out, nil
}

func (s *fakeUserStore) presenceWrites() []presenceWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]presenceWrite, len(s.presence))
	copy(out, s.presence)
	return out
}
