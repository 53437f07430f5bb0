package notify

import (
	"context"
	"errors"

	"chatrelay/internal/domain"
)

// MemoryBackend is an in-process job channel. Jobs do not survive a restart;
// the notification record written before delivery is the durability anchor.
type MemoryBackend struct {
	jobs chan domain.NotificationJob
}

func NewMemoryBackend(buffer int) *MemoryBackend {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBackend{jobs: make(chan domain.NotificationJob, buffer)}
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case b.jobs <- job:
		return nil
	default:
		return errors.New("notification queue is full")
	}
}

func (b *MemoryBackend) Dequeue(ctx context.Context) (domain.NotificationJob, error) {
	select {
	case job := <-b.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.NotificationJob{}, ctx.Err()
	}
}
