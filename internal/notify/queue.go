// Package notify decouples notification creation from delivery. Jobs are
// persisted as notification records before any delivery attempt, delivered
// in-app through the user mailbox and externally through the push service,
// and retried with backoff on transient push failures.
package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

// Backend is the job transport behind the queue: an in-process channel by
// default, a Redis list when durability across restarts is wanted.
type Backend interface {
	Enqueue(ctx context.Context, job domain.NotificationJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (domain.NotificationJob, error)
}

type Config struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Queue is the at-least-once notification dispatch worker pool.
type Queue struct {
	backend       Backend
	notifications domain.NotificationRepository
	subscriptions domain.PushSubscriptionRepository
	push          domain.PushSender
	registry      *relay.Registry

	workers     int
	maxAttempts int
	baseBackoff time.Duration

	wg sync.WaitGroup
}

func NewQueue(
	backend Backend,
	notifications domain.NotificationRepository,
	subscriptions domain.PushSubscriptionRepository,
	push domain.PushSender,
	registry *relay.Registry,
	cfg Config,
) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	return &Queue{
		backend:       backend,
		notifications: notifications,
		subscriptions: subscriptions,
		push:          push,
		registry:      registry,
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		baseBackoff:   cfg.BaseBackoff,
	}
}

var _ relay.NotificationEnqueuer = (*Queue)(nil)

// Enqueue hands a job to the backend.
func (q *Queue) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	return q.backend.Enqueue(ctx, job)
}

// Run starts the worker pool and blocks until ctx is done and the workers
// have drained.
func (q *Queue) Run(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.worker(ctx)
		}()
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		job, err := q.backend.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("notify: dequeue: %v", err)
			continue
		}
		q.process(ctx, job)
	}
}

func (q *Queue) process(ctx context.Context, job domain.NotificationJob) {
	// Presence jobs are ephemeral: mailbox delivery only.
	if job.Type == domain.NotificationTypePresence {
		if job.RelatedUserID != nil {
			q.registry.SendToUser(job.UserID, relay.FriendStatusEvent(*job.RelatedUserID, job.Online))
		}
		return
	}

	// Persist before delivery so a crash mid-delivery leaves a recoverable
	// job, not a lost notification. Retries carry the record ID and skip
	// both persistence and the in-app emit.
	if job.NotificationID == nil {
		rec := &domain.Notification{
			UserID:        job.UserID,
			Type:          job.Type,
			Content:       job.Content,
			RelatedUserID: job.RelatedUserID,
			RelatedRoomID: job.RelatedRoomID,
		}
		if err := q.notifications.Create(ctx, rec); err != nil {
			log.Printf("notify: persist notification for user %d: %v", job.UserID, err)
			q.retry(job)
			return
		}
		job.NotificationID = &rec.ID
		q.registry.SendToUser(job.UserID, relay.NewNotificationEvent(rec))
	}

	if !q.deliverPush(ctx, job) {
		q.retry(job)
	}
}

// deliverPush attempts external delivery to every stored subscription.
// Invalidated endpoints are pruned; reports false when any delivery failed
// transiently and the job should be retried.
func (q *Queue) deliverPush(ctx context.Context, job domain.NotificationJob) bool {
	subs, err := q.subscriptions.ListForUser(ctx, job.UserID)
	if err != nil {
		log.Printf("notify: list subscriptions for user %d: %v", job.UserID, err)
		return false
	}
	payload := pushPayload(job)

	ok := true
	for _, sub := range subs {
		err := q.push.Deliver(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrPushGone):
			if err := q.subscriptions.DeleteByEndpoint(ctx, sub.UserID, sub.Endpoint); err != nil {
				log.Printf("notify: prune subscription %d: %v", sub.ID, err)
			}
		default:
			log.Printf("notify: push to user %d endpoint %s: %v", sub.UserID, sub.Endpoint, err)
			ok = false
		}
	}
	return ok
}

func (q *Queue) retry(job domain.NotificationJob) {
	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		log.Printf("notify: giving up on job for user %d after %d attempts", job.UserID, job.Attempts)
		return
	}
	delay := q.baseBackoff << (job.Attempts - 1)
	time.AfterFunc(delay, func() {
		if err := q.backend.Enqueue(context.Background(), job); err != nil {
			log.Printf("notify: re-enqueue job for user %d: %v", job.UserID, err)
		}
	})
}
