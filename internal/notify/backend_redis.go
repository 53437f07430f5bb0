package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/domain"
)

const redisQueueKey = "notifications:queue"

// RedisBackend backs the queue with a Redis list, so queued jobs survive
// process restarts.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(addr string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := b.client.LPush(ctx, redisQueueKey, raw).Err(); err != nil {
		return fmt.Errorf("lpush job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Dequeue(ctx context.Context) (domain.NotificationJob, error) {
	var job domain.NotificationJob
	res, err := b.client.BRPop(ctx, 0, redisQueueKey).Result()
	if err != nil {
		return job, fmt.Errorf("brpop job: %w", err)
	}
	if len(res) != 2 {
		return job, fmt.Errorf("brpop returned %d values", len(res))
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return job, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
