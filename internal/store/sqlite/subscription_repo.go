package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatrelay/internal/domain"
)

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

var _ domain.PushSubscriptionRepository = (*SubscriptionRepo)(nil)

func (r *SubscriptionRepo) Create(ctx context.Context, s *domain.PushSubscription) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	// Re-registering the same endpoint refreshes it rather than erroring.
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET created_at = excluded.created_at
	`
	if _, err := r.db.ExecContext(ctx, query, s.UserID, s.Endpoint, s.CreatedAt); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return r.db.QueryRowContext(ctx,
		`SELECT id FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
		s.UserID, s.Endpoint,
	).Scan(&s.ID)
}

func (r *SubscriptionRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, created_at
		FROM push_subscriptions
		WHERE user_id = ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.PushSubscription
	for rows.Next() {
		s := &domain.PushSubscription{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID int64, endpoint string) error {
	query := `DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`
	if _, err := r.db.ExecContext(ctx, query, userID, endpoint); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
