package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, username, is_active, is_online, last_active_at, created_at
		FROM users
		WHERE id = $1
	`
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.IsActive, &u.IsOnline, &u.LastActiveAt, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) SetPresence(ctx context.Context, id int64, isOnline bool, lastActiveAt time.Time) error {
	query := `UPDATE users SET is_online = $1, last_active_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, isOnline, lastActiveAt.UTC(), id); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (r *UserRepo) MarkAllOffline(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = FALSE`); err != nil {
		return fmt.Errorf("mark all offline: %w", err)
	}
	return nil
}

func (r *UserRepo) FriendIDs(ctx context.Context, id int64) ([]int64, error) {
	query := `SELECT friend_id FROM friendships WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		ids = append(ids, fid)
	}
	return ids, rows.Err()
}
