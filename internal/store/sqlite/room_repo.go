package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"chatrelay/internal/domain"
)

type RoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

var _ domain.RoomRepository = (*RoomRepo)(nil)

func (r *RoomRepo) MemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	query := `SELECT user_id FROM room_members WHERE room_id = ?`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	query := `SELECT COUNT(1) FROM room_members WHERE room_id = ? AND user_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}
