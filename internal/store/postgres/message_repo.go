package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatrelay/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	attachments, err := marshalAttachments(m.Attachments)
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (room_id, sender_id, content, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query,
		m.RoomID, m.SenderID, m.Content, attachments, m.CreatedAt,
	).Scan(&m.ID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListForRoom(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_id, sender_id, content, attachments, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		var attachments sql.NullString
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Attachments, err = unmarshalAttachments(attachments); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func marshalAttachments(attachments []domain.Attachment) (any, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttachments(raw sql.NullString) ([]domain.Attachment, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var attachments []domain.Attachment
	if err := json.Unmarshal([]byte(raw.String), &attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return attachments, nil
}
