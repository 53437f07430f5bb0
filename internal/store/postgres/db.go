package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the relay schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id             BIGSERIAL    PRIMARY KEY,
			username       VARCHAR(50)  UNIQUE NOT NULL,
			is_active      BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online      BOOLEAN      NOT NULL DEFAULT FALSE,
			last_active_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS friendships (
			user_id    BIGINT      NOT NULL REFERENCES users(id),
			friend_id  BIGINT      NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, friend_id)
		)`,

		`CREATE TABLE IF NOT EXISTS rooms (
			id         BIGSERIAL   PRIMARY KEY,
			name       VARCHAR(100),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS room_members (
			room_id   BIGINT      NOT NULL REFERENCES rooms(id),
			user_id   BIGINT      NOT NULL REFERENCES users(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (room_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id          BIGSERIAL   PRIMARY KEY,
			room_id     BIGINT      NOT NULL REFERENCES rooms(id),
			sender_id   BIGINT      NOT NULL REFERENCES users(id),
			content     TEXT        NOT NULL,
			attachments TEXT,
			created_at  TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id              BIGSERIAL   PRIMARY KEY,
			user_id         BIGINT      NOT NULL REFERENCES users(id),
			type            VARCHAR(30) NOT NULL,
			content         TEXT        NOT NULL,
			related_user_id BIGINT,
			related_room_id BIGINT,
			is_read         BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id         BIGSERIAL   PRIMARY KEY,
			user_id    BIGINT      NOT NULL REFERENCES users(id),
			endpoint   TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, endpoint)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_user ON friendships(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
