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

// Migrate runs idempotent DDL migrations for the messaging schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id               TEXT         PRIMARY KEY,
			name             VARCHAR(100) NOT NULL,
			email            VARCHAR(100) UNIQUE NOT NULL,
			hashed_password  VARCHAR(255) NOT NULL,
			role             VARCHAR(20)  NOT NULL,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Messages: one row per direct message, per broadcast recipient, or per group post
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT        PRIMARY KEY,
			sender_id   TEXT        NOT NULL,
			receiver_id TEXT,
			kind        VARCHAR(10) NOT NULL CHECK (kind IN ('direct', 'broadcast', 'group')),
			body        TEXT        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
			CONSTRAINT messages_receiver_matches_kind CHECK ((kind = 'group') = (receiver_id IS NULL))
		)`,

		// Group read watermark
		`CREATE TABLE IF NOT EXISTS group_read_markers (
			user_id      TEXT        PRIMARY KEY,
			last_read_at TIMESTAMPTZ NOT NULL
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_sender ON messages(receiver_id, sender_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages(sender_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_kind_created ON messages(kind, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
