package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func NewConnection(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT,
		is_subscribed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_seen TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id VARCHAR(255) PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id VARCHAR(255) PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_id VARCHAR(255) REFERENCES categories(id),
		video_path TEXT NOT NULL DEFAULT '',
		thumbnail_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS videos_category_idx ON videos (category_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS user_video_progress (
		user_id TEXT NOT NULL,
		video_id VARCHAR(255) NOT NULL,
		progress_seconds BIGINT NOT NULL DEFAULT 0 CHECK (progress_seconds >= 0),
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (user_id, video_id)
	)`,
	`CREATE TABLE IF NOT EXISTS locks (
		key VARCHAR(255) PRIMARY KEY,
		holder_id VARCHAR(255) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema creates the tables used by the Control Plane.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
