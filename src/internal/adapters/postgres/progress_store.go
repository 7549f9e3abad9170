package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cleanova/cleanova/src/internal/domain"
)

// PostgresProgressStore backs user_video_progress.
type PostgresProgressStore struct {
	db *sql.DB
}

func NewProgressStore(db *sql.DB) *PostgresProgressStore {
	return &PostgresProgressStore{db: db}
}

func (s *PostgresProgressStore) FindByUserAndVideo(ctx context.Context, userID, videoID string) (*domain.ProgressRecord, error) {
	query := `
		SELECT user_id, video_id, progress_seconds, is_completed, updated_at
		FROM user_video_progress
		WHERE user_id = $1 AND video_id = $2
	`
	var p domain.ProgressRecord
	err := s.db.QueryRowContext(ctx, query, userID, videoID).
		Scan(&p.UserID, &p.VideoID, &p.ProgressSeconds, &p.IsCompleted, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // no progress yet is not an error
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresProgressStore) Insert(ctx context.Context, p domain.ProgressRecord) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO user_video_progress (user_id, video_id, progress_seconds, is_completed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, p.UserID, p.VideoID, p.ProgressSeconds, p.IsCompleted, p.UpdatedAt)
	return err
}

func (s *PostgresProgressStore) Update(ctx context.Context, userID, videoID string, f domain.ProgressFields) error {
	query := `
		UPDATE user_video_progress
		SET progress_seconds = $3, is_completed = $4, updated_at = $5
		WHERE user_id = $1 AND video_id = $2
	`
	res, err := s.db.ExecContext(ctx, query, userID, videoID, f.ProgressSeconds, f.IsCompleted, time.Now())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("progress for %s/%s: %w", userID, videoID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresProgressStore) ListForVideos(ctx context.Context, userID string, videoIDs []string) (map[string]domain.ProgressRecord, error) {
	out := make(map[string]domain.ProgressRecord, len(videoIDs))
	if len(videoIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT user_id, video_id, progress_seconds, is_completed, updated_at
		FROM user_video_progress
		WHERE user_id = $1 AND video_id = ANY($2)
	`
	rows, err := s.db.QueryContext(ctx, query, userID, pq.Array(videoIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ProgressRecord
		if err := rows.Scan(&p.UserID, &p.VideoID, &p.ProgressSeconds, &p.IsCompleted, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.VideoID] = p
	}
	return out, rows.Err()
}

func (s *PostgresProgressStore) ListInProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressRecord, error) {
	query := `
		SELECT user_id, video_id, progress_seconds, is_completed, updated_at
		FROM user_video_progress
		WHERE user_id = $1 AND is_completed = FALSE AND progress_seconds > 0
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProgressRecord
	for rows.Next() {
		var p domain.ProgressRecord
		if err := rows.Scan(&p.UserID, &p.VideoID, &p.ProgressSeconds, &p.IsCompleted, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
