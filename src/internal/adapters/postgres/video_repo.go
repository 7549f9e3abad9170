package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cleanova/cleanova/src/internal/domain"
)

const videoColumns = `id, title, description, COALESCE(category_id, ''), video_path, thumbnail_path, created_at`

type PostgresVideoRepo struct {
	db *sql.DB
}

func NewVideoRepo(db *sql.DB) *PostgresVideoRepo {
	return &PostgresVideoRepo{db: db}
}

func (r *PostgresVideoRepo) Save(ctx context.Context, v *domain.Video) error {
	query := `
		INSERT INTO videos (id, title, description, category_id, video_path, thumbnail_path, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category_id = EXCLUDED.category_id,
			video_path = EXCLUDED.video_path,
			thumbnail_path = EXCLUDED.thumbnail_path;
	`
	_, err := r.db.ExecContext(ctx, query,
		v.ID,
		v.Title,
		v.Description,
		v.CategoryID,
		v.VideoPath,
		v.ThumbnailPath,
		v.CreatedAt,
	)
	return err
}

func (r *PostgresVideoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)

	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PostgresVideoRepo) ListLatest(ctx context.Context, limit int) ([]domain.Video, error) {
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id ASC LIMIT $1`, limit)
}

func (r *PostgresVideoRepo) ListByCategory(ctx context.Context, categoryID string) ([]domain.Video, error) {
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE category_id = $1 ORDER BY created_at DESC, id ASC`, categoryID)
}

func (r *PostgresVideoRepo) ListRelated(ctx context.Context, categoryID, excludeID string, limit int) ([]domain.Video, error) {
	return r.query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE category_id = $1 AND id <> $2
		ORDER BY created_at DESC, id ASC
		LIMIT $3
	`, categoryID, excludeID, limit)
}

func (r *PostgresVideoRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *PostgresVideoRepo) query(ctx context.Context, query string, args ...any) ([]domain.Video, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(s scanner) (*domain.Video, error) {
	var v domain.Video
	err := s.Scan(
		&v.ID,
		&v.Title,
		&v.Description,
		&v.CategoryID,
		&v.VideoPath,
		&v.ThumbnailPath,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
