package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var (
		u                 domain.User
		created, lastSeen int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, is_subscribed, created_at, last_seen FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.IsSubscribed, &created, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	u.LastSeen = fromUnix(lastSeen)
	return &u, nil
}

func (r *UserRepo) Save(ctx context.Context, u *domain.User) error {
	_, err := execWithRetry(ctx, r.db, `
		INSERT INTO users (id, email, is_subscribed, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			is_subscribed = excluded.is_subscribed,
			last_seen = excluded.last_seen`,
		u.ID, u.Email, u.IsSubscribed, toUnix(u.CreatedAt), toUnix(u.LastSeen))
	return err
}

func (r *UserRepo) Touch(ctx context.Context, id, email string, lastSeen time.Time) error {
	res, err := execWithRetry(ctx, r.db, `
		UPDATE users
		SET email = COALESCE(NULLIF(?, ''), email),
			last_seen = ?
		WHERE id = ?`,
		email, toUnix(lastSeen), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type CategoryRepo struct{ db *sql.DB }

func NewCategoryRepo(db *sql.DB) *CategoryRepo { return &CategoryRepo{db: db} }

func (r *CategoryRepo) ListAll(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var (
			c       domain.Category
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CategoryRepo) GetBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	var (
		c       domain.Category
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM categories WHERE LOWER(name) = ? ORDER BY created_at ASC LIMIT 1`,
		strings.ToLower(domain.NameFromSlug(slug))).
		Scan(&c.ID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnix(created)
	return &c, nil
}

func (r *CategoryRepo) Save(ctx context.Context, c *domain.Category) error {
	_, err := execWithRetry(ctx, r.db, `
		INSERT INTO categories (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, toUnix(c.CreatedAt))
	return err
}

const videoColumns = `id, title, description, category_id, video_path, thumbnail_path, created_at`

type VideoRepo struct{ db *sql.DB }

func NewVideoRepo(db *sql.DB) *VideoRepo { return &VideoRepo{db: db} }

func (r *VideoRepo) Save(ctx context.Context, v *domain.Video) error {
	_, err := execWithRetry(ctx, r.db, `
		INSERT INTO videos (`+videoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category_id = excluded.category_id,
			video_path = excluded.video_path,
			thumbnail_path = excluded.thumbnail_path`,
		v.ID, v.Title, v.Description, v.CategoryID, v.VideoPath, v.ThumbnailPath, toUnix(v.CreatedAt))
	return err
}

func (r *VideoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	items, err := r.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	return &items[0], nil
}

func (r *VideoRepo) ListLatest(ctx context.Context, limit int) ([]domain.Video, error) {
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
}

func (r *VideoRepo) ListByCategory(ctx context.Context, categoryID string) ([]domain.Video, error) {
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE category_id = ? ORDER BY created_at DESC, id ASC`, categoryID)
}

func (r *VideoRepo) ListRelated(ctx context.Context, categoryID, excludeID string, limit int) ([]domain.Video, error) {
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos
		WHERE category_id = ? AND id <> ?
		ORDER BY created_at DESC, id ASC LIMIT ?`, categoryID, excludeID, limit)
}

func (r *VideoRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+videoColumns+` FROM videos WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(nil, ids)...)
}

func (r *VideoRepo) query(ctx context.Context, query string, args ...any) ([]domain.Video, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Video
	for rows.Next() {
		var (
			v       domain.Video
			created int64
		)
		if err := rows.Scan(&v.ID, &v.Title, &v.Description, &v.CategoryID, &v.VideoPath, &v.ThumbnailPath, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = fromUnix(created)
		items = append(items, v)
	}
	return items, rows.Err()
}

type ProgressStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewProgressStore(db *sql.DB) *ProgressStore { return &ProgressStore{db: db, now: time.Now} }

const progressColumns = `user_id, video_id, progress_seconds, is_completed, updated_at`

func (s *ProgressStore) FindByUserAndVideo(ctx context.Context, userID, videoID string) (*domain.ProgressRecord, error) {
	recs, err := s.query(ctx, `SELECT `+progressColumns+` FROM user_video_progress WHERE user_id = ? AND video_id = ?`, userID, videoID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *ProgressStore) Insert(ctx context.Context, p domain.ProgressRecord) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	_, err := execWithRetry(ctx, s.db,
		`INSERT INTO user_video_progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.VideoID, p.ProgressSeconds, p.IsCompleted, toUnix(p.UpdatedAt))
	return err
}

func (s *ProgressStore) Update(ctx context.Context, userID, videoID string, f domain.ProgressFields) error {
	res, err := execWithRetry(ctx, s.db, `
		UPDATE user_video_progress
		SET progress_seconds = ?, is_completed = ?, updated_at = ?
		WHERE user_id = ? AND video_id = ?`,
		f.ProgressSeconds, f.IsCompleted, toUnix(s.now()), userID, videoID)
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

func (s *ProgressStore) ListForVideos(ctx context.Context, userID string, videoIDs []string) (map[string]domain.ProgressRecord, error) {
	out := make(map[string]domain.ProgressRecord, len(videoIDs))
	if len(videoIDs) == 0 {
		return out, nil
	}
	recs, err := s.query(ctx,
		`SELECT `+progressColumns+` FROM user_video_progress WHERE user_id = ? AND video_id IN (`+placeholders(len(videoIDs))+`)`,
		stringArgs([]any{userID}, videoIDs)...)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.VideoID] = r
	}
	return out, nil
}

func (s *ProgressStore) ListInProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressRecord, error) {
	return s.query(ctx, `SELECT `+progressColumns+` FROM user_video_progress
		WHERE user_id = ? AND is_completed = 0 AND progress_seconds > 0
		ORDER BY updated_at DESC LIMIT ?`, userID, limit)
}

func (s *ProgressStore) query(ctx context.Context, query string, args ...any) ([]domain.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProgressRecord
	for rows.Next() {
		var (
			p       domain.ProgressRecord
			updated int64
		)
		if err := rows.Scan(&p.UserID, &p.VideoID, &p.ProgressSeconds, &p.IsCompleted, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = fromUnix(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}
