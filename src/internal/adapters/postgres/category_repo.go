package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type PostgresCategoryRepo struct {
	db *sql.DB
}

func NewCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

func (r *PostgresCategoryRepo) ListAll(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresCategoryRepo) GetBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	query := `
		SELECT id, name, created_at
		FROM categories
		WHERE LOWER(name) = LOWER($1)
		ORDER BY created_at ASC
		LIMIT 1
	`
	var c domain.Category
	err := r.db.QueryRowContext(ctx, query, domain.NameFromSlug(slug)).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresCategoryRepo) Save(ctx context.Context, c *domain.Category) error {
	query := `
		INSERT INTO categories (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name;
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.CreatedAt)
	return err
}
