package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type PostgresUserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, COALESCE(email, ''), is_subscribed, created_at, last_seen
		FROM users
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.IsSubscribed, &user.CreatedAt, &user.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *PostgresUserRepo) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, is_subscribed, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			is_subscribed = EXCLUDED.is_subscribed,
			last_seen = EXCLUDED.last_seen;
	`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.IsSubscribed, user.CreatedAt, user.LastSeen)
	return err
}

func (r *PostgresUserRepo) Touch(ctx context.Context, id, email string, lastSeen time.Time) error {
	query := `
		UPDATE users
		SET email = COALESCE(NULLIF($2, ''), email),
			last_seen = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, email, lastSeen)
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
