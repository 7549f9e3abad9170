package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// PostgresLockManager keeps leases in the locks table. A holder may extend
// its own lease; expired leases are taken over.
type PostgresLockManager struct {
	db       *sql.DB
	holderID string
}

func NewLockManager(db *sql.DB) *PostgresLockManager {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &PostgresLockManager{db: db, holderID: host + "-" + uuid.NewString()[:8]}
}

func (l *PostgresLockManager) HolderID() string { return l.holderID }

func (l *PostgresLockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE key = $1 AND expires_at < NOW()`, key); err != nil {
		return false, fmt.Errorf("expire lock %s: %w", key, err)
	}

	expiresAt := time.Now().Add(ttl)
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO locks (key, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, l.holderID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return true, nil
	}

	res, err = l.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = $3
		WHERE key = $1 AND holder_id = $2
	`, key, l.holderID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", key, err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (l *PostgresLockManager) Release(ctx context.Context, key string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE key = $1 AND holder_id = $2`, key, l.holderID); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
