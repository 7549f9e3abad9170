package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type InMemoryUserRepo struct {
	users map[string]domain.User
	mu    sync.RWMutex
}

func NewUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{users: make(map[string]domain.User)}
}

func (r *InMemoryUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (r *InMemoryUserRepo) Save(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[u.ID] = *u
	return nil
}

func (r *InMemoryUserRepo) Touch(ctx context.Context, id, email string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if email != "" {
		u.Email = email
	}
	u.LastSeen = lastSeen
	r.users[id] = u
	return nil
}
