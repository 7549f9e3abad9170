package memory

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	holder  string
	expires time.Time
}

// InMemoryLockManager holds leases for a single process. Used directly it
// acts as holder "local"; As gives other holders sharing the same leases.
type InMemoryLockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewLockManager() *InMemoryLockManager {
	return &InMemoryLockManager{leases: make(map[string]lease), now: time.Now}
}

func (l *InMemoryLockManager) As(holder string) *LockHolder {
	return &LockHolder{m: l, holder: holder}
}

func (l *InMemoryLockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.As("local").TryAcquire(ctx, key, ttl)
}

func (l *InMemoryLockManager) Release(ctx context.Context, key string) error {
	return l.As("local").Release(ctx, key)
}

// LockHolder is one named holder of an InMemoryLockManager.
type LockHolder struct {
	m      *InMemoryLockManager
	holder string
}

func (h *LockHolder) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	now := h.m.now()
	if cur, ok := h.m.leases[key]; ok && cur.holder != h.holder && now.Before(cur.expires) {
		return false, nil
	}
	h.m.leases[key] = lease{holder: h.holder, expires: now.Add(ttl)}
	return true, nil
}

func (h *LockHolder) Release(ctx context.Context, key string) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if cur, ok := h.m.leases[key]; ok && cur.holder == h.holder {
		delete(h.m.leases, key)
	}
	return nil
}
