package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type InMemoryVideoRepo struct {
	items map[string]domain.Video
	mu    sync.RWMutex
}

func NewVideoRepo() *InMemoryVideoRepo {
	return &InMemoryVideoRepo{
		items: make(map[string]domain.Video),
	}
}

func (r *InMemoryVideoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	return &item, nil
}

// newestFirst orders by creation time, newest first, ties by ID.
func newestFirst(items []domain.Video) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (r *InMemoryVideoRepo) filter(keep func(domain.Video) bool) []domain.Video {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Video, 0, len(r.items))
	for _, item := range r.items {
		if keep(item) {
			items = append(items, item)
		}
	}
	newestFirst(items)
	return items
}

func limitVideos(items []domain.Video, limit int) []domain.Video {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (r *InMemoryVideoRepo) ListLatest(ctx context.Context, limit int) ([]domain.Video, error) {
	return limitVideos(r.filter(func(domain.Video) bool { return true }), limit), nil
}

func (r *InMemoryVideoRepo) ListByCategory(ctx context.Context, categoryID string) ([]domain.Video, error) {
	return r.filter(func(v domain.Video) bool { return v.CategoryID == categoryID }), nil
}

func (r *InMemoryVideoRepo) ListRelated(ctx context.Context, categoryID, excludeID string, limit int) ([]domain.Video, error) {
	return limitVideos(r.filter(func(v domain.Video) bool {
		return v.CategoryID == categoryID && v.ID != excludeID
	}), limit), nil
}

func (r *InMemoryVideoRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Video, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(v domain.Video) bool { return want[v.ID] }), nil
}

func (r *InMemoryVideoRepo) Save(ctx context.Context, item *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID] = *item
	return nil
}
