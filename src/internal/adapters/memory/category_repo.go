package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type InMemoryCategoryRepo struct {
	items map[string]domain.Category
	mu    sync.RWMutex
}

func NewCategoryRepo() *InMemoryCategoryRepo {
	return &InMemoryCategoryRepo{items: make(map[string]domain.Category)}
}

// ListAll returns categories by name.
func (r *InMemoryCategoryRepo) ListAll(ctx context.Context) ([]domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Category, 0, len(r.items))
	for _, c := range r.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *InMemoryCategoryRepo) GetBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	name := domain.NameFromSlug(slug)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.items {
		if strings.EqualFold(c.Name, name) {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", slug, domain.ErrNotFound)
}

func (r *InMemoryCategoryRepo) Save(ctx context.Context, c *domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[c.ID] = *c
	return nil
}
