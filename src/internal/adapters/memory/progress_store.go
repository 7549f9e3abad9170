package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type progressKey struct {
	userID, videoID string
}

// InMemoryProgressStore keeps one record per (user, video).
type InMemoryProgressStore struct {
	records map[progressKey]domain.ProgressRecord
	mu      sync.RWMutex
	now     func() time.Time
}

func NewProgressStore() *InMemoryProgressStore {
	return &InMemoryProgressStore{records: make(map[progressKey]domain.ProgressRecord), now: time.Now}
}

func (s *InMemoryProgressStore) FindByUserAndVideo(ctx context.Context, userID, videoID string) (*domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[progressKey{userID, videoID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryProgressStore) Insert(ctx context.Context, rec domain.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{rec.UserID, rec.VideoID}
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("progress for %s/%s already exists", rec.UserID, rec.VideoID)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.records[key] = rec
	return nil
}

func (s *InMemoryProgressStore) Update(ctx context.Context, userID, videoID string, fields domain.ProgressFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, videoID}
	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("progress for %s/%s: %w", userID, videoID, domain.ErrNotFound)
	}
	rec.ProgressSeconds = fields.ProgressSeconds
	rec.IsCompleted = fields.IsCompleted
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *InMemoryProgressStore) ListForVideos(ctx context.Context, userID string, videoIDs []string) (map[string]domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ProgressRecord, len(videoIDs))
	for _, id := range videoIDs {
		if rec, ok := s.records[progressKey{userID, id}]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *InMemoryProgressStore) ListInProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ProgressRecord
	for key, rec := range s.records {
		if key.userID == userID && !rec.IsCompleted && rec.ProgressSeconds > 0 {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
