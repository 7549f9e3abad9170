package services

import (
	"context"
	"errors"
	"sync"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type countingStore struct {
	mu      sync.Mutex
	records map[string]domain.ProgressRecord
	inserts []domain.ProgressRecord
	updates []domain.ProgressFields
	writes  []domain.ProgressFields

	findErr  error
	writeErr error

	// held, when set, parks writes until it is closed; entered reports
	// that a write is parked.
	held    chan struct{}
	entered chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{records: make(map[string]domain.ProgressRecord)}
}

func storeKey(userID, videoID string) string { return userID + "/" + videoID }

func (s *countingStore) FindByUserAndVideo(_ context.Context, userID, videoID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	rec, ok := s.records[storeKey(userID, videoID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// holdWrites parks every following write until the returned release is called.
func (s *countingStore) holdWrites() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	held := s.held
	var once sync.Once
	return s.entered, func() { once.Do(func() { close(held) }) }
}

func (s *countingStore) park() {
	s.mu.Lock()
	held, entered := s.held, s.entered
	s.mu.Unlock()
	if held == nil {
		return
	}
	select {
	case entered <- struct{}{}:
	default:
	}
	<-held
}

func (s *countingStore) Insert(_ context.Context, record domain.ProgressRecord) error {
	s.park()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.inserts = append(s.inserts, record)
	s.writes = append(s.writes, domain.ProgressFields{ProgressSeconds: record.ProgressSeconds, IsCompleted: record.IsCompleted})
	s.records[storeKey(record.UserID, record.VideoID)] = record
	return nil
}

func (s *countingStore) Update(_ context.Context, userID, videoID string, fields domain.ProgressFields) error {
	s.park()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.updates = append(s.updates, fields)
	s.writes = append(s.writes, fields)
	rec := s.records[storeKey(userID, videoID)]
	rec.ProgressSeconds = fields.ProgressSeconds
	rec.IsCompleted = fields.IsCompleted
	s.records[storeKey(userID, videoID)] = rec
	return nil
}

func (s *countingStore) ListForVideos(_ context.Context, userID string, videoIDs []string) (map[string]domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ProgressRecord)
	for _, id := range videoIDs {
		if rec, ok := s.records[storeKey(userID, id)]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *countingStore) ListInProgress(_ context.Context, userID string, limit int) ([]domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProgressRecord
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.IsCompleted && rec.ProgressSeconds > 0 {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *countingStore) seed(rec domain.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[storeKey(rec.UserID, rec.VideoID)] = rec
}

func (s *countingStore) counts() (inserts, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts), len(s.updates)
}

func (s *countingStore) allWrites() []domain.ProgressFields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProgressFields(nil), s.writes...)
}

type staticIdentity string

func (id staticIdentity) CurrentUser(context.Context) (string, bool) {
	return string(id), id != ""
}

var errStoreDown = errors.New("store down")
