package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/metrics"
	"github.com/cleanova/cleanova/src/internal/ports"
)

// Trigger names what caused a progress write.
type Trigger string

const (
	TriggerPeriodic   Trigger = "periodic"
	TriggerCompletion Trigger = "completion"
	TriggerPause      Trigger = "pause"
	TriggerSeek       Trigger = "seek"
	TriggerEnd        Trigger = "end"
	TriggerBackstop   Trigger = "backstop"
)

const (
	// PersistThreshold is the position drift that forces a periodic write.
	PersistThreshold = 30.0
	writeStripes     = 64
)

// ProgressWriter is the only write path into the ProgressStore. Writes for
// the same (user, video) pair are serialized so the existence check and the
// insert/update that follows cannot interleave with another producer.
type ProgressWriter struct {
	store  ports.ProgressStore
	locks  [writeStripes]sync.Mutex
	logger zerolog.Logger
}

func NewProgressWriter(store ports.ProgressStore, logger zerolog.Logger) *ProgressWriter {
	return &ProgressWriter{store: store, logger: logger}
}

func (w *ProgressWriter) lockFor(userID, videoID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(videoID))
	return &w.locks[h.Sum32()%writeStripes]
}

// Upsert persists floor(seconds) and completed for the current identity. It
// reports whether a row was written; a missing identity or an invalid
// position is a silent no-op.
func (w *ProgressWriter) Upsert(ctx context.Context, identity ports.Identity, videoID string, seconds float64, completed bool, trigger Trigger) (bool, error) {
	var userID string
	ok := false
	if identity != nil {
		userID, ok = identity.CurrentUser(ctx)
	}
	if !ok || userID == "" {
		w.logger.Debug().Str("video_id", videoID).Str("trigger", string(trigger)).Msg("no user identity, skipping progress save")
		metrics.IncProgressWrite(string(trigger), "skipped")
		return false, nil
	}
	if videoID == "" || !domain.ValidSeconds(seconds) {
		w.logger.Warn().Str("video_id", videoID).Float64("seconds", seconds).Msg("invalid progress input, skipping save")
		metrics.IncProgressWrite(string(trigger), "skipped")
		return false, nil
	}

	fields := domain.ProgressFields{
		ProgressSeconds: int64(math.Floor(seconds)),
		IsCompleted:     completed,
	}

	mu := w.lockFor(userID, videoID)
	mu.Lock()
	defer mu.Unlock()

	log := w.logger.With().
		Str("user_id", userID).
		Str("video_id", videoID).
		Str("trigger", string(trigger)).
		Int64("seconds", fields.ProgressSeconds).
		Bool("completed", completed).
		Logger()

	existing, err := w.store.FindByUserAndVideo(ctx, userID, videoID)
	if err != nil {
		log.Error().Err(err).Msg("checking existing progress failed")
		metrics.IncProgressWrite(string(trigger), "failed")
		return false, fmt.Errorf("check existing progress: %w", err)
	}

	if existing != nil {
		if err := w.store.Update(ctx, userID, videoID, fields); err != nil {
			log.Error().Err(err).Msg("progress update failed")
			metrics.IncProgressWrite(string(trigger), "failed")
			return false, fmt.Errorf("update progress: %w", err)
		}
		log.Debug().Msg("progress updated")
		metrics.IncProgressWrite(string(trigger), "updated")
		return true, nil
	}

	record := domain.ProgressRecord{
		UserID:          userID,
		VideoID:         videoID,
		ProgressSeconds: fields.ProgressSeconds,
		IsCompleted:     fields.IsCompleted,
		UpdatedAt:       time.Now(),
	}
	if err := w.store.Insert(ctx, record); err != nil {
		log.Error().Err(err).Msg("progress insert failed")
		metrics.IncProgressWrite(string(trigger), "failed")
		return false, fmt.Errorf("insert progress: %w", err)
	}
	log.Debug().Msg("progress inserted")
	metrics.IncProgressWrite(string(trigger), "inserted")
	return true, nil
}

// Synchronizer decides, per playback session, when a position is worth
// persisting. It mutates the session's PlaybackState: the completed flag and
// the last-persisted marker, which only advances after a successful write.
type Synchronizer struct {
	writer   *ProgressWriter
	identity ports.Identity
	videoID  string
}

func NewSynchronizer(writer *ProgressWriter, identity ports.Identity, videoID string) *Synchronizer {
	return &Synchronizer{writer: writer, identity: identity, videoID: videoID}
}

func (s *Synchronizer) persist(ctx context.Context, st *PlaybackState, seconds float64, completed bool, trigger Trigger) bool {
	written, err := s.writer.Upsert(ctx, s.identity, s.videoID, seconds, completed, trigger)
	if err != nil || !written {
		return false
	}
	st.LastPersisted = seconds
	return true
}

// OnTimeUpdate applies the completion and periodic thresholds.
func (s *Synchronizer) OnTimeUpdate(ctx context.Context, st *PlaybackState) {
	if !st.Completed && domain.PlaybackPercent(st.Elapsed, st.Duration) >= domain.CompletionPercent {
		st.Completed = true
		s.persist(ctx, st, st.Elapsed, true, TriggerCompletion)
	}
	if math.Abs(st.Elapsed-st.LastPersisted) >= PersistThreshold {
		s.persist(ctx, st, st.Elapsed, st.Completed, TriggerPeriodic)
	}
}

func (s *Synchronizer) OnPause(ctx context.Context, st *PlaybackState) {
	s.persist(ctx, st, st.Elapsed, st.Completed, TriggerPause)
}

func (s *Synchronizer) OnSeek(ctx context.Context, st *PlaybackState) {
	s.persist(ctx, st, st.Elapsed, st.Completed, TriggerSeek)
}

// OnEnd persists the full duration (real when known, nominal otherwise) as
// completed.
func (s *Synchronizer) OnEnd(ctx context.Context, st *PlaybackState) {
	st.Completed = true
	s.persist(ctx, st, st.EffectiveDuration(), true, TriggerEnd)
}

// OnBackstop persists the current position while media is playing.
func (s *Synchronizer) OnBackstop(ctx context.Context, st *PlaybackState) {
	if st.State != StatePlaying {
		return
	}
	s.persist(ctx, st, st.Elapsed, st.Completed, TriggerBackstop)
}
