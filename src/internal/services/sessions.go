package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/metrics"
	"github.com/cleanova/cleanova/src/internal/ports"
)

// Caller is the authenticated user behind a request, with the instant its
// credentials stop being valid (zero means no expiry).
type Caller struct {
	UserID     string
	ValidUntil time.Time
}

// ownerGrant is the write-time identity of one session: the owner for as
// long as the last presented credentials are valid.
type ownerGrant struct {
	mu         sync.Mutex
	userID     string
	validUntil time.Time
	now        func() time.Time
}

func newOwnerGrant(c Caller, now func() time.Time) *ownerGrant {
	return &ownerGrant{userID: c.UserID, validUntil: c.ValidUntil, now: now}
}

func (g *ownerGrant) CurrentUser(context.Context) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.userID == "" {
		return "", false
	}
	if !g.validUntil.IsZero() && !g.now().Before(g.validUntil) {
		return "", false
	}
	return g.userID, true
}

func (g *ownerGrant) refresh(c Caller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.ValidUntil.IsZero() || c.ValidUntil.After(g.validUntil) {
		g.validUntil = c.ValidUntil
	}
}

type SessionConfig struct {
	BackstopInterval time.Duration
	IdleTimeout      time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.BackstopInterval <= 0 {
		c.BackstopInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	return c
}

// SessionManager owns the live playback sessions of this process. Each
// session runs in its own goroutine; every mutation of its state, including
// the backstop timer, happens on that goroutine.
type SessionManager struct {
	videos   ports.VideoRepository
	progress ports.ProgressStore
	resolver *AssetResolver
	writer   *ProgressWriter
	cfg      SessionConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionActor
	wg       sync.WaitGroup
}

func NewSessionManager(videos ports.VideoRepository, progress ports.ProgressStore, resolver *AssetResolver, writer *ProgressWriter, cfg SessionConfig, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		videos:   videos,
		progress: progress,
		resolver: resolver,
		writer:   writer,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*sessionActor),
	}
}

type sessionActor struct {
	id      string
	owner   string
	video   domain.Video
	grant   *ownerGrant
	session *PlaybackSession

	inbox      chan func(*PlaybackSession)
	quit       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	lastActive atomic.Int64
}

func (a *sessionActor) run(backstop time.Duration) {
	defer close(a.stopped)
	ticker := time.NewTicker(backstop)
	defer ticker.Stop()

	// Backstop writes are not tied to any request.
	ctx := context.Background()
	for {
		select {
		case <-a.quit:
			return
		case fn := <-a.inbox:
			fn(a.session)
		case <-ticker.C:
			a.session.Backstop(ctx)
		}
	}
}

// do runs fn on the actor goroutine and waits for it.
func (a *sessionActor) do(ctx context.Context, fn func(*PlaybackSession) error) error {
	done := make(chan error, 1)
	job := func(s *PlaybackSession) { done <- fn(s) }
	select {
	case a.inbox <- job:
	case <-a.quit:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-a.stopped:
		select {
		case err := <-done:
			return err
		default:
			return domain.ErrSessionClosed
		}
	}
}

// signal asks the actor to exit once the job in hand, if any, returns.
func (a *sessionActor) signal() {
	a.closeOnce.Do(func() { close(a.quit) })
}

func (m *SessionManager) touch(a *sessionActor) {
	a.lastActive.Store(m.now().UnixNano())
}

// Open mounts a new session for videoID: resolve its URLs, seed the prior
// progress of the caller and start the actor.
func (m *SessionManager) Open(ctx context.Context, caller Caller, videoID string) (Snapshot, error) {
	video, err := m.videos.GetByID(ctx, videoID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load video %s: %w", videoID, err)
	}
	resolved := m.resolver.ResolveVideos(ctx, []domain.Video{*video})[0]

	prior, err := m.progress.FindByUserAndVideo(ctx, caller.UserID, video.ID)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("user_id", caller.UserID).
			Str("video_id", video.ID).
			Msg("loading prior progress failed, starting from zero")
		prior = nil
	}

	id := uuid.NewString()
	grant := newOwnerGrant(caller, m.now)
	logger := m.logger.With().Str("user_id", caller.UserID).Logger()
	session := NewPlaybackSession(id, resolved, prior, NewSynchronizer(m.writer, grant, video.ID), logger)
	if err := session.Mount(); err != nil {
		return Snapshot{}, err
	}

	a := &sessionActor{
		id:      id,
		owner:   caller.UserID,
		video:   *video,
		grant:   grant,
		session: session,
		inbox:   make(chan func(*PlaybackSession)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	m.touch(a)
	snap := session.Snapshot()

	m.mu.Lock()
	m.sessions[id] = a
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		a.run(m.cfg.BackstopInterval)
	}()

	m.logger.Info().
		Str("session_id", id).
		Str("user_id", caller.UserID).
		Str("video_id", video.ID).
		Str("state", string(snap.State)).
		Msg("playback session opened")
	return snap, nil
}

// lookup returns the caller's session. Sessions of other users are reported
// as missing.
func (m *SessionManager) lookup(caller Caller, id string) (*sessionActor, error) {
	m.mu.Lock()
	a, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || a.owner != caller.UserID {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	a.grant.refresh(caller)
	m.touch(a)
	return a, nil
}

// Dispatch applies one media event. Writes it triggers outlive the request.
func (m *SessionManager) Dispatch(ctx context.Context, caller Caller, id string, ev MediaEvent) (Snapshot, error) {
	a, err := m.lookup(caller, id)
	if err != nil {
		return Snapshot{}, err
	}
	writeCtx := context.WithoutCancel(ctx)
	var snap Snapshot
	err = a.do(ctx, func(s *PlaybackSession) error {
		applyErr := s.Apply(writeCtx, ev)
		snap = s.Snapshot()
		return applyErr
	})
	return snap, err
}

// Retry re-resolves the session's URLs and starts a new load generation.
func (m *SessionManager) Retry(ctx context.Context, caller Caller, id string) (Snapshot, error) {
	a, err := m.lookup(caller, id)
	if err != nil {
		return Snapshot{}, err
	}
	resolved := m.resolver.ResolveVideos(ctx, []domain.Video{a.video})[0]
	var snap Snapshot
	err = a.do(ctx, func(s *PlaybackSession) error {
		retryErr := s.Retry(&resolved)
		snap = s.Snapshot()
		return retryErr
	})
	return snap, err
}

func (m *SessionManager) Get(ctx context.Context, caller Caller, id string) (Snapshot, error) {
	a, err := m.lookup(caller, id)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err = a.do(ctx, func(s *PlaybackSession) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Close tears the session down. A write already in progress completes; no
// new triggers are scheduled.
func (m *SessionManager) Close(_ context.Context, caller Caller, id string) error {
	a, err := m.lookup(caller, id)
	if err != nil {
		return err
	}
	m.remove(a, "closed")
	return nil
}

func (m *SessionManager) remove(a *sessionActor, reason string) {
	m.detach(a, reason)
	<-a.stopped
}

// detach unregisters a and signals its actor without waiting for it.
func (m *SessionManager) detach(a *sessionActor, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[a.id]
	delete(m.sessions, a.id)
	m.mu.Unlock()

	a.signal()
	if ok {
		metrics.ActiveSessions.Dec()
		m.logger.Info().Str("session_id", a.id).Str("reason", reason).Msg("playback session ended")
	}
}

// CloseIdle removes sessions without activity for the idle timeout and
// returns how many were removed.
func (m *SessionManager) CloseIdle() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout).UnixNano()

	m.mu.Lock()
	var idle []*sessionActor
	for _, a := range m.sessions {
		if a.lastActive.Load() < cutoff {
			idle = append(idle, a)
		}
	}
	m.mu.Unlock()

	for _, a := range idle {
		m.remove(a, "idle")
	}
	return len(idle)
}

// Shutdown signals every session, then waits for the actors to exit until
// ctx is done. A store write stuck in an actor does not extend the wait.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*sessionActor, 0, len(m.sessions))
	for _, a := range m.sessions {
		all = append(all, a)
	}
	m.mu.Unlock()

	for _, a := range all {
		m.detach(a, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("playback sessions did not stop"), ctx.Err())
	}
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
