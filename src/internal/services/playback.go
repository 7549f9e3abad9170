package services

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/metrics"
)

type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateLoading SessionState = "loading"
	StateReady   SessionState = "ready"
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateEnded   SessionState = "ended"
	StateError   SessionState = "error"
)

// Media element error codes as reported by HTML media elements.
const (
	MediaErrAborted         = 1
	MediaErrNetwork         = 2
	MediaErrDecode          = 3
	MediaErrSrcNotSupported = 4
)

type ErrorCategory string

const (
	ErrorInvalidURL        ErrorCategory = "invalid-url"
	ErrorUnloadable        ErrorCategory = "unloadable"
	ErrorUnplayable        ErrorCategory = "unplayable"
	ErrorUndownloadable    ErrorCategory = "undownloadable"
	ErrorUnsupportedFormat ErrorCategory = "unsupported-format"
	ErrorUnknown           ErrorCategory = "unknown"
)

// PlaybackError is the user-facing failure of the current load attempt.
type PlaybackError struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	Code     int           `json:"code,omitempty"`
}

// MapMediaError turns a media element error code into a user-facing error.
func MapMediaError(code int, message string) PlaybackError {
	switch code {
	case MediaErrAborted:
		return PlaybackError{Category: ErrorUnloadable, Message: "video cannot be loaded", Code: code}
	case MediaErrNetwork:
		return PlaybackError{Category: ErrorUnplayable, Message: "video cannot be played", Code: code}
	case MediaErrDecode:
		return PlaybackError{Category: ErrorUndownloadable, Message: "video cannot be downloaded", Code: code}
	case MediaErrSrcNotSupported:
		return PlaybackError{Category: ErrorUnsupportedFormat, Message: "video format is not supported", Code: code}
	}
	msg := "failed to load video"
	if message != "" {
		msg = fmt.Sprintf("%s: %s", msg, message)
	}
	return PlaybackError{Category: ErrorUnknown, Message: msg, Code: code}
}

type EventType string

const (
	EventLoadStart      EventType = "loadstart"
	EventLoadedData     EventType = "loadeddata"
	EventCanPlay        EventType = "canplay"
	EventDurationChange EventType = "durationchange"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventTimeUpdate     EventType = "timeupdate"
	EventSeeked         EventType = "seeked"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
)

// MediaEvent is one event reported by the player's media element.
type MediaEvent struct {
	Type         EventType `json:"type"`
	Generation   uint64    `json:"generation"`
	Time         float64   `json:"time"`
	Duration     float64   `json:"duration,omitempty"`
	ErrorCode    int       `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// PlaybackState is owned by exactly one PlaybackSession.
type PlaybackState struct {
	State         SessionState
	Elapsed       float64
	Duration      float64 // 0 until the media reports it
	Completed     bool
	LastPersisted float64
	Loading       bool
	Err           *PlaybackError
	Generation    uint64
	SeekTo        *float64
}

// EffectiveDuration is the media duration, or the nominal baseline before
// metadata is known.
func (st *PlaybackState) EffectiveDuration() float64 {
	if st.Duration > 0 {
		return st.Duration
	}
	return domain.NominalDuration
}

func (st *PlaybackState) Percent() int {
	return domain.DisplayPercent(st.Elapsed, st.Duration, st.Completed)
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID       string         `json:"sessionId"`
	VideoID         string         `json:"videoId"`
	Title           string         `json:"title"`
	VideoURL        string         `json:"videoUrl"`
	ThumbnailURL    string         `json:"thumbnailUrl"`
	State           SessionState   `json:"state"`
	Generation      uint64         `json:"generation"`
	ElapsedSeconds  float64        `json:"elapsedSeconds"`
	DurationSeconds float64        `json:"durationSeconds"`
	Percent         int            `json:"percent"`
	Completed       bool           `json:"completed"`
	Loading         bool           `json:"loading"`
	Error           *PlaybackError `json:"error,omitempty"`
	SeekTo          *float64       `json:"seekTo,omitempty"`
}

// PlaybackSession is the state machine of one player:
// Idle -> Loading -> Ready -> Playing <-> Paused -> Ended, with Error
// reachable from any loaded state and left only through Retry.
type PlaybackSession struct {
	id     string
	video  domain.ResolvedVideo
	state  PlaybackState
	sync   *Synchronizer
	logger zerolog.Logger
}

// NewPlaybackSession seeds the state from the prior progress record, if any.
func NewPlaybackSession(id string, video domain.ResolvedVideo, prior *domain.ProgressRecord, sync *Synchronizer, logger zerolog.Logger) *PlaybackSession {
	s := &PlaybackSession{
		id:    id,
		video: video,
		state: PlaybackState{State: StateIdle},
		sync:  sync,
		logger: logger.With().
			Str("session_id", id).
			Str("video_id", video.ID).
			Logger(),
	}
	if prior != nil {
		s.state.Elapsed = float64(prior.ProgressSeconds)
		s.state.LastPersisted = float64(prior.ProgressSeconds)
		s.state.Completed = prior.IsCompleted
	}
	return s
}

func (s *PlaybackSession) ID() string { return s.id }

func (s *PlaybackSession) Video() domain.ResolvedVideo { return s.video }

func (s *PlaybackSession) State() PlaybackState { return s.state }

// Mount leaves Idle: straight to Error for an unusable URL, else Loading.
func (s *PlaybackSession) Mount() error {
	if s.state.State != StateIdle {
		return fmt.Errorf("mount from %s: %w", s.state.State, domain.ErrInvalidTransition)
	}
	s.beginLoad()
	return nil
}

func (s *PlaybackSession) beginLoad() {
	s.state.SeekTo = nil
	if !ValidVideoURL(s.video.VideoURL) {
		s.state.State = StateError
		s.state.Loading = false
		s.state.Err = &PlaybackError{Category: ErrorInvalidURL, Message: "invalid video URL"}
		metrics.IncMediaError(string(ErrorInvalidURL))
		s.logger.Warn().Str("video_url", s.video.VideoURL).Msg("invalid video URL, not loading")
		return
	}
	s.state.State = StateLoading
	s.state.Loading = true
	s.state.Err = nil
}

// Retry leaves Error for a fresh load attempt under a new generation. A
// non-empty videoURL replaces the current one (re-resolved asset).
func (s *PlaybackSession) Retry(video *domain.ResolvedVideo) error {
	if s.state.State != StateError {
		return fmt.Errorf("retry from %s: %w", s.state.State, domain.ErrInvalidTransition)
	}
	s.state.Generation++
	if video != nil {
		s.video = *video
	}
	s.logger.Info().Uint64("generation", s.state.Generation).Msg("retrying playback")
	s.beginLoad()
	return nil
}

// Apply feeds one media event through the state machine. Events from an
// earlier generation are rejected without touching state.
func (s *PlaybackSession) Apply(ctx context.Context, ev MediaEvent) error {
	if ev.Generation != s.state.Generation {
		s.logger.Debug().
			Uint64("event_generation", ev.Generation).
			Uint64("generation", s.state.Generation).
			Str("event", string(ev.Type)).
			Msg("dropping stale media event")
		return domain.ErrStaleGeneration
	}
	if s.state.State == StateIdle {
		return fmt.Errorf("%s before mount: %w", ev.Type, domain.ErrInvalidTransition)
	}

	st := &s.state
	s.observeDuration(ev.Duration)

	switch ev.Type {
	case EventLoadStart:
		if st.State == StateError {
			return nil
		}
		st.State = StateLoading
		st.Loading = true
		st.Err = nil

	case EventLoadedData, EventCanPlay:
		if st.State == StateError {
			return nil
		}
		st.Loading = false
		if st.State == StateLoading {
			st.State = StateReady
			if st.Elapsed > 0 {
				offset := st.Elapsed
				st.SeekTo = &offset
			}
		}

	case EventDurationChange:
		// duration already observed

	case EventPlay:
		if !s.loaded() {
			return nil
		}
		st.SeekTo = nil
		st.State = StatePlaying

	case EventTimeUpdate:
		if !s.loaded() {
			return nil
		}
		s.advance(ev.Time)
		s.sync.OnTimeUpdate(ctx, st)

	case EventPause:
		if !s.loaded() {
			return nil
		}
		s.advance(ev.Time)
		if st.State == StatePlaying {
			st.State = StatePaused
		}
		s.sync.OnPause(ctx, st)

	case EventSeeked:
		if !s.loaded() {
			return nil
		}
		if domain.ValidSeconds(ev.Time) {
			st.Elapsed = ev.Time
		}
		st.SeekTo = nil
		if st.State == StateEnded {
			st.State = StatePaused
		}
		s.sync.OnSeek(ctx, st)

	case EventEnded:
		if !s.loaded() {
			return nil
		}
		s.advance(ev.Time)
		st.State = StateEnded
		if d := st.EffectiveDuration(); st.Elapsed < d {
			st.Elapsed = d
		}
		s.sync.OnEnd(ctx, st)

	case EventError:
		perr := MapMediaError(ev.ErrorCode, ev.ErrorMessage)
		st.State = StateError
		st.Loading = false
		st.SeekTo = nil
		st.Err = &perr
		metrics.IncMediaError(string(perr.Category))
		s.logger.Warn().
			Int("code", ev.ErrorCode).
			Str("category", string(perr.Category)).
			Str("detail", ev.ErrorMessage).
			Msg("media error")

	default:
		return fmt.Errorf("unknown media event %q: %w", ev.Type, domain.ErrInvalidTransition)
	}
	return nil
}

// Backstop is the wall-clock guard against missed time updates.
func (s *PlaybackSession) Backstop(ctx context.Context) {
	s.sync.OnBackstop(ctx, &s.state)
}

func (s *PlaybackSession) Snapshot() Snapshot {
	st := s.state
	snap := Snapshot{
		SessionID:       s.id,
		VideoID:         s.video.ID,
		Title:           s.video.Title,
		VideoURL:        s.video.VideoURL,
		ThumbnailURL:    s.video.ThumbnailURL,
		State:           st.State,
		Generation:      st.Generation,
		ElapsedSeconds:  st.Elapsed,
		DurationSeconds: st.EffectiveDuration(),
		Percent:         st.Percent(),
		Completed:       st.Completed,
		Loading:         st.Loading,
	}
	if st.Err != nil {
		e := *st.Err
		snap.Error = &e
	}
	if st.SeekTo != nil {
		v := *st.SeekTo
		snap.SeekTo = &v
	}
	return snap
}

func (s *PlaybackSession) loaded() bool {
	switch s.state.State {
	case StateReady, StatePlaying, StatePaused, StateEnded:
		return true
	}
	return false
}

// advance moves the position forward only; going back needs a seek.
func (s *PlaybackSession) advance(t float64) {
	if domain.ValidSeconds(t) && t > s.state.Elapsed {
		s.state.Elapsed = t
	}
}

func (s *PlaybackSession) observeDuration(d float64) {
	if d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
		s.state.Duration = d
	}
}

// ValidVideoURL accepts absolute http(s) URLs with a host.
func ValidVideoURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
