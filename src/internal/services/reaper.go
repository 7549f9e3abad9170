package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// idleCloser is the part of SessionManager the reaper drives.
type idleCloser interface {
	CloseIdle() int
}

type SessionReaper struct {
	sessions idleCloser
	interval time.Duration
	logger   zerolog.Logger
}

func NewSessionReaper(sessions idleCloser, interval time.Duration, logger zerolog.Logger) *SessionReaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SessionReaper{sessions: sessions, interval: interval, logger: logger}
}

// StartMonitoring closes abandoned playback sessions until ctx is done.
func (r *SessionReaper) StartMonitoring(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("starting idle session reaper")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *SessionReaper) sweep() {
	if n := r.sessions.CloseIdle(); n > 0 {
		r.logger.Info().Int("reaped", n).Msg("closed idle playback sessions")
	}
}
