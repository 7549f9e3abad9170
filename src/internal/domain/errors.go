package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid playback transition")
	ErrSessionClosed     = errors.New("playback session closed")
	ErrStaleGeneration   = errors.New("stale playback generation")
)
