package domain

import "math"

// NominalDuration is the duration baseline used for percent math until the
// real media duration is known.
const NominalDuration = 120.0

// CompletionPercent is the playback fraction at which a video counts as watched.
const CompletionPercent = 95.0

// PlaybackPercent is elapsed/duration as a percentage, unclamped. A
// non-positive duration falls back to NominalDuration.
func PlaybackPercent(elapsed, duration float64) float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = NominalDuration
	}
	return elapsed * 100 / duration
}

// DisplayPercent is the integer percent shown for a position: 100 once
// completed, else min(100, round(elapsed/duration*100)).
func DisplayPercent(elapsed, duration float64, completed bool) int {
	if completed {
		return 100
	}
	if elapsed <= 0 || math.IsNaN(elapsed) {
		return 0
	}
	return int(math.Min(100, math.Round(PlaybackPercent(elapsed, duration))))
}

// ValidSeconds reports whether s can be persisted as a playback position:
// finite, non-negative and small enough that floor(s) fits in an int64.
func ValidSeconds(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0 && s < math.MaxInt64
}
