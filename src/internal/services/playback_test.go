package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanova/cleanova/src/internal/domain"
)

const testVideoURL = "https://cdn.example.com/videos/knife-skills.mp4?sig=abc"

func newTestSession(t *testing.T, videoURL string, prior *domain.ProgressRecord, identity staticIdentity) (*PlaybackSession, *countingStore) {
	t.Helper()
	store := newCountingStore()
	if prior != nil {
		store.seed(*prior)
	}
	video := domain.ResolvedVideo{
		Video:    domain.Video{ID: "v1", Title: "Knife skills"},
		VideoURL: videoURL,
	}
	s := NewPlaybackSession("s1", video, prior, newSync(store, identity), zerolog.Nop())
	return s, store
}

func apply(t *testing.T, s *PlaybackSession, evs ...MediaEvent) {
	t.Helper()
	for _, ev := range evs {
		ev.Generation = s.State().Generation
		require.NoError(t, s.Apply(context.Background(), ev), "event %s", ev.Type)
	}
}

func TestPlayback_InvalidURLGoesStraightToError(t *testing.T) {
	for _, raw := range []string{"", "not-a-url", "ftp://host/file.mp4", "https://", "/videos/a.mp4"} {
		s, _ := newTestSession(t, raw, nil, "u1")
		require.NoError(t, s.Mount())

		st := s.State()
		assert.Equal(t, StateError, st.State, "url=%q", raw)
		assert.False(t, st.Loading)
		require.NotNil(t, st.Err)
		assert.Equal(t, ErrorInvalidURL, st.Err.Category)
		assert.Equal(t, "invalid video URL", st.Err.Message)
	}
}

func TestPlayback_MountTwiceRejected(t *testing.T) {
	s, _ := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	assert.Equal(t, StateLoading, s.State().State)
	assert.True(t, s.State().Loading)
	assert.ErrorIs(t, s.Mount(), domain.ErrInvalidTransition)
}

func TestPlayback_ResumeSeeksToPriorOffset(t *testing.T) {
	prior := &domain.ProgressRecord{UserID: "u1", VideoID: "v1", ProgressSeconds: 45}
	s, _ := newTestSession(t, testVideoURL, prior, "u1")
	require.NoError(t, s.Mount())

	assert.Equal(t, 38, s.Snapshot().Percent)

	apply(t, s, MediaEvent{Type: EventLoadStart}, MediaEvent{Type: EventLoadedData})
	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	require.NotNil(t, snap.SeekTo)
	assert.Equal(t, 45.0, *snap.SeekTo)
	assert.Equal(t, 38, snap.Percent)

	apply(t, s, MediaEvent{Type: EventSeeked, Time: 45}, MediaEvent{Type: EventPlay})
	assert.Nil(t, s.Snapshot().SeekTo)
	assert.Equal(t, StatePlaying, s.State().State)
}

func TestPlayback_NoPriorNoSeek(t *testing.T) {
	s, _ := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s, MediaEvent{Type: EventCanPlay})
	assert.Equal(t, StateReady, s.State().State)
	assert.Nil(t, s.Snapshot().SeekTo)
}

func TestPlayback_CompletionScenario(t *testing.T) {
	s, store := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s, MediaEvent{Type: EventLoadedData}, MediaEvent{Type: EventPlay})

	for e := 1.0; e <= 119; e++ {
		apply(t, s, MediaEvent{Type: EventTimeUpdate, Time: e})
	}

	completed := 0
	for _, w := range store.allWrites() {
		if w.IsCompleted {
			completed++
			assert.Equal(t, int64(114), w.ProgressSeconds)
		}
	}
	assert.Equal(t, 1, completed)
	assert.True(t, s.State().Completed)
	assert.Equal(t, 100, s.Snapshot().Percent)

	inserts, _ := store.counts()
	assert.Equal(t, 1, inserts)
}

func TestPlayback_ElapsedMonotonicExceptSeek(t *testing.T) {
	s, _ := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s, MediaEvent{Type: EventLoadedData}, MediaEvent{Type: EventPlay})

	apply(t, s, MediaEvent{Type: EventTimeUpdate, Time: 20})
	apply(t, s, MediaEvent{Type: EventTimeUpdate, Time: 12})
	assert.Equal(t, 20.0, s.State().Elapsed)

	apply(t, s, MediaEvent{Type: EventSeeked, Time: 5})
	assert.Equal(t, 5.0, s.State().Elapsed)

	apply(t, s, MediaEvent{Type: EventSeeked, Time: 1e20})
	assert.Equal(t, 5.0, s.State().Elapsed)
}

func TestPlayback_PauseSeekEndWrites(t *testing.T) {
	s, store := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s,
		MediaEvent{Type: EventLoadedData},
		MediaEvent{Type: EventPlay},
		MediaEvent{Type: EventTimeUpdate, Time: 10},
		MediaEvent{Type: EventPause, Time: 10.7},
	)
	assert.Equal(t, StatePaused, s.State().State)
	apply(t, s, MediaEvent{Type: EventSeeked, Time: 50})
	apply(t, s, MediaEvent{Type: EventPlay}, MediaEvent{Type: EventEnded, Time: 119.8})

	writes := store.allWrites()
	require.Len(t, writes, 3)
	assert.Equal(t, domain.ProgressFields{ProgressSeconds: 10}, writes[0])
	assert.Equal(t, domain.ProgressFields{ProgressSeconds: 50}, writes[1])
	assert.Equal(t, domain.ProgressFields{ProgressSeconds: 120, IsCompleted: true}, writes[2])
	assert.Equal(t, StateEnded, s.State().State)

	inserts, updates := store.counts()
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 2, updates)
}

func TestPlayback_RealDurationOnceKnown(t *testing.T) {
	s, store := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s,
		MediaEvent{Type: EventLoadedData, Duration: 600},
		MediaEvent{Type: EventPlay},
		MediaEvent{Type: EventTimeUpdate, Time: 114},
	)
	assert.False(t, s.State().Completed)
	assert.Equal(t, 19, s.Snapshot().Percent)
	assert.Equal(t, 600.0, s.Snapshot().DurationSeconds)

	apply(t, s, MediaEvent{Type: EventEnded, Time: 599.5})
	writes := store.allWrites()
	assert.Equal(t, domain.ProgressFields{ProgressSeconds: 600, IsCompleted: true}, writes[len(writes)-1])
}

func TestPlayback_MediaErrorMapping(t *testing.T) {
	cases := map[int]ErrorCategory{
		1:  ErrorUnloadable,
		2:  ErrorUnplayable,
		3:  ErrorUndownloadable,
		4:  ErrorUnsupportedFormat,
		99: ErrorUnknown,
	}
	for code, want := range cases {
		s, _ := newTestSession(t, testVideoURL, nil, "u1")
		require.NoError(t, s.Mount())
		apply(t, s, MediaEvent{Type: EventError, ErrorCode: code})
		st := s.State()
		assert.Equal(t, StateError, st.State)
		require.NotNil(t, st.Err)
		assert.Equal(t, want, st.Err.Category, "code %d", code)
	}
	assert.Equal(t, "failed to load video", MapMediaError(0, "").Message)
	assert.Equal(t, "failed to load video: boom", MapMediaError(0, "boom").Message)
}

func TestPlayback_RetryBumpsGenerationAndDropsStaleEvents(t *testing.T) {
	s, _ := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	assert.ErrorIs(t, s.Retry(nil), domain.ErrInvalidTransition)

	apply(t, s, MediaEvent{Type: EventError, ErrorCode: MediaErrNetwork})
	require.NoError(t, s.Retry(nil))

	st := s.State()
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, StateLoading, st.State)
	assert.Nil(t, st.Err)

	err := s.Apply(context.Background(), MediaEvent{Type: EventError, Generation: 0, ErrorCode: MediaErrDecode})
	assert.ErrorIs(t, err, domain.ErrStaleGeneration)
	assert.Equal(t, StateLoading, s.State().State)

	apply(t, s, MediaEvent{Type: EventCanPlay})
	assert.Equal(t, StateReady, s.State().State)
}

func TestPlayback_RetryWithReResolvedURL(t *testing.T) {
	s, _ := newTestSession(t, "not-a-url", nil, "u1")
	require.NoError(t, s.Mount())
	require.Equal(t, StateError, s.State().State)

	fixed := s.Video()
	fixed.VideoURL = testVideoURL
	require.NoError(t, s.Retry(&fixed))
	assert.Equal(t, StateLoading, s.State().State)
	assert.Equal(t, testVideoURL, s.Snapshot().VideoURL)
}

func TestPlayback_NoIdentityNeverWrites(t *testing.T) {
	s, store := newTestSession(t, testVideoURL, nil, "")
	require.NoError(t, s.Mount())
	apply(t, s, MediaEvent{Type: EventLoadedData}, MediaEvent{Type: EventPlay})
	for e := 1.0; e <= 120; e += 5 {
		apply(t, s, MediaEvent{Type: EventTimeUpdate, Time: e})
	}
	s.Backstop(context.Background())
	apply(t, s, MediaEvent{Type: EventPause, Time: 120}, MediaEvent{Type: EventSeeked, Time: 3}, MediaEvent{Type: EventEnded})

	inserts, updates := store.counts()
	assert.Zero(t, inserts)
	assert.Zero(t, updates)
}

func TestPlayback_BackstopWhilePlaying(t *testing.T) {
	s, store := newTestSession(t, testVideoURL, nil, "u1")
	require.NoError(t, s.Mount())
	apply(t, s, MediaEvent{Type: EventLoadedData}, MediaEvent{Type: EventPlay}, MediaEvent{Type: EventTimeUpdate, Time: 7})

	s.Backstop(context.Background())
	require.Len(t, store.allWrites(), 1)
	assert.Equal(t, int64(7), store.allWrites()[0].ProgressSeconds)

	apply(t, s, MediaEvent{Type: EventPause, Time: 7})
	s.Backstop(context.Background())
	assert.Len(t, store.allWrites(), 2)
}

func TestPlayback_EventsBeforeMountRejected(t *testing.T) {
	s, _ := newTestSession(t, testVideoURL, nil, "u1")
	err := s.Apply(context.Background(), MediaEvent{Type: EventPlay})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestValidVideoURL(t *testing.T) {
	assert.True(t, ValidVideoURL("http://localhost:8096/media/a.mp4?exp=1&sig=x"))
	assert.True(t, ValidVideoURL(testVideoURL))
	assert.False(t, ValidVideoURL(""))
	assert.False(t, ValidVideoURL("   "))
	assert.False(t, ValidVideoURL("not-a-url"))
	assert.False(t, ValidVideoURL("javascript:alert(1)"))
}
