package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type fakeObjectStore struct {
	mu        sync.Mutex
	objects   []domain.StoredObject
	listErr   error
	failKeys  map[string]bool
	signCalls int
	lastTTL   time.Duration
}

func (f *fakeObjectStore) ListObjects(context.Context) ([]domain.StoredObject, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects, nil
}

func (f *fakeObjectStore) SignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls++
	f.lastTTL = ttl
	if f.failKeys[key] {
		return "", errors.New("signing refused")
	}
	return fmt.Sprintf("https://signed.example/%s?expires=%d", key, int(ttl.Seconds())), nil
}

func (f *fakeObjectStore) Bucket() string { return "videos" }

func (f *fakeObjectStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signCalls
}

type mapCache struct {
	mu   sync.Mutex
	urls map[string]string
	ttls map[string]time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{urls: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) GetURL(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.urls[key]
	return u, ok
}

func (c *mapCache) SetURL(_ context.Context, key, url string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[key] = url
	c.ttls[key] = ttl
}

func objects(names ...string) []domain.StoredObject {
	out := make([]domain.StoredObject, len(names))
	for i, n := range names {
		out[i] = domain.StoredObject{Name: n}
	}
	return out
}

func signedFor(key string) string {
	return "https://signed.example/" + key + "?expires=3600"
}

func TestResolver_FirstMatchNoVideoObjectsSignsNominal(t *testing.T) {
	store := &fakeObjectStore{objects: objects("thumbs/a.jpg", "readme.txt")}
	r := NewAssetResolver(store, nil, MatchFirst, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{{ID: "v1", VideoPath: "lessons/a.mp4"}})
	require.Len(t, out, 1)
	assert.Equal(t, signedFor("lessons/a.mp4"), out[0].VideoURL)
	assert.Equal(t, DefaultSignedURLTTL, store.lastTTL)
}

func TestResolver_FirstMatchPicksFirstVideoRegardlessOfPath(t *testing.T) {
	store := &fakeObjectStore{objects: objects("thumbs/a.jpg", "Intro.MOV", "lessons/b.mp4")}
	r := NewAssetResolver(store, nil, MatchFirst, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{
		{ID: "v1", VideoPath: "lessons/b.mp4"},
		{ID: "v2", VideoPath: "something/else.avi"},
	})
	assert.Equal(t, signedFor("Intro.MOV"), out[0].VideoURL)
	assert.Equal(t, signedFor("Intro.MOV"), out[1].VideoURL)
}

func TestResolver_ExactPrefersNominalKey(t *testing.T) {
	store := &fakeObjectStore{objects: objects("lessons/a.mp4", "lessons/b.mp4", "lessons/C.MOV")}
	r := NewAssetResolver(store, nil, MatchExact, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{
		{ID: "b", VideoPath: "lessons/b.mp4"},
		{ID: "c", VideoPath: "lessons/c.mp4"},
		{ID: "d", VideoPath: "lessons/d.mp4"},
	})
	assert.Equal(t, signedFor("lessons/b.mp4"), out[0].VideoURL)
	assert.Equal(t, signedFor("lessons/C.MOV"), out[1].VideoURL, "same stem, different extension")
	assert.Equal(t, signedFor("lessons/d.mp4"), out[2].VideoURL, "unlisted keeps nominal")
}

func TestResolver_SigningFailureKeepsNominalPath(t *testing.T) {
	store := &fakeObjectStore{
		objects:  objects("lessons/a.mp4"),
		failKeys: map[string]bool{"lessons/a.mp4": true, "thumbs/a.jpg": true, "https://img.example/a.png": true},
	}
	r := NewAssetResolver(store, nil, MatchExact, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{
		{ID: "v1", VideoPath: "lessons/a.mp4", ThumbnailPath: "thumbs/a.jpg"},
		{ID: "v2", VideoPath: "lessons/a.mp4", ThumbnailPath: "https://img.example/a.png"},
	})
	assert.Equal(t, "lessons/a.mp4", out[0].VideoURL)
	assert.Equal(t, "thumbs/a.jpg", out[0].ThumbnailURL)
	assert.Equal(t, "https://img.example/a.png", out[1].ThumbnailURL)
}

func TestResolver_ListingFailureSignsNominal(t *testing.T) {
	store := &fakeObjectStore{listErr: errors.New("403")}
	r := NewAssetResolver(store, nil, MatchFirst, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{{ID: "v1", VideoPath: "lessons/a.mp4", ThumbnailPath: "thumbs/a.jpg"}})
	assert.Equal(t, signedFor("lessons/a.mp4"), out[0].VideoURL)
	assert.Equal(t, signedFor("thumbs/a.jpg"), out[0].ThumbnailURL)
}

func TestResolver_EmptyPaths(t *testing.T) {
	store := &fakeObjectStore{objects: objects("lessons/a.mp4")}
	r := NewAssetResolver(store, nil, MatchExact, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), []domain.Video{{ID: "v1"}})
	assert.Empty(t, out[0].VideoURL)
	assert.Empty(t, out[0].ThumbnailURL)
	assert.Zero(t, store.calls())
}

func TestResolver_IdempotentThroughCache(t *testing.T) {
	store := &fakeObjectStore{objects: objects("lessons/a.mp4")}
	cache := newMapCache()
	r := NewAssetResolver(store, cache, MatchExact, time.Hour, zerolog.Nop())
	videos := []domain.Video{{ID: "v1", VideoPath: "lessons/a.mp4", ThumbnailPath: "thumbs/a.jpg"}}

	first := r.ResolveVideos(context.Background(), videos)
	second := r.ResolveVideos(context.Background(), videos)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.calls())
	assert.Equal(t, 50*time.Minute, cache.ttls["videos/lessons/a.mp4"])
}

func TestResolver_PreservesOrder(t *testing.T) {
	var names []string
	var videos []domain.Video
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("lessons/%02d.mp4", i)
		names = append(names, key)
		videos = append(videos, domain.Video{ID: fmt.Sprint(i), VideoPath: key})
	}
	r := NewAssetResolver(&fakeObjectStore{objects: objects(names...)}, nil, MatchExact, 0, zerolog.Nop())

	out := r.ResolveVideos(context.Background(), videos)
	for i, v := range out {
		assert.Equal(t, videos[i].ID, v.ID)
		assert.Equal(t, signedFor(videos[i].VideoPath), v.VideoURL)
	}
}

func TestIsVideoObject(t *testing.T) {
	assert.True(t, IsVideoObject("a.MP4"))
	assert.True(t, IsVideoObject("clips/b.mov"))
	assert.True(t, IsVideoObject("c.avi.part"))
	assert.False(t, IsVideoObject("d.mkv"))
	assert.False(t, IsVideoObject("thumb.jpg"))
}
