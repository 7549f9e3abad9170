package services

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/metrics"
	"github.com/cleanova/cleanova/src/internal/ports"
)

// MatchPolicy selects how a nominal video path is mapped onto the bucket.
type MatchPolicy string

const (
	// MatchExact signs the nominal key when it is listed, else a listed video
	// object with the same key stem, else the nominal key as-is.
	MatchExact MatchPolicy = "exact"
	// MatchFirst signs the first listed video object regardless of the
	// nominal path. Legacy behavior: wrong whenever a bucket holds more than
	// one video.
	MatchFirst MatchPolicy = "first-match"
)

const (
	DefaultSignedURLTTL = 3600 * time.Second
	resolveConcurrency  = 8
)

const (
	classVideo     = "video"
	classThumbnail = "thumbnail"
)

var videoExtensions = []string{".mp4", ".mov", ".avi"}

// IsVideoObject reports whether an object name carries a known video
// extension anywhere in it (case-insensitive).
func IsVideoObject(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range videoExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// AssetResolver turns nominal storage paths into time-limited playable URLs.
// Signing failures never surface: the nominal path is kept and playback
// reports the failure later, if any.
type AssetResolver struct {
	store  ports.ObjectStore
	cache  ports.URLCache
	policy MatchPolicy
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAssetResolver builds a resolver. cache may be nil.
func NewAssetResolver(store ports.ObjectStore, cache ports.URLCache, policy MatchPolicy, ttl time.Duration, logger zerolog.Logger) *AssetResolver {
	if policy == "" {
		policy = MatchExact
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &AssetResolver{store: store, cache: cache, policy: policy, ttl: ttl, logger: logger}
}

func (r *AssetResolver) Policy() MatchPolicy { return r.policy }

// Listing returns the current bucket contents.
func (r *AssetResolver) Listing(ctx context.Context) ([]domain.StoredObject, error) {
	return r.store.ListObjects(ctx)
}

// ResolveVideos resolves a batch against a single listing of the bucket.
// Output order matches input order.
func (r *AssetResolver) ResolveVideos(ctx context.Context, videos []domain.Video) []domain.ResolvedVideo {
	out := make([]domain.ResolvedVideo, len(videos))
	if len(videos) == 0 {
		return out
	}

	listing, err := r.Listing(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("bucket", r.store.Bucket()).Msg("listing bucket failed, signing nominal paths")
		listing = nil
	}

	var g errgroup.Group
	g.SetLimit(resolveConcurrency)
	for i := range videos {
		g.Go(func() error {
			out[i] = r.ResolveVideo(ctx, videos[i], listing)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ResolveVideo resolves one video's asset paths against listing.
func (r *AssetResolver) ResolveVideo(ctx context.Context, v domain.Video, listing []domain.StoredObject) domain.ResolvedVideo {
	return domain.ResolvedVideo{
		Video:        v,
		VideoURL:     r.resolveVideoPath(ctx, v, listing),
		ThumbnailURL: r.resolveThumbnail(ctx, v),
	}
}

func (r *AssetResolver) resolveVideoPath(ctx context.Context, v domain.Video, listing []domain.StoredObject) string {
	if v.VideoPath == "" {
		metrics.IncAssetResolution(classVideo, "empty")
		return ""
	}

	key := r.selectVideoKey(v.VideoPath, listing)
	signed, err := r.sign(ctx, key)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("video_id", v.ID).
			Str("key", key).
			Msg("signing video failed, keeping nominal path")
		metrics.IncAssetResolution(classVideo, "unsigned")
		return v.VideoPath
	}
	if key != v.VideoPath {
		r.logger.Debug().
			Str("video_id", v.ID).
			Str("nominal", v.VideoPath).
			Str("key", key).
			Str("policy", string(r.policy)).
			Msg("nominal video path replaced by listed object")
		metrics.IncAssetResolution(classVideo, "fallback_match")
	} else {
		metrics.IncAssetResolution(classVideo, "signed")
	}
	return signed
}

func (r *AssetResolver) resolveThumbnail(ctx context.Context, v domain.Video) string {
	p := v.ThumbnailPath
	if p == "" {
		metrics.IncAssetResolution(classThumbnail, "empty")
		return ""
	}
	signed, err := r.sign(ctx, p)
	if err == nil {
		metrics.IncAssetResolution(classThumbnail, "signed")
		return signed
	}
	if looksAbsolute(p) {
		metrics.IncAssetResolution(classThumbnail, "passthrough")
		return p
	}
	r.logger.Warn().Err(err).
		Str("video_id", v.ID).
		Str("key", p).
		Msg("signing thumbnail failed, keeping nominal path")
	metrics.IncAssetResolution(classThumbnail, "unsigned")
	return p
}

// selectVideoKey applies the match policy. Without a listing the nominal
// path is used.
func (r *AssetResolver) selectVideoKey(nominal string, listing []domain.StoredObject) string {
	switch r.policy {
	case MatchFirst:
		for _, obj := range listing {
			if IsVideoObject(obj.Name) {
				return obj.Name
			}
		}
		return nominal
	default:
		want := stem(nominal)
		var sameStem string
		for _, obj := range listing {
			if obj.Name == nominal {
				return nominal
			}
			if sameStem == "" && IsVideoObject(obj.Name) && stem(obj.Name) == want {
				sameStem = obj.Name
			}
		}
		if sameStem != "" {
			return sameStem
		}
		return nominal
	}
}

func (r *AssetResolver) sign(ctx context.Context, key string) (string, error) {
	cacheKey := r.store.Bucket() + "/" + key
	if r.cache != nil {
		if u, ok := r.cache.GetURL(ctx, cacheKey); ok {
			return u, nil
		}
	}
	u, err := r.store.SignURL(ctx, key, r.ttl)
	if err != nil {
		return "", err
	}
	if r.cache != nil {
		// Expire well before the signature does.
		r.cache.SetURL(ctx, cacheKey, u, r.ttl-r.ttl/6)
	}
	return u, nil
}

// stem is the lower-cased key without its extension.
func stem(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "/"))
	return strings.TrimSuffix(key, path.Ext(key))
}

func looksAbsolute(p string) bool {
	u, err := url.Parse(p)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
