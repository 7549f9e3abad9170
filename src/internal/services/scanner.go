package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/ports"
)

const DefaultCategory = "General"

const (
	scanLockKey = "catalog-scan"
	scanLockTTL = 10 * time.Minute
)

// ErrScanInProgress means another process holds the scan lease.
var ErrScanInProgress = errors.New("catalog scan already in progress")

// ScanReport summarizes one catalog import.
type ScanReport struct {
	Objects    int `json:"objects"`
	Imported   int `json:"imported"`
	Existing   int `json:"existing"`
	Categories int `json:"categoriesCreated"`
}

// CatalogScanner imports videos from the bucket listing. Each imported video
// records its own object key, so resolution never has to guess.
type CatalogScanner struct {
	videos     ports.VideoRepository
	categories ports.CategoryRepository
	store      ports.ObjectStore
	locks      ports.LockManager
	logger     zerolog.Logger
	now        func() time.Time
}

func NewCatalogScanner(videos ports.VideoRepository, categories ports.CategoryRepository, store ports.ObjectStore, logger zerolog.Logger) *CatalogScanner {
	return &CatalogScanner{videos: videos, categories: categories, store: store, logger: logger, now: time.Now}
}

// WithLocks makes Scan exclusive across processes sharing locks.
func (s *CatalogScanner) WithLocks(locks ports.LockManager) *CatalogScanner {
	s.locks = locks
	return s
}

// Scan lists the bucket and saves every video object not yet in the catalog.
// The first path segment names the category; an image with the same stem
// (full key first, then file name) becomes the thumbnail.
func (s *CatalogScanner) Scan(ctx context.Context) (ScanReport, error) {
	if s.locks == nil {
		return s.scan(ctx)
	}
	ok, err := s.locks.TryAcquire(ctx, scanLockKey, scanLockTTL)
	if err != nil {
		return ScanReport{}, fmt.Errorf("acquire scan lease: %w", err)
	}
	if !ok {
		return ScanReport{}, ErrScanInProgress
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), scanLockKey); err != nil {
			s.logger.Warn().Err(err).Msg("releasing scan lease failed")
		}
	}()
	return s.scan(ctx)
}

func (s *CatalogScanner) scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	listing, err := s.store.ListObjects(ctx)
	if err != nil {
		return report, fmt.Errorf("list bucket %s: %w", s.store.Bucket(), err)
	}
	report.Objects = len(listing)

	thumbs := make(map[string]string)
	thumbsByBase := make(map[string]string)
	for _, obj := range listing {
		if !isImageKey(obj.Name) {
			continue
		}
		if _, dup := thumbs[stem(obj.Name)]; !dup {
			thumbs[stem(obj.Name)] = obj.Name
		}
		if _, dup := thumbsByBase[path.Base(stem(obj.Name))]; !dup {
			thumbsByBase[path.Base(stem(obj.Name))] = obj.Name
		}
	}
	thumbnailFor := func(key string) string {
		if t, ok := thumbs[stem(key)]; ok {
			return t
		}
		return thumbsByBase[path.Base(stem(key))]
	}

	categoryIDs := make(map[string]string)
	for _, obj := range listing {
		if !isVideoKey(obj.Name) {
			continue
		}
		id := VideoIDForKey(obj.Name)
		_, err := s.videos.GetByID(ctx, id)
		if err == nil {
			report.Existing++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return report, fmt.Errorf("check video %s: %w", obj.Name, err)
		}

		catName := categoryForKey(obj.Name)
		catID, ok := categoryIDs[catName]
		if !ok {
			var created bool
			catID, created, err = s.ensureCategory(ctx, catName)
			if err != nil {
				return report, err
			}
			if created {
				report.Categories++
			}
			categoryIDs[catName] = catID
		}

		video := domain.Video{
			ID:            id,
			Title:         titleForKey(obj.Name),
			CategoryID:    catID,
			VideoPath:     obj.Name,
			ThumbnailPath: thumbnailFor(obj.Name),
			CreatedAt:     s.now(),
		}
		if err := s.videos.Save(ctx, &video); err != nil {
			return report, fmt.Errorf("failed to save video %s: %w", video.Title, err)
		}
		report.Imported++
		s.logger.Info().
			Str("video_id", id).
			Str("key", obj.Name).
			Str("category", catName).
			Msg("imported video")
	}
	return report, nil
}

func (s *CatalogScanner) ensureCategory(ctx context.Context, name string) (string, bool, error) {
	cat, err := s.categories.GetBySlug(ctx, domain.Slugify(name))
	if err == nil {
		return cat.ID, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", false, fmt.Errorf("look up category %s: %w", name, err)
	}
	cat = &domain.Category{
		ID:        hashID("category:" + domain.Slugify(name)),
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.categories.Save(ctx, cat); err != nil {
		return "", false, fmt.Errorf("save category %s: %w", name, err)
	}
	return cat.ID, true, nil
}

// VideoIDForKey is the stable catalog ID of an object key.
func VideoIDForKey(key string) string {
	return hashID(key)
}

func hashID(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func isVideoKey(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".mov", ".avi":
		return true
	}
	return false
}

func isImageKey(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

func categoryForKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	dir, _, found := strings.Cut(key, "/")
	if !found || strings.TrimSpace(dir) == "" {
		return DefaultCategory
	}
	return strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(dir)), " ")
}

// titleForKey turns "knife-skills_101.mp4" into "knife skills 101".
func titleForKey(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(base)), " ")
}
