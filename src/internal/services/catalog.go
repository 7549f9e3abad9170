package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/ports"
)

const (
	DashboardLatest      = 6
	Recommendations      = 3
	ContinueWatchingSize = 20
)

type ProgressView struct {
	ProgressSeconds int64 `json:"progressSeconds"`
	IsCompleted     bool  `json:"isCompleted"`
	Percent         int   `json:"percent"`
}

type CategoryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// VideoCard is a resolved video as shown to one user.
type VideoCard struct {
	domain.ResolvedVideo
	CategorySlug string        `json:"categorySlug"`
	Progress     *ProgressView `json:"progress,omitempty"`
}

type Dashboard struct {
	Latest     []VideoCard    `json:"latest"`
	Categories []CategoryView `json:"categories"`
}

type CategoryPage struct {
	Category CategoryView `json:"category"`
	Videos   []VideoCard  `json:"videos"`
}

type VideoDetail struct {
	Video           VideoCard   `json:"video"`
	Recommendations []VideoCard `json:"recommendations"`
}

// CatalogService answers the browse pages. Every listing is resolved against
// one bucket listing and decorated with the caller's progress.
type CatalogService struct {
	videos     ports.VideoRepository
	categories ports.CategoryRepository
	progress   ports.ProgressStore
	resolver   *AssetResolver
	logger     zerolog.Logger
}

func NewCatalogService(videos ports.VideoRepository, categories ports.CategoryRepository, progress ports.ProgressStore, resolver *AssetResolver, logger zerolog.Logger) *CatalogService {
	return &CatalogService{videos: videos, categories: categories, progress: progress, resolver: resolver, logger: logger}
}

func (s *CatalogService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	cats, err := s.categories.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	latest, err := s.videos.ListLatest(ctx, DashboardLatest)
	if err != nil {
		return nil, fmt.Errorf("list latest videos: %w", err)
	}
	cards, err := s.cards(ctx, userID, latest, cats)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Latest: cards, Categories: categoryViews(cats)}, nil
}

func (s *CatalogService) CategoryVideos(ctx context.Context, userID, slug string) (*CategoryPage, error) {
	cat, err := s.categories.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", slug, err)
	}
	videos, err := s.videos.ListByCategory(ctx, cat.ID)
	if err != nil {
		return nil, fmt.Errorf("list videos of %s: %w", cat.ID, err)
	}
	cards, err := s.cards(ctx, userID, videos, []domain.Category{*cat})
	if err != nil {
		return nil, err
	}
	return &CategoryPage{Category: categoryView(*cat), Videos: cards}, nil
}

// VideoDetail returns one video and up to three others of its category. A
// non-empty slug must name the video's category.
func (s *CatalogService) VideoDetail(ctx context.Context, userID, slug, videoID string) (*VideoDetail, error) {
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", videoID, err)
	}
	cats, err := s.categories.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if slug != "" && slugOf(cats, video.CategoryID) != slug {
		return nil, fmt.Errorf("video %s in category %q: %w", videoID, slug, domain.ErrNotFound)
	}

	related, err := s.videos.ListRelated(ctx, video.CategoryID, video.ID, Recommendations)
	if err != nil {
		return nil, fmt.Errorf("list related videos: %w", err)
	}
	cards, err := s.cards(ctx, userID, append([]domain.Video{*video}, related...), cats)
	if err != nil {
		return nil, err
	}
	return &VideoDetail{Video: cards[0], Recommendations: cards[1:]}, nil
}

// ContinueWatching lists unfinished videos, most recently watched first.
func (s *CatalogService) ContinueWatching(ctx context.Context, userID string) ([]VideoCard, error) {
	records, err := s.progress.ListInProgress(ctx, userID, ContinueWatchingSize)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	if len(records) == 0 {
		return []VideoCard{}, nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.VideoID
	}
	found, err := s.videos.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}
	byID := make(map[string]domain.Video, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}
	ordered := make([]domain.Video, 0, len(records))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			ordered = append(ordered, v)
		}
	}
	cats, err := s.categories.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return s.cards(ctx, userID, ordered, cats)
}

func (s *CatalogService) cards(ctx context.Context, userID string, videos []domain.Video, cats []domain.Category) ([]VideoCard, error) {
	cards := make([]VideoCard, len(videos))
	if len(videos) == 0 {
		return cards, nil
	}

	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	progress := map[string]domain.ProgressRecord{}
	if userID != "" {
		var err error
		progress, err = s.progress.ListForVideos(ctx, userID, ids)
		if err != nil {
			// Progress decoration is best effort.
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("loading progress for listing failed")
			progress = map[string]domain.ProgressRecord{}
		}
	}

	for i, rv := range s.resolver.ResolveVideos(ctx, videos) {
		cards[i] = VideoCard{ResolvedVideo: rv, CategorySlug: slugOf(cats, rv.CategoryID)}
		if rec, ok := progress[rv.ID]; ok {
			cards[i].Progress = &ProgressView{
				ProgressSeconds: rec.ProgressSeconds,
				IsCompleted:     rec.IsCompleted,
				Percent:         domain.DisplayPercent(float64(rec.ProgressSeconds), 0, rec.IsCompleted),
			}
		}
	}
	return cards, nil
}

func slugOf(cats []domain.Category, id string) string {
	for _, c := range cats {
		if c.ID == id {
			return c.Slug()
		}
	}
	return ""
}

func categoryView(c domain.Category) CategoryView {
	return CategoryView{ID: c.ID, Name: c.Name, Slug: c.Slug()}
}

func categoryViews(cats []domain.Category) []CategoryView {
	out := make([]CategoryView, len(cats))
	for i, c := range cats {
		out[i] = categoryView(c)
	}
	return out
}
