package ports

import (
	"context"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

type VideoRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Video, error)
	ListLatest(ctx context.Context, limit int) ([]domain.Video, error)
	ListByCategory(ctx context.Context, categoryID string) ([]domain.Video, error)
	// ListRelated returns up to limit videos of the category, excluding excludeID.
	ListRelated(ctx context.Context, categoryID, excludeID string, limit int) ([]domain.Video, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Video, error)
	Save(ctx context.Context, video *domain.Video) error
}

type CategoryRepository interface {
	ListAll(ctx context.Context) ([]domain.Category, error)
	// GetBySlug matches the category name case-insensitively against the
	// slug with dashes read as spaces.
	GetBySlug(ctx context.Context, slug string) (*domain.Category, error)
	Save(ctx context.Context, category *domain.Category) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
	// Touch sets last_seen and, when email is non-empty, the email of an
	// existing user. It never writes the subscription flag.
	Touch(ctx context.Context, id, email string, lastSeen time.Time) error
}

// ProgressStore persists one ProgressRecord per (user, video).
type ProgressStore interface {
	// FindByUserAndVideo returns nil, nil when no record exists.
	FindByUserAndVideo(ctx context.Context, userID, videoID string) (*domain.ProgressRecord, error)
	Insert(ctx context.Context, record domain.ProgressRecord) error
	Update(ctx context.Context, userID, videoID string, fields domain.ProgressFields) error
	ListForVideos(ctx context.Context, userID string, videoIDs []string) (map[string]domain.ProgressRecord, error)
	// ListInProgress returns unfinished records with a positive position,
	// most recently updated first.
	ListInProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressRecord, error)
}

// ObjectStore is the bucket holding private video and thumbnail assets.
type ObjectStore interface {
	ListObjects(ctx context.Context) ([]domain.StoredObject, error)
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Bucket() string
}

// URLCache memoizes signed URLs for less than their lifetime.
type URLCache interface {
	GetURL(ctx context.Context, key string) (string, bool)
	SetURL(ctx context.Context, key, url string, ttl time.Duration)
}

// Identity answers "who is writing" at persistence time.
type Identity interface {
	CurrentUser(ctx context.Context) (userID string, ok bool)
}

// LockManager hands out expiring, named leases shared by every replica.
type LockManager interface {
	// TryAcquire takes or extends the lease; false means another holder has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
