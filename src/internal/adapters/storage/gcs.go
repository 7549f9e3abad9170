package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/cleanova/cleanova/src/internal/domain"
)

// GCSStore lists a Cloud Storage bucket and issues V4 signed GET URLs.
type GCSStore struct {
	client         *gcs.Client
	bucket         string
	googleAccessID string
	privateKey     []byte
	now            func() time.Time
}

type GCSOption func(*GCSStore)

// WithServiceAccountKey injects the signing identity instead of reading it
// from the default credentials.
func WithServiceAccountKey(accessID string, privateKey []byte) GCSOption {
	return func(s *GCSStore) {
		if accessID != "" {
			s.googleAccessID = accessID
		}
		if len(privateKey) > 0 {
			s.privateKey = append([]byte(nil), privateKey...)
		}
	}
}

// NewGCSStore needs a service account key for signing: injected, or found in
// the application default credentials.
func NewGCSStore(ctx context.Context, bucket, accessID string, clientOpts []option.ClientOption, opts ...GCSOption) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s := &GCSStore{client: client, bucket: bucket, googleAccessID: accessID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.privateKey) == 0 {
		key, detected, err := loadServiceAccountKey(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("init gcs signer: %w", err)
		}
		s.privateKey = key
		if s.googleAccessID == "" {
			s.googleAccessID = detected
		}
	}
	if s.googleAccessID == "" {
		client.Close()
		return nil, errors.New("gcs signer: google access id is required")
	}
	return s, nil
}

func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) ListObjects(ctx context.Context) ([]domain.StoredObject, error) {
	var out []domain.StoredObject
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs bucket %s: %w", s.bucket, err)
		}
		out = append(out, domain.StoredObject{Name: attrs.Name, Size: attrs.Size})
	}
	return out, nil
}

func (s *GCSStore) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("object name is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	u, err := gcs.SignedURL(s.bucket, key, &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().Add(ttl),
		GoogleAccessID: s.googleAccessID,
		PrivateKey:     s.privateKey,
	})
	if err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}
	return u, nil
}

type serviceAccountKey struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func loadServiceAccountKey(ctx context.Context) ([]byte, string, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, "", errors.New("service account JSON not found in default credentials")
	}
	var key serviceAccountKey
	if err := json.Unmarshal(creds.JSON, &key); err != nil {
		return nil, "", fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, "", errors.New("service account private key is empty")
	}
	return []byte(key.PrivateKey), key.ClientEmail, nil
}
