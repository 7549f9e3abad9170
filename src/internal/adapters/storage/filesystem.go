package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cleanova/cleanova/src/internal/domain"
)

// MediaPrefix is where FilesystemStore.ServeHTTP is mounted.
const MediaPrefix = "/media/"

// FilesystemStore is a bucket on local disk. Signed URLs point back at the
// Control Plane, which verifies them in ServeHTTP.
type FilesystemStore struct {
	baseDir    string
	bucket     string
	key        []byte
	publicBase *url.URL
	now        func() time.Time
}

func NewFilesystemStore(baseDir, bucket, signingKey, publicBaseURL string) (*FilesystemStore, error) {
	if signingKey == "" {
		return nil, errors.New("filesystem store: signing key is required")
	}
	base, err := url.Parse(publicBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("filesystem store: invalid public base URL %q", publicBaseURL)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &FilesystemStore{
		baseDir:    baseDir,
		bucket:     bucket,
		key:        []byte(signingKey),
		publicBase: base,
		now:        time.Now,
	}, nil
}

func (s *FilesystemStore) Bucket() string { return s.bucket }

// ListObjects returns every regular file under the base dir, keyed by its
// slash-separated relative path, in lexical order.
func (s *FilesystemStore) ListObjects(ctx context.Context) ([]domain.StoredObject, error) {
	var out []domain.StoredObject
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, domain.StoredObject{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.baseDir, err)
	}
	return out, nil
}

// SignURL returns a /media/ URL valid for ttl. Missing objects cannot be
// signed.
func (s *FilesystemStore) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	clean, ok := cleanKey(key)
	if !ok {
		return "", fmt.Errorf("sign %q: invalid object key", key)
	}
	info, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(clean)))
	if err != nil {
		return "", fmt.Errorf("sign %q: %w", key, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("sign %q: is a directory", key)
	}

	exp := s.now().Add(ttl).Unix()
	u := *s.publicBase
	u.Path = path.Join("/", u.Path, MediaPrefix, clean)
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.signature(clean, exp))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *FilesystemStore) signature(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ServeHTTP serves objects behind a valid, unexpired signature. Mount it
// with http.StripPrefix(MediaPrefix, store).
func (s *FilesystemStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := cleanKey(r.URL.Path)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil {
		http.Error(w, "Missing signature", http.StatusForbidden)
		return
	}
	want := s.signature(key, exp)
	if !hmac.Equal([]byte(want), []byte(r.URL.Query().Get("sig"))) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}
	if s.now().Unix() > exp {
		http.Error(w, "Signature expired", http.StatusForbidden)
		return
	}
	http.ServeFileFS(w, r, os.DirFS(s.baseDir), key)
}

// cleanKey normalizes an object key and rejects keys escaping the bucket.
func cleanKey(key string) (string, bool) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || !fs.ValidPath(key) {
		return "", false
	}
	return key, true
}
