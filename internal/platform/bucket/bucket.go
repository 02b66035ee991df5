package bucket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

// MediaStore is the blob store media artifacts land in. The pipeline never
// serves bytes itself; clients get signed or CDN URLs.
type MediaStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(key string, ttl time.Duration) (string, error)
	// PublicURL returns the CDN-backed URL for key, or "" when no public
	// domain is configured.
	PublicURL(key string) string
	// UploadFromRemoteURL streams srcURL into the bucket without buffering
	// the whole object in memory; used for render output hand-off.
	UploadFromRemoteURL(ctx context.Context, key string, srcURL string) (int64, error)
	ObjectSize(ctx context.Context, key string) (int64, error)
}

type gcsStore struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	cdnDomain  string
	httpClient *http.Client
}

func NewGCSStore(log *logger.Logger) (MediaStore, error) {
	bucketName := strings.TrimSpace(os.Getenv("MEDIA_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var MEDIA_GCS_BUCKET_NAME")
	}
	cdnDomain := strings.TrimSpace(os.Getenv("MEDIA_CDN_DOMAIN"))

	ctx := context.Background()
	var opts []option.ClientOption
	if emu := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); emu != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog := log.With("service", "MediaStore")
	serviceLog.Info("Object storage initialized", "bucket", bucketName, "cdn_domain", cdnDomain)

	return &gcsStore{
		log:        serviceLog,
		client:     client,
		bucketName: bucketName,
		cdnDomain:  cdnDomain,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *gcsStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", key, err)
	}
	return nil
}

func (s *gcsStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	rd, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return rd, nil
}

func (s *gcsStore) SignedURL(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := s.client.Bucket(s.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return url, nil
}

func (s *gcsStore) PublicURL(key string) string {
	if s.cdnDomain == "" {
		return ""
	}
	return "https://" + strings.TrimSuffix(s.cdnDomain, "/") + "/" + strings.TrimPrefix(key, "/")
}

func (s *gcsStore) UploadFromRemoteURL(ctx context.Context, key string, srcURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch remote object: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch remote object: unexpected status %d", resp.StatusCode)
	}

	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if ct := strings.TrimSpace(resp.Header.Get("Content-Type")); ct != "" {
		w.ContentType = ct
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close writer for %s: %w", key, err)
	}
	return n, nil
}

func (s *gcsStore) ObjectSize(ctx context.Context, key string) (int64, error) {
	attrs, err := s.client.Bucket(s.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return attrs.Size, nil
}
