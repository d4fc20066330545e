package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSOptions tunes the GCS-backed store.
type GCSOptions struct {
	// CredentialsFile is used when the request carries no credentials.
	CredentialsFile string
	// SignedURLTTL is the lifetime of signed URLs handed out by URL.
	SignedURLTTL time.Duration
	// Timeout bounds every single storage call.
	Timeout time.Duration
	// HTTPClient overrides the transport (tests, proxies).
	HTTPClient *http.Client
	// Endpoint overrides the storage endpoint (emulators).
	Endpoint string
}

// DefaultGCSOptions returns the defaults used in production.
func DefaultGCSOptions() GCSOptions {
	return GCSOptions{
		SignedURLTTL: 24 * time.Hour,
		Timeout:      60 * time.Second,
	}
}

// GCSOpener opens GCS stores for per-request configs.
type GCSOpener struct {
	opts   GCSOptions
	logger *zap.Logger
}

// NewGCSOpener creates an opener.
func NewGCSOpener(opts GCSOptions, logger *zap.Logger) *GCSOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &GCSOpener{opts: opts, logger: logger.With(zap.String("component", "gcs_store"))}
}

// Open implements Opener.
func (o *GCSOpener) Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.IsZero() {
		return nil, errors.New("objectstore: bucket_name is required")
	}

	var clientOpts []option.ClientOption
	switch {
	case len(cfg.Credentials) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.Credentials))
	case o.opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(o.opts.CredentialsFile))
	}
	if o.opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(o.opts.HTTPClient))
	}
	if o.opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(o.opts.Endpoint))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: create gcs client: %w", err)
	}

	return &GCSStore{
		client:     client,
		bucket:     client.Bucket(cfg.BucketName),
		bucketName: cfg.BucketName,
		pathPrefix: strings.Trim(cfg.PathPrefix, "/"),
		cdnURL:     strings.TrimRight(cfg.CDNURL, "/"),
		opts:       o.opts,
		logger:     o.logger.With(zap.String("bucket", cfg.BucketName)),
	}, nil
}

// GCSStore is a Store backed by one Google Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	pathPrefix string
	cdnURL     string
	opts       GCSOptions
	logger     *zap.Logger
}

// Bucket implements Store.
func (s *GCSStore) Bucket() string { return s.bucketName }

// PathPrefix implements Store.
func (s *GCSStore) PathPrefix() string { return s.pathPrefix }

// List implements Store.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var objects []Object
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %q: %w", prefix, err)
		}
		objects = append(objects, Object{
			Name:        attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			Updated:     attrs.Updated,
		})
	}
	return objects, nil
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		// 取消 context 会中止上传，不会留下半个对象
		cancel()
		_ = w.Close()
		return fmt.Errorf("objectstore: write %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: finalize %q: %w", name, err)
	}
	return nil
}

// Open implements Store. The returned reader is bound to ctx.
func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: open %q: %w", name, err)
	}
	return rc, nil
}

// Delete implements Store.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	err := s.bucket.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("objectstore: delete %q: %w", name, err)
	}
	return nil
}

// PublicURL implements Store.
func (s *GCSStore) PublicURL(name string) string {
	if s.cdnURL != "" {
		return s.cdnURL + "/" + name
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, name)
}

// URL implements Store.
func (s *GCSStore) URL(_ context.Context, name string) string {
	if s.cdnURL != "" {
		return s.cdnURL + "/" + name
	}
	signed, err := s.bucket.SignedURL(name, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.opts.SignedURLTTL),
	})
	if err != nil {
		s.logger.Debug("signed url unavailable, using public url",
			zap.String("object", name),
			zap.Error(err),
		)
		return s.PublicURL(name)
	}
	return signed
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
