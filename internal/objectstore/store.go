package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// Object describes one stored blob.
type Object struct {
	Name        string
	Size        int64
	ContentType string
	Updated     time.Time
}

// Store is the blob capability the worker needs: list, read, write and
// delete objects under a prefix, and hand out URLs for them.
type Store interface {
	// Bucket returns the bucket (or root) name.
	Bucket() string
	// PathPrefix returns the configured key prefix, without slashes.
	PathPrefix() string
	List(ctx context.Context, prefix string) ([]Object, error)
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	// PublicURL returns the CDN URL if configured, else the native public
	// URL. An empty string means the object has no public address.
	PublicURL(name string) string
	// URL returns the address handed back to callers for generated
	// objects: CDN, then signed URL, then public URL.
	URL(ctx context.Context, name string) string
	Close() error
}

// Opener builds a Store from a per-request storage config.
type Opener interface {
	Open(ctx context.Context, cfg Config) (Store, error)
}

// Config is the caller-supplied storage configuration (payload field
// gcs_config).
type Config struct {
	BucketName  string      `json:"bucket_name"`
	Credentials Credentials `json:"credentials,omitempty"`
	PathPrefix  string      `json:"path_prefix,omitempty"`
	CDNURL      string      `json:"cdn_url,omitempty"`
}

// IsZero reports whether no bucket was configured.
func (c Config) IsZero() bool {
	return strings.TrimSpace(c.BucketName) == ""
}

// Credentials holds a service-account JSON document. It accepts either a
// JSON object or a string containing the JSON document.
type Credentials []byte

// UnmarshalJSON implements json.Unmarshaler.
func (c *Credentials) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Credentials(strings.TrimSpace(s))
		return nil
	}
	*c = append(Credentials(nil), b...)
	return nil
}

// MarshalJSON never emits the secret.
func (c Credentials) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return []byte(`"[redacted]"`), nil
}

// ReadAll opens name and reads it fully.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// PutBytes writes data to name.
func PutBytes(ctx context.Context, s Store, name string, data []byte, contentType string) error {
	return s.Put(ctx, name, bytes.NewReader(data), contentType)
}
