package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps objects in memory. It backs dry runs and tests, and
// counts calls so callers can assert on side effects.
type MemoryStore struct {
	mu         sync.RWMutex
	objects    map[string]memObject
	bucketName string
	pathPrefix string
	cdnURL     string

	// FailPut / FailDelete make matching operations fail when set.
	FailPut    func(name string) error
	FailDelete func(name string) error

	puts    atomic.Int64
	deletes atomic.Int64
}

type memObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string]memObject),
		bucketName: cfg.BucketName,
		pathPrefix: strings.Trim(cfg.PathPrefix, "/"),
		cdnURL:     strings.TrimRight(cfg.CDNURL, "/"),
	}
}

// MemoryOpener hands out the same MemoryStore for every config.
type MemoryOpener struct {
	Store *MemoryStore
	Err   error
}

// Open implements Opener.
func (o MemoryOpener) Open(_ context.Context, cfg Config) (Store, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	if cfg.IsZero() {
		return nil, fmt.Errorf("objectstore: bucket_name is required")
	}
	return o.Store, nil
}

// Bucket implements Store.
func (s *MemoryStore) Bucket() string { return s.bucketName }

// PathPrefix implements Store.
func (s *MemoryStore) PathPrefix() string { return s.pathPrefix }

// List implements Store.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Object
	for name, o := range s.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Object{Name: name, Size: int64(len(o.data)), ContentType: o.contentType, Updated: o.updated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, name string, r io.Reader, contentType string) error {
	s.puts.Add(1)
	if s.FailPut != nil {
		if err := s.FailPut(name); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[name] = memObject{data: data, contentType: contentType, updated: time.Now()}
	s.mu.Unlock()
	return nil
}

// Open implements Store.
func (s *MemoryStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	o, ok := s.objects[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.deletes.Add(1)
	if s.FailDelete != nil {
		if err := s.FailDelete(name); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.objects, name)
	return nil
}

// PublicURL implements Store.
func (s *MemoryStore) PublicURL(name string) string {
	if s.cdnURL != "" {
		return s.cdnURL + "/" + name
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, name)
}

// URL implements Store.
func (s *MemoryStore) URL(_ context.Context, name string) string {
	return s.PublicURL(name)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Names returns every stored object name, sorted.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Data returns the bytes stored under name.
func (s *MemoryStore) Data(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	return o.data, ok
}

// PutCount returns the number of Put calls.
func (s *MemoryStore) PutCount() int { return int(s.puts.Load()) }

// DeleteCount returns the number of Delete calls.
func (s *MemoryStore) DeleteCount() int { return int(s.deletes.Load()) }
