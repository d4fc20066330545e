package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore persists objects onto the local filesystem. It is intended for
// development and test environments where a bucket is not available. Each
// bucket name maps to a directory under the root.
type FileStore struct {
	root       string
	bucketName string
	pathPrefix string
	cdnURL     string
}

// FileOpener opens FileStores under a shared root directory.
type FileOpener struct {
	Root string
}

// Open implements Opener.
func (o FileOpener) Open(_ context.Context, cfg Config) (Store, error) {
	if cfg.IsZero() {
		return nil, errors.New("objectstore: bucket_name is required")
	}
	return NewFileStore(filepath.Join(o.Root, SanitizeSegment(cfg.BucketName)), cfg)
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string, cfg Config) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("objectstore: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: ensure base path: %w", err)
	}
	return &FileStore{
		root:       basePath,
		bucketName: cfg.BucketName,
		pathPrefix: strings.Trim(cfg.PathPrefix, "/"),
		cdnURL:     strings.TrimRight(cfg.CDNURL, "/"),
	}, nil
}

// Bucket implements Store.
func (s *FileStore) Bucket() string { return s.bucketName }

// PathPrefix implements Store.
func (s *FileStore) PathPrefix() string { return s.pathPrefix }

// List implements Store. Results are sorted by name.
func (s *FileStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Name:        key,
			Size:        info.Size(),
			ContentType: MIMEForName(key),
			Updated:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: list %q: %w", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("objectstore: ensure directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return fmt.Errorf("objectstore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("objectstore: write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objectstore: write %q: %w", name, err)
	}
	// 原子替换，重复写入同一路径即覆盖
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("objectstore: commit %q: %w", name, err)
	}
	return nil
}

// Open implements Store.
func (s *FileStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	full, err := s.fullPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, name string) error {
	full, err := s.fullPath(name)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// PublicURL implements Store. Local objects only have a public address
// when a CDN fronts the directory.
func (s *FileStore) PublicURL(name string) string {
	if s.cdnURL != "" {
		return s.cdnURL + "/" + name
	}
	return ""
}

// URL implements Store.
func (s *FileStore) URL(_ context.Context, name string) string {
	if u := s.PublicURL(name); u != "" {
		return u
	}
	full, err := s.fullPath(name)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(full)
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) fullPath(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("objectstore: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("objectstore: invalid key")
	}
	return cleaned, nil
}
