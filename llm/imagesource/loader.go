package imagesource

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoImages 来源解析出零张图片
var ErrNoImages = types.NewError(types.ErrNoImages, "no images found")

// Kind 图片来源类型
type Kind string

const (
	KindLocal  Kind = "local"
	KindBucket Kind = "bucket"
	KindURLs   Kind = "urls"
	KindInline Kind = "inline"
)

// localExtensions 本地来源允许的扩展名
var localExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// InlinePayload 是调用方直接内联的一张图片
type InlinePayload struct {
	Index    int    `json:"index"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Source 描述一次加载的输入
type Source struct {
	Kind Kind
	// Path 本地目录或 CSV 文件
	Path string
	// Store + Folder 用于 bucket 目录列举
	Store  objectstore.Store
	Folder string
	URLs   []string
	Inline []InlinePayload
}

// Descriptor 是解析后、下载前的一张图片
type Descriptor struct {
	Index int
	Name  string
	// URL 非空时通过 HTTP 下载
	URL string
	// Path 本地文件
	Path string
	// Object 无公开地址的 bucket 对象，通过 Store 读取
	Object string

	store    objectstore.Store
	mimeType string
	data     []byte
}

// Image 是加载完成的一张图片
type Image struct {
	Index    int
	Name     string
	MIMEType string
	Data     []byte
}

// Loader 图片来源加载器
type Loader struct {
	downloader  *Downloader
	concurrency int
	logger      *zap.Logger
}

// NewLoader 创建加载器
func NewLoader(downloader *Downloader, concurrency int, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if downloader == nil {
		downloader = NewDownloader(DefaultDownloaderConfig(), logger)
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Loader{
		downloader:  downloader,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "image_loader")),
	}
}

// Resolve 解析来源，返回按 Index 排序的描述符；零张时返回 ErrNoImages
func (l *Loader) Resolve(ctx context.Context, src Source) ([]Descriptor, error) {
	var (
		descs []Descriptor
		err   error
	)
	switch src.Kind {
	case KindLocal:
		descs, err = l.resolveLocal(src.Path)
	case KindBucket:
		descs, err = l.resolveBucket(ctx, src.Store, src.Folder)
	case KindURLs:
		descs = resolveURLs(src.URLs)
	case KindInline:
		descs, err = resolveInline(src.Inline)
	default:
		return nil, types.NewInvalidInputError("unknown image source kind %q", src.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, ErrNoImages
	}

	l.logger.Debug("image source resolved",
		zap.String("kind", string(src.Kind)),
		zap.Int("count", len(descs)),
	)
	return descs, nil
}

// Fetch 读取一张图片的字节
func (l *Loader) Fetch(ctx context.Context, d Descriptor) (Image, error) {
	img := Image{Index: d.Index, Name: d.Name, MIMEType: d.mimeType}

	switch {
	case d.data != nil:
		img.Data = d.data
	case d.URL != "":
		data, contentType, err := l.downloader.Get(ctx, d.URL)
		if err != nil {
			return Image{}, err
		}
		img.Data = data
		img.MIMEType = detectMIME(contentType, d.Name, data)
	case d.Object != "" && d.store != nil:
		data, err := objectstore.ReadAll(ctx, d.store, d.Object)
		if err != nil {
			return Image{}, types.NewUpstreamError(fmt.Sprintf("read object %s failed", d.Object), 0, err)
		}
		img.Data = data
		img.MIMEType = detectMIME("", d.Name, data)
	case d.Path != "":
		data, err := os.ReadFile(d.Path)
		if err != nil {
			return Image{}, types.NewInvalidInputError("read image %s failed", d.Path).WithCause(err)
		}
		img.Data = data
		img.MIMEType = detectMIME("", d.Name, data)
	default:
		return Image{}, types.NewInvalidInputError("image %d has no data", d.Index)
	}
	return img, nil
}

// Load 解析并并发下载全部图片，任意一张失败即返回错误
func (l *Loader) Load(ctx context.Context, src Source) ([]Image, error) {
	descs, err := l.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}

	images := make([]Image, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, d := range descs {
		g.Go(func() error {
			img, err := l.Fetch(gctx, d)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", d.Index, d.Name, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// resolveLocal 本地目录按文件名排序；CSV 取第一列，相对路径相对 CSV 所在目录
func (l *Loader) resolveLocal(path string) ([]Descriptor, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, types.NewInvalidInputError("local image path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.NewInvalidInputError("image path %s is not accessible", path).WithCause(err)
	}

	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, types.NewInvalidInputError("read directory %s failed", path).WithCause(err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths, err = readCSVPaths(path)
		if err != nil {
			return nil, err
		}
	}

	var descs []Descriptor
	for _, p := range paths {
		if !localExtensions[strings.ToLower(filepath.Ext(p))] {
			continue
		}
		descs = append(descs, Descriptor{
			Index: len(descs),
			Name:  filepath.Base(p),
			Path:  p,
		})
	}
	return descs, nil
}

func readCSVPaths(csvPath string) ([]string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, types.NewInvalidInputError("open %s failed", csvPath).WithCause(err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	base := filepath.Dir(csvPath)
	var paths []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, types.NewInvalidInputError("parse %s failed", csvPath).WithCause(err)
		}
		if len(rec) == 0 {
			continue
		}
		p := strings.TrimSpace(rec[0])
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// resolveBucket 列举 folder/ 下的输入图片
func (l *Loader) resolveBucket(ctx context.Context, store objectstore.Store, folder string) ([]Descriptor, error) {
	if store == nil {
		return nil, types.NewMissingConfigError("gcs_config")
	}
	prefix := objectstore.FolderPrefix(folder)
	if prefix == "" {
		return nil, types.NewInvalidInputError("folder is required")
	}

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, types.NewUpstreamError(fmt.Sprintf("list %s failed", prefix), 0, err)
	}

	var descs []Descriptor
	for _, o := range objects {
		if !objectstore.IsInputImage(o.Name) {
			continue
		}
		d := Descriptor{
			Index:    len(descs),
			Name:     o.Name,
			URL:      store.PublicURL(o.Name),
			mimeType: o.ContentType,
		}
		if d.URL == "" {
			d.Object = o.Name
			d.store = store
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func resolveURLs(urls []string) []Descriptor {
	var descs []Descriptor
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		descs = append(descs, Descriptor{Index: len(descs), Name: nameFromURL(u), URL: u})
	}
	return descs
}

// resolveInline 按调用方给出的 index 排序，保证结果与到达顺序无关
func resolveInline(payloads []InlinePayload) ([]Descriptor, error) {
	sorted := make([]InlinePayload, len(payloads))
	copy(sorted, payloads)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	descs := make([]Descriptor, 0, len(sorted))
	seen := make(map[int]bool, len(sorted))
	for _, p := range sorted {
		if p.Index < 0 {
			return nil, types.NewInvalidInputError("inline image index %d is negative", p.Index)
		}
		if seen[p.Index] {
			return nil, types.NewInvalidInputError("duplicate inline image index %d", p.Index)
		}
		seen[p.Index] = true

		data, err := decodeBase64(p.Data)
		if err != nil {
			return nil, types.NewInvalidInputError("inline image %d is not valid base64", p.Index).WithCause(err)
		}
		if len(data) == 0 {
			continue
		}
		mime := p.MIMEType
		if mime == "" {
			mime = detectMIME("", "", data)
		}
		descs = append(descs, Descriptor{
			Index:    p.Index,
			Name:     fmt.Sprintf("inline_%d", p.Index),
			mimeType: mime,
			data:     data,
		})
	}
	return descs, nil
}

// decodeBase64 兼容 data URL 前缀与 URL-safe 编码
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func nameFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u[strings.LastIndex(u, "/")+1:]
}

// detectMIME 依次使用响应头、文件名、内容嗅探
func detectMIME(contentType, name string, data []byte) string {
	ct := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return objectstore.MIMEForName(name)
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/jpeg"
}
