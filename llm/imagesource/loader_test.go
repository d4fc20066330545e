package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func newTestLoader() *Loader {
	return NewLoader(fastDownloader(2), 4, zap.NewNop())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestLoader_LocalDirectorySortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.png", pngHeader)
	writeFile(t, dir, "a.JPG", []byte("jpeg"))
	writeFile(t, dir, "notes.txt", []byte("x"))
	writeFile(t, dir, "c.webp", []byte("webp"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	images, err := newTestLoader().Load(context.Background(), Source{Kind: KindLocal, Path: dir})
	require.NoError(t, err)
	require.Len(t, images, 2)

	assert.Equal(t, "a.JPG", images[0].Name)
	assert.Equal(t, 0, images[0].Index)
	assert.Equal(t, "image/jpeg", images[0].MIMEType)
	assert.Equal(t, "b.png", images[1].Name)
	assert.Equal(t, "image/png", images[1].MIMEType)
}

func TestLoader_LocalCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.png", pngHeader)
	abs := writeFile(t, dir, "two.jpeg", []byte("jpeg"))
	csvPath := writeFile(t, dir, "list.csv", []byte("one.png,first\n\n"+abs+"\nskip.gif\n"))

	images, err := newTestLoader().Load(context.Background(), Source{Kind: KindLocal, Path: csvPath})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "one.png", images[0].Name)
	assert.Equal(t, "two.jpeg", images[1].Name)
}

func TestLoader_EmptyDirectoryIsNoImages(t *testing.T) {
	_, err := newTestLoader().Load(context.Background(), Source{Kind: KindLocal, Path: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoImages)
	assert.Equal(t, types.ErrNoImages, types.GetErrorCode(err))
}

func TestLoader_BucketFolderSkipsGenerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	store := objectstore.NewMemoryStore(objectstore.Config{BucketName: "b", CDNURL: srv.URL})
	ctx := context.Background()
	for _, name := range []string{
		"shoes/1.jpg",
		"shoes/2.png",
		"shoes/2_gemini.png",
		"shoes/readme.md",
		"shoes/",
		"other/3.png",
	} {
		require.NoError(t, objectstore.PutBytes(ctx, store, name, []byte("x"), ""))
	}

	images, err := newTestLoader().Load(ctx, Source{Kind: KindBucket, Store: store, Folder: "/shoes/"})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "shoes/1.jpg", images[0].Name)
	assert.Equal(t, []byte("/shoes/1.jpg"), images[0].Data)
	assert.Equal(t, "image/png", images[0].MIMEType)
	assert.Equal(t, "shoes/2.png", images[1].Name)
}

func TestLoader_BucketWithoutPublicURLReadsThroughStore(t *testing.T) {
	store, err := objectstore.NewFileStore(t.TempDir(), objectstore.Config{BucketName: "local"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, objectstore.PutBytes(ctx, store, "in/cat.png", pngHeader, "image/png"))

	descs, err := newTestLoader().Resolve(ctx, Source{Kind: KindBucket, Store: store, Folder: "in"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Empty(t, descs[0].URL)
	assert.Equal(t, "in/cat.png", descs[0].Object)

	img, err := newTestLoader().Fetch(ctx, descs[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngHeader, img.Data))
}

func TestLoader_BucketRequiresStore(t *testing.T) {
	_, err := newTestLoader().Resolve(context.Background(), Source{Kind: KindBucket, Folder: "x"})
	assert.Equal(t, types.ErrMissingConfig, types.GetErrorCode(err))
}

func TestLoader_URLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	images, err := newTestLoader().Load(context.Background(), Source{
		Kind: KindURLs,
		URLs: []string{srv.URL + "/a.jpg?sig=1", " ", srv.URL + "/b"},
	})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "a.jpg", images[0].Name)
	assert.Equal(t, "image/jpeg", images[0].MIMEType, "extension wins over sniffing")
	assert.Equal(t, "image/png", images[1].MIMEType)

	_, err = newTestLoader().Load(context.Background(), Source{
		Kind: KindURLs,
		URLs: []string{srv.URL + "/a.png", srv.URL + "/missing.png"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image 1")
}

func TestLoader_InlineSortedByIndex(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	images, err := newTestLoader().Load(context.Background(), Source{
		Kind: KindInline,
		Inline: []InlinePayload{
			{Index: 2, MIMEType: "image/png", Data: enc("two")},
			{Index: 0, MIMEType: "image/jpeg", Data: "data:image/jpeg;base64," + enc("zero")},
			{Index: 1, Data: enc("one")},
		},
	})
	require.NoError(t, err)
	require.Len(t, images, 3)
	for i, want := range []string{"zero", "one", "two"} {
		assert.Equal(t, i, images[i].Index)
		assert.Equal(t, want, string(images[i].Data))
	}
	assert.Equal(t, "image/jpeg", images[0].MIMEType)
}

func TestLoader_InlineErrors(t *testing.T) {
	l := newTestLoader()
	_, err := l.Resolve(context.Background(), Source{Kind: KindInline, Inline: []InlinePayload{{Index: 0, Data: "!!!"}}})
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

	_, err = l.Resolve(context.Background(), Source{Kind: KindInline, Inline: []InlinePayload{
		{Index: 1, Data: "YQ=="}, {Index: 1, Data: "Yg=="},
	}})
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

	_, err = l.Resolve(context.Background(), Source{Kind: KindInline, Inline: []InlinePayload{
		{Index: -1, Data: "YQ=="},
	}})
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "negative")

	_, err = l.Resolve(context.Background(), Source{Kind: KindInline})
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestLoader_UnknownKind(t *testing.T) {
	_, err := newTestLoader().Resolve(context.Background(), Source{Kind: "ftp"})
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}
