package batch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func resultLineJSON(t *testing.T, key string, images ...string) string {
	t.Helper()
	parts := []map[string]any{{"text": "here you go"}}
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString([]byte(img))},
		})
	}
	b, err := json.Marshal(map[string]any{
		"key": key,
		"response": map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"role": "model", "parts": parts}}},
		},
	})
	require.NoError(t, err)
	return string(b)
}

func newTestCollector(remote *fakeRemote, store objectstore.Store, mirror Mirror, flat bool) *Collector {
	return NewCollector(remote, remote, store, mirror, CollectorConfig{
		MaxAttempts:       3,
		Backoff:           time.Millisecond,
		UploadConcurrency: 4,
		FlatOutput:        flat,
	}, zap.NewNop())
}

func TestCollector_MalformedLineSkipped(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1",
		resultLineJSON(t, "r16x9_p2_img5_var1", "png-bytes"),
		`{"key": "r1x1_p0_img0_var0", "response": {`,
	)

	coll, err := newTestCollector(remote, nil, nil, false).Collect(context.Background(), []string{"batches/b1"}, "job1")
	require.NoError(t, err)
	require.Len(t, coll.Results, 1)
	assert.Equal(t, 1, coll.Malformed)

	r := coll.Results[0]
	assert.Equal(t, "r16x9_p2_img5_var1", r.Key)
	require.NotNil(t, r.AspectRatio)
	assert.Equal(t, "16:9", *r.AspectRatio)
	assert.Equal(t, 2, *r.PromptIndex)
	assert.Equal(t, 5, *r.ImageIndex)
	assert.Equal(t, 1, *r.Variation)
	assert.Equal(t, []byte("png-bytes"), r.Data)
	assert.Equal(t, "image/png", r.MIMEType)
	assert.Equal(t, int64(len("png-bytes")), coll.TotalBytes)
	assert.Equal(t, []string{"files/out-b1"}, coll.ResponseFiles)
}

func TestCollector_ErrorLinesBlankLinesAndUnkeyed(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1",
		"",
		`{"key":"r1x1_p0_img0_var0","error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad image"}}`,
		"   ",
		resultLineJSON(t, "not-a-key", "a"),
		`{"metadata":{"key":"r1x1_p1_img0_var0"},"response":{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/jpeg","data":"Yg=="}}]}}]}}`,
	)

	coll, err := newTestCollector(remote, nil, nil, false).Collect(context.Background(), []string{"batches/b1"}, "job1")
	require.NoError(t, err)

	require.Len(t, coll.Errors, 1)
	assert.Equal(t, "r1x1_p0_img0_var0", coll.Errors[0].Key)
	assert.Equal(t, "400 INVALID_ARGUMENT: bad image", coll.Errors[0].Message)
	assert.Equal(t, 2, coll.Errors[0].Line)

	require.Len(t, coll.Results, 2)
	assert.Nil(t, coll.Results[0].ImageIndex, "undecodable key leaves indices nil")
	assert.Nil(t, coll.Results[0].AspectRatio)
	assert.Equal(t, "r1x1_p1_img0_var0", coll.Results[1].Key, "metadata.key is accepted")
	assert.Equal(t, 1, *coll.Results[1].PromptIndex)

	require.Len(t, coll.Jobs, 1)
	assert.Equal(t, JobStateSucceeded, coll.Jobs[0].State)
	assert.Equal(t, 3, coll.Jobs[0].Lines)
	assert.Equal(t, 1, coll.Jobs[0].Failed)
}

func TestCollector_SkipsJobsWithoutOutput(t *testing.T) {
	remote := newFakeRemote()
	remote.jobs["batches/pending"] = &Job{Name: "batches/pending", State: JobStateRunning}
	remote.finish("batches/done", resultLineJSON(t, "r_p0_img0_var0", "x"))

	coll, err := newTestCollector(remote, nil, nil, false).Collect(context.Background(),
		[]string{"batches/pending", "batches/done", "batches/missing", "batches/done"}, "job1")
	require.NoError(t, err)
	require.Len(t, coll.Jobs, 3, "duplicate handles collapse")
	assert.Equal(t, JobStateRunning, coll.Jobs[0].State)
	assert.Empty(t, coll.Jobs[0].OutputFile)
	assert.Equal(t, JobStateSucceeded, coll.Jobs[1].State)
	assert.NotEmpty(t, coll.Jobs[2].Error)
	assert.Len(t, coll.Results, 1)
	assert.Equal(t, int32(1), remote.opens.Load())
}

func TestCollector_ResumesAfterStreamInterruption(t *testing.T) {
	remote := newFakeRemote()
	lines := []string{
		resultLineJSON(t, "r_p0_img0_var0", "one"),
		resultLineJSON(t, "r_p0_img0_var1", "two"),
		resultLineJSON(t, "r_p0_img0_var2", "three"),
	}
	remote.finish("batches/b1", lines...)
	// 在第二行中间断开
	remote.breakAfter = len(lines[0]) + 1 + len(lines[1])/2

	mirror := newRecordingMirror()
	coll, err := newTestCollector(remote, nil, mirror, false).Collect(context.Background(), []string{"batches/b1"}, "job1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), remote.opens.Load())

	require.Len(t, coll.Results, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, string(coll.Results[i].Data))
		assert.Equal(t, i, *coll.Results[i].Variation)
	}
	assert.Equal(t, joinLines(lines), mirror.responses["batches/b1"].String(), "mirror sees each line once")
}

func TestCollector_GivesUpAfterMaxAttempts(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1", resultLineJSON(t, "r_p0_img0_var0", "x"))
	remote.openErr = errors.New("503 backend unavailable")

	coll, err := newTestCollector(remote, nil, nil, false).Collect(context.Background(), []string{"batches/b1"}, "job1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), remote.opens.Load())
	assert.Contains(t, coll.Jobs[0].Error, "failed after 3 attempts")
	assert.Empty(t, coll.Results)
}

func TestCollector_UploadsToDeterministicPathsIdempotently(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1",
		resultLineJSON(t, "r16x9_p2_img5_var1", "first", "second"),
		resultLineJSON(t, "garbage", "loose"),
	)
	// 第二个任务返回了相同的 key
	remote.finish("batches/b2", resultLineJSON(t, "r16x9_p2_img5_var1", "first"))

	store := objectstore.NewMemoryStore(objectstore.Config{BucketName: "bkt", PathPrefix: "tenant"})
	c := newTestCollector(remote, store, NopMirror{}, false)

	first, err := c.Collect(context.Background(), []string{"batches/b1", "batches/b2"}, "job9")
	require.NoError(t, err)

	var paths []string
	urls := make(map[string]bool)
	for _, r := range first.Results {
		paths = append(paths, r.Path)
		assert.False(t, urls[r.URL], "duplicate URL %s", r.URL)
		urls[r.URL] = true
		assert.Nil(t, r.Data, "bytes are released after upload")
	}
	assert.Equal(t, []string{
		"tenant/job9/batch/r16x9/p2/img5_var1_gemini.png",
		"tenant/job9/batch/r16x9/p2/img5_var1_n1_gemini.png",
		"tenant/job9/batch/unkeyed/result_0_gemini.png",
	}, paths)
	assert.Equal(t, "https://storage.googleapis.com/bkt/tenant/job9/batch/r16x9/p2/img5_var1_gemini.png", first.Results[0].URL)

	data, ok := store.Data("tenant/job9/batch/r16x9/p2/img5_var1_n1_gemini.png")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)

	second, err := c.Collect(context.Background(), []string{"batches/b1", "batches/b2"}, "job9")
	require.NoError(t, err)
	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Path, second.Results[i].Path)
		assert.Equal(t, first.Results[i].URL, second.Results[i].URL)
	}
	assert.Len(t, store.Names(), 3, "re-collection overwrites instead of adding objects")
}

func TestCollector_FlatPaths(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1", resultLineJSON(t, "r4x5_p0_img3_var2", "x", "y"))
	store := objectstore.NewMemoryStore(objectstore.Config{BucketName: "bkt", CDNURL: "https://cdn.example.com/"})

	coll, err := newTestCollector(remote, store, nil, true).Collect(context.Background(), []string{"batches/b1"}, "job9")
	require.NoError(t, err)
	require.Len(t, coll.Results, 2)
	assert.Equal(t, "job9/img3_p0_r4x5_var2_gemini.png", coll.Results[0].Path)
	assert.Equal(t, "job9/img3_p0_r4x5_var2_n1_gemini.png", coll.Results[1].Path)
	assert.Equal(t, "https://cdn.example.com/job9/img3_p0_r4x5_var2_gemini.png", coll.Results[0].URL)
}

func TestCollector_UploadFailurePropagates(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1", resultLineJSON(t, "r_p0_img0_var0", "x"))
	store := objectstore.NewMemoryStore(objectstore.Config{BucketName: "bkt"})
	store.FailPut = func(name string) error {
		if strings.HasSuffix(name, ".png") {
			return errors.New("permission denied")
		}
		return nil
	}

	_, err := newTestCollector(remote, store, nil, false).Collect(context.Background(), []string{"batches/b1"}, "job1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestCollector_WithoutStoreDedupesByKeyAndPart(t *testing.T) {
	remote := newFakeRemote()
	remote.finish("batches/b1", resultLineJSON(t, "r_p0_img0_var0", "a", "b"))
	remote.finish("batches/b2", resultLineJSON(t, "r_p0_img0_var0", "a"))

	coll, err := newTestCollector(remote, nil, nil, false).Collect(context.Background(), []string{"batches/b1", "batches/b2"}, "job1")
	require.NoError(t, err)
	require.Len(t, coll.Results, 2)
	assert.Equal(t, "batches/b1", coll.Results[0].Job)
	assert.Equal(t, int64(2), coll.TotalBytes)
}

func TestCollector_RequiresJobNames(t *testing.T) {
	_, err := newTestCollector(newFakeRemote(), nil, nil, false).Collect(context.Background(), nil, "job1")
	require.Error(t, err)
}
