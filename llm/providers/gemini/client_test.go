package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/llm/image"
	"github.com/BaSui01/imageflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{APIKey: "  "}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingConfig, types.GetErrorCode(err))
}

func TestFileID(t *testing.T) {
	assert.Equal(t, "files/abc", FileID("abc"))
	assert.Equal(t, "files/abc", FileID("files/abc"))
	assert.Equal(t, "files/abc", FileID(" files/abc "))
	assert.Equal(t, "files/abc", FileID("https://generativelanguage.googleapis.com/v1beta/files/abc"))
	assert.Equal(t, "files/abc", FileID("files/abc:download?alt=media"))
}

func TestBatchIDAndModelName(t *testing.T) {
	assert.Equal(t, "batches/x1", BatchID("x1"))
	assert.Equal(t, "batches/x1", BatchID("batches/x1"))
	assert.Equal(t, "models/gemini-2.5-flash-image", ModelName("gemini-2.5-flash-image"))
	assert.Equal(t, "models/gemini-2.5-flash-image", ModelName("models/gemini-2.5-flash-image"))
	assert.Equal(t, "models/gemini-2.5-flash-image", ModelName("google/gemini-2.5-flash-image"))
}

func TestJobState(t *testing.T) {
	tests := []struct {
		in   genai.JobState
		want batch.JobState
	}{
		{genai.JobStateSucceeded, batch.JobStateSucceeded},
		{genai.JobStatePartiallySucceeded, batch.JobStateSucceeded},
		{genai.JobStateFailed, batch.JobStateFailed},
		{genai.JobStateCancelled, batch.JobStateCancelled},
		{genai.JobStateExpired, batch.JobStateExpired},
		{genai.JobStateRunning, batch.JobStateRunning},
		{genai.JobStateQueued, batch.JobStatePending},
		{genai.JobStatePending, batch.JobStatePending},
		{genai.JobStateUnspecified, batch.JobStateUnknown},
		{"SOMETHING_NEW", batch.JobStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jobState(tt.in), string(tt.in))
	}
}

func TestTranslateParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			nil,
			{Content: nil},
			{Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				nil,
				{Text: "here"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("png")}},
				{InlineData: &genai.Blob{MIMEType: "image/png"}},
			}}},
		},
	}
	parts := translateParts(resp)
	require.Len(t, parts, 3)
	assert.True(t, parts[0].Thought)
	assert.Equal(t, "here", parts[1].Text)
	assert.True(t, parts[2].IsImage())
	assert.Equal(t, "image/png", parts[2].MIMEType)
	assert.Nil(t, translateParts(nil))
}

func TestOpenResult_Streams(t *testing.T) {
	body := strings.Repeat(`{"key":"r1x1_p0_img0_var0"}`+"\n", 100)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download/v1beta/files/out-1:download", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		_, _ = io.WriteString(w, body)
	})

	rc, err := c.OpenResult(context.Background(), "https://generativelanguage.googleapis.com/v1beta/files/out-1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestOpenResult_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		notFound  bool
		retryable bool
	}{
		{name: "not found", status: http.StatusNotFound, notFound: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, retryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "forbidden", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope","status":"X"}}`, tt.status)
			})
			_, err := c.OpenResult(context.Background(), "files/out-1")
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, batch.ErrRemoteNotFound))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestOpenResult_EmptyName(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) { t.Fatal("unexpected request") })
	_, err := c.OpenResult(context.Background(), "  ")
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestGetBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/batches/b1"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"batches/b1","metadata":{"displayName":"batch-job-j-0","state":"BATCH_STATE_SUCCEEDED","output":{"responsesFile":"files/out-b1"}}}`)
	})

	job, err := c.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "batches/b1", job.Name)
	assert.Equal(t, "batch-job-j-0", job.DisplayName)
	assert.Equal(t, batch.JobStateSucceeded, job.State)
	assert.Equal(t, "files/out-b1", job.OutputFile)
}

func TestGetBatch_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"batch not found","status":"NOT_FOUND"}}`)
	})
	_, err := c.GetBatch(context.Background(), "batches/gone")
	assert.ErrorIs(t, err, batch.ErrRemoteNotFound)
}

func TestGenerateStream(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash-image:streamGenerateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"responseModalities":["TEXT","IMAGE"]`)
		assert.Contains(t, string(body), "a red fox")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Sure"}]}}]}`+"\n\n")
		_, _ = fmt.Fprintf(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"%s"}}]}}]}`+"\n\n", png)
	})

	var got [][]image.Part
	for parts, err := range c.GenerateStream(context.Background(), image.StreamRequest{
		Model:      "gemini-2.5-flash-image",
		Image:      &image.InputImage{MIMEType: "image/jpeg", Data: []byte("jpg")},
		Prompt:     "a red fox",
		Modalities: image.DefaultModalities,
	}) {
		require.NoError(t, err)
		got = append(got, parts)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "Sure", got[0][0].Text)
	assert.Equal(t, []byte("png-bytes"), got[1][0].Data)
}

func TestGenerateStream_StopsEarly(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 5; i++ {
			_, _ = fmt.Fprintf(w, `data: {"candidates":[{"content":{"parts":[{"text":"chunk %d"}]}}]}`+"\n\n", i)
		}
	})

	n := 0
	for _, err := range c.GenerateStream(context.Background(), image.StreamRequest{Model: "m", Prompt: "p"}) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestGenerateStream_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"invalid aspect ratio","status":"INVALID_ARGUMENT"}}`)
	})

	var errs []error
	for _, err := range c.GenerateStream(context.Background(), image.StreamRequest{Model: "m", Prompt: "p"}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(errs[0]))
	assert.False(t, types.IsRetryable(errs[0]))
}

func TestPool_ReusesClientPerKey(t *testing.T) {
	pool := NewPool(Config{APIKey: "default-key", BaseURL: "http://127.0.0.1:1"}, nil)
	ctx := context.Background()

	a, err := pool.Client(ctx, "")
	require.NoError(t, err)
	b, err := pool.Client(ctx, " default-key ")
	require.NoError(t, err)
	assert.Same(t, a, b, "empty key falls back to the default key")

	c, err := pool.Client(ctx, "other-key")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, pool.Len())
}

func TestPool_MissingKey(t *testing.T) {
	pool := NewPool(Config{}, nil)
	_, err := pool.Client(context.Background(), "")
	assert.Equal(t, types.ErrMissingConfig, types.GetErrorCode(err))
}
