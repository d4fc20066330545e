package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/ctxkeys"
	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/llm/image"
	"github.com/BaSui01/imageflow/llm/retry"
	"github.com/BaSui01/imageflow/testutil"
	"github.com/BaSui01/imageflow/testutil/mocks"
	"github.com/BaSui01/imageflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEnv 组装一个使用内存依赖的 Worker
type testEnv struct {
	w        *Worker
	backend  *mocks.MockBackend
	store    *objectstore.MemoryStore
	registry *mocks.MockRegistry
	keys     []string
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Dependencies)) *testEnv {
	t.Helper()
	env := &testEnv{
		backend:  mocks.NewMockBackend(),
		store:    objectstore.NewMemoryStore(objectstore.Config{BucketName: "bucket", PathPrefix: "out"}),
		registry: mocks.NewMockRegistry(),
	}
	cfg := Config{
		MaxConcurrency: 4,
		Batch: BatchConfig{
			Submitter: batch.SubmitterConfig{
				StagingDir: t.TempDir(),
				Retry:      retry.LinearPolicy(1, time.Millisecond),
			},
		},
		Collect: batch.CollectorConfig{MaxAttempts: 1, Backoff: time.Millisecond},
	}
	deps := Dependencies{
		Backends: func(_ context.Context, apiKey string) (Backend, error) {
			env.keys = append(env.keys, apiKey)
			return env.backend, nil
		},
		Stores:   objectstore.MemoryOpener{Store: env.store},
		Registry: env.registry,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	env.w = New(cfg, deps, zap.NewNop())
	return env
}

func (e *testEnv) run(t *testing.T, payload map[string]any) *Response {
	t.Helper()
	resp := e.w.Run(testutil.TestContext(t), []byte(testutil.MustJSON(payload)))
	require.NotNil(t, resp)
	return resp
}

var withStorage = map[string]any{"bucket_name": "bucket"}

func TestWorker_RunRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)

	resp := env.w.Run(context.Background(), []byte("not json"))
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, types.ErrInvalidInput, resp.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus())
	assert.NotNil(t, resp.Results)
}

func TestWorker_UnknownAndMissingMode(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, map[string]any{"mode": "turbo"})
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "invalid mode: turbo", resp.Error)

	resp = env.run(t, map[string]any{"prompt": "a cat"})
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "missing mode", resp.Error)
	assert.Equal(t, types.ErrInvalidInput, resp.ErrorCode)
}

func TestWorker_HandlerPanicBecomesFailedResponse(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Dependencies) {
		d.Backends = func(context.Context, string) (Backend, error) { panic("boom") }
	})

	resp := env.run(t, map[string]any{
		"mode":   "automatic",
		"prompt": "a cat",
		"images": []any{testutil.InlineImage(0)},
	})
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, types.ErrInternalError, resp.ErrorCode)
	assert.Contains(t, resp.Error, "boom")
	assert.Equal(t, http.StatusInternalServerError, resp.HTTPStatus())
}

func TestWorker_MissingAPIKey(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Dependencies) {
		d.Backends = func(context.Context, string) (Backend, error) {
			return nil, types.NewMissingConfigError("GEMINI_API_KEY")
		}
	})

	resp := env.run(t, map[string]any{"mode": "prompt_only", "prompt": "a cat"})
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, types.ErrMissingConfig, resp.ErrorCode)
	assert.Equal(t, "missing GEMINI_API_KEY", resp.Error)
}

func TestWorker_PassesPayloadAPIKey(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, map[string]any{"mode": "prompt_only", "prompt": "a cat", "gemini_api_key": "k-123"})
	require.Equal(t, StatusCompleted, resp.Status, resp.Error)
	assert.Equal(t, []string{"k-123"}, env.keys)
}

func TestWorker_InvokeTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies) {
		c.InvokeTimeout = 20 * time.Millisecond
	})
	env.backend.WithStreamFunc(func(ctx context.Context, _ image.StreamRequest) ([]image.Part, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	resp := env.run(t, map[string]any{"mode": "prompt_only", "prompt": "slow prompt"})
	require.Equal(t, StatusCompleted, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.ErrTimeout, resp.Results[0].ErrorCode)
	assert.Zero(t, resp.TotalGenerated)
}

func TestWorker_RequestIDFromContext(t *testing.T) {
	env := newTestEnv(t)
	ctx := ctxkeys.WithRequestID(testutil.TestContext(t), "req-1")

	resp := env.w.Handle(ctx, &Payload{Mode: "prompt_only", Prompt: "a cat"})
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.GreaterOrEqual(t, resp.DurationMS, int64(0))
}

func TestResponse_JSONShape(t *testing.T) {
	resp := failed(ModeFetchResults, "j1", errors.New("plain"))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "failed", m["status"])
	assert.Equal(t, "plain", m["error"])
	assert.Equal(t, "INTERNAL_ERROR", m["error_code"])
	assert.Equal(t, []any{}, m["results"])
	assert.NotContains(t, m, "batch_job_names")
}

func TestErrorCode_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want types.ErrorCode
	}{
		{types.NewInvalidInputError("x"), types.ErrInvalidInput},
		{batch.ErrRemoteNotFound, types.ErrNotFound},
		{errors.Join(errors.New("wrap"), batch.ErrSubmissionNotFound), types.ErrNotFound},
		{context.DeadlineExceeded, types.ErrTimeout},
		{errors.New("other"), types.ErrInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig())
	assert.Equal(t, "gemini-2.5-flash-image", cfg.Model)
	assert.Equal(t, 20, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.MinPromptLength)
	assert.Equal(t, "inline", cfg.Batch.ImageTransport)
	assert.Equal(t, 100<<20, cfg.Batch.ByteBudget)
	assert.True(t, cfg.MirrorResponses)
	assert.False(t, cfg.Cleanup.AllowPurgeAll)
	assert.True(t, cfg.DefaultStorage.IsZero())
}
