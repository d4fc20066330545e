package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/ctxkeys"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/internal/telemetry"
	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/llm/image"
	"github.com/BaSui01/imageflow/llm/imagesource"
	"github.com/BaSui01/imageflow/llm/retry"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 依赖
// =============================================================================

// Backend 是一个 API Key 对应的全部远端能力
type Backend interface {
	batch.FileService
	batch.JobService
	batch.ResultOpener
	image.StreamClient
}

// BackendFunc 按请求携带的 API Key 返回 Backend，空 key 使用默认 key
type BackendFunc func(ctx context.Context, apiKey string) (Backend, error)

// ImageLoader 解析并读取输入图片
type ImageLoader interface {
	Resolve(ctx context.Context, src imagesource.Source) ([]imagesource.Descriptor, error)
	Fetch(ctx context.Context, d imagesource.Descriptor) (imagesource.Image, error)
	Load(ctx context.Context, src imagesource.Source) ([]imagesource.Image, error)
}

// Dependencies 是 Worker 的外部协作者。Registry 与 Metrics 可为 nil。
type Dependencies struct {
	Backends BackendFunc
	Loader   ImageLoader
	Stores   objectstore.Opener
	Registry batch.Registry
	Metrics  *metrics.Collector
}

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Config 调度器配置
type Config struct {
	Model           string
	MaxConcurrency  int
	MinPromptLength int
	// InvokeTimeout 一次调用的总超时
	InvokeTimeout   time.Duration
	GenerateTimeout time.Duration
	// AllowLocalSources 允许 folder 指向本机路径，仅 CLI 开启
	AllowLocalSources bool
	// DefaultStorage 载荷未携带 gcs_config 时使用
	DefaultStorage objectstore.Config

	Batch           BatchConfig
	Collect         batch.CollectorConfig
	MirrorResponses bool
	Cleanup         batch.CleanerConfig
}

// BatchConfig 批处理提交配置
type BatchConfig struct {
	ByteBudget int
	LineBudget int
	// ImageTransport 为 inline 或 file
	ImageTransport string
	MirrorRequests bool
	Submitter      batch.SubmitterConfig
}

// FromConfig 从全局配置构造调度器配置
func FromConfig(cfg *config.Config) Config {
	return Config{
		Model:           cfg.Gemini.Model,
		MaxConcurrency:  cfg.Worker.MaxConcurrency,
		MinPromptLength: cfg.Worker.MinPromptLength,
		InvokeTimeout:   cfg.Worker.InvokeTimeout,
		GenerateTimeout: cfg.Gemini.GenerateTimeout,
		DefaultStorage: objectstore.Config{
			BucketName: cfg.Storage.BucketName,
			PathPrefix: cfg.Storage.PathPrefix,
			CDNURL:     cfg.Storage.CDNURL,
		},
		Batch: BatchConfig{
			ByteBudget:     cfg.Batch.MaxChunkBytes,
			LineBudget:     cfg.Batch.MaxChunkLines,
			ImageTransport: cfg.Batch.ImageTransport,
			MirrorRequests: cfg.Batch.MirrorRequests,
			Submitter: batch.SubmitterConfig{
				StagingDir:        cfg.Batch.StagingDir,
				CreateRPS:         cfg.Batch.CreateRPS,
				UploadConcurrency: cfg.Batch.UploadConcurrency,
				Timeout:           cfg.Gemini.Timeout,
				Retry:             retry.LinearPolicy(3, 2*time.Second),
			},
		},
		Collect: batch.CollectorConfig{
			MaxAttempts:       cfg.Collect.MaxAttempts,
			Backoff:           cfg.Collect.Backoff,
			UploadConcurrency: cfg.Collect.UploadConcurrency,
			Timeout:           cfg.Storage.Timeout,
		},
		MirrorResponses: cfg.Collect.MirrorResponses,
		Cleanup: batch.CleanerConfig{
			AllowPurgeAll:       cfg.Cleanup.AllowPurgeAll,
			SkipRecordedHandles: !cfg.Cleanup.RecordedHandles,
			Concurrency:         cfg.Cleanup.Concurrency,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = config.DefaultModel
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 20
	}
	if c.MinPromptLength <= 0 {
		c.MinPromptLength = 3
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = 15 * time.Minute
	}
	if c.Batch.ImageTransport == "" {
		c.Batch.ImageTransport = "inline"
	}
}

// =============================================================================
// 🎯 Worker
// =============================================================================

// Worker 把一个载荷分派到对应模式的处理器
type Worker struct {
	cfg     Config
	deps    Dependencies
	metrics *metrics.Collector
	runs    *telemetry.RunRecorder
	logger  *zap.Logger
}

// New 创建调度器
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	if deps.Loader == nil {
		deps.Loader = imagesource.NewLoader(nil, 0, logger)
	}
	return &Worker{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		runs:    telemetry.NewRunRecorder(nil),
		logger:  logger.With(zap.String("component", "worker")),
	}
}

// Run 解码原始载荷并处理，总是返回响应
func (w *Worker) Run(ctx context.Context, raw []byte) *Response {
	p, err := ParsePayload(raw)
	if err != nil {
		w.logger.Warn("payload rejected", zap.Error(err))
		return failed("", "", err)
	}
	return w.Handle(ctx, p)
}

// Handle 处理一个已解码的载荷。处理器的 panic 被恢复为 failed 响应。
func (w *Worker) Handle(ctx context.Context, p *Payload) (resp *Response) {
	start := time.Now()
	mode, err := ParseMode(p.Mode)
	if err != nil {
		resp = failed(Mode(strings.TrimSpace(p.Mode)), p.JobID, err)
		resp.DurationMS = time.Since(start).Milliseconds()
		return resp
	}

	p.Mode = string(mode)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.InvokeTimeout)
	defer cancel()
	ctx = ctxkeys.WithMode(ctx, string(mode))
	ctx = ctxkeys.WithJobID(ctx, p.JobID)

	ctx, span := telemetry.StartSpan(ctx, "worker."+string(mode),
		telemetry.AttrMode.String(string(mode)),
		telemetry.AttrJobID.String(p.JobID),
	)

	logger := w.logger.With(zap.String("mode", string(mode)), zap.String("job_id", p.JobID))
	if id, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}
	logger.Info("invocation started")

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			runErr = types.Errorf(types.ErrInternalError, "internal error: %v", r)
			resp = failed(mode, p.JobID, runErr)
		}
		resp.DurationMS = time.Since(start).Milliseconds()
		w.metrics.RecordModeRun(string(mode), resp.Status != StatusFailed, time.Since(start))
		w.runs.Record(ctx, string(mode), string(resp.Status), resp.TotalGenerated, time.Since(start))
		span.SetAttributes(
			telemetry.AttrStatus.String(string(resp.Status)),
			telemetry.AttrTotal.Int(resp.Total),
			telemetry.AttrGenerated.Int(resp.TotalGenerated),
		)
		telemetry.EndSpan(span, runErr)
		logger.Info("invocation finished",
			zap.String("status", string(resp.Status)),
			zap.Int("total", resp.Total),
			zap.Int("total_generated", resp.TotalGenerated),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	resp, runErr = modeHandlers[mode](w, ctx, p)
	if runErr != nil {
		logger.Warn("invocation failed", zap.Error(runErr))
		partial := resp
		resp = failed(mode, p.JobID, runErr)
		if partial != nil {
			carryHandles(resp, partial)
		}
	}
	return resp
}

// carryHandles 失败响应保留已创建的远端句柄，便于清理
func carryHandles(dst, src *Response) {
	if src.JobID != "" {
		dst.JobID = src.JobID
	}
	dst.BatchJobNames = src.BatchJobNames
	dst.SourceFileNames = src.SourceFileNames
	dst.ImageFileNames = src.ImageFileNames
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// backend 返回请求对应的远端能力
func (w *Worker) backend(ctx context.Context, apiKey string) (Backend, error) {
	if w.deps.Backends == nil {
		return nil, types.NewMissingConfigError("GEMINI_API_KEY")
	}
	return w.deps.Backends(ctx, apiKey)
}

// openStore 打开本次请求的存储：载荷配置优先，其次默认配置；都没有时返回 nil
func (w *Worker) openStore(ctx context.Context, p *Payload) (objectstore.Store, error) {
	cfg := w.cfg.DefaultStorage
	if p.GCSConfig != nil && !p.GCSConfig.IsZero() {
		cfg = *p.GCSConfig
	}
	if cfg.IsZero() || w.deps.Stores == nil {
		return nil, nil
	}
	store, err := w.deps.Stores.Open(ctx, cfg)
	if err != nil {
		return nil, types.NewError(types.ErrMissingConfig, "failed to open storage "+cfg.BucketName).WithCause(err)
	}
	return store, nil
}

// closeStore 关闭存储，nil 安全
func (w *Worker) closeStore(store objectstore.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		w.logger.Warn("failed to close storage", zap.Error(err))
	}
}

// imageSource 按 内联 > URL > bucket 目录 > 本地目录 的顺序选择图片来源
func (w *Worker) imageSource(p *Payload, store objectstore.Store) (imagesource.Source, error) {
	folder := strings.TrimSpace(p.Folder)
	switch {
	case len(p.Images) > 0:
		return imagesource.Source{Kind: imagesource.KindInline, Inline: p.Images}, nil
	case len(trimmed(p.ImageURLs)) > 0:
		return imagesource.Source{Kind: imagesource.KindURLs, URLs: trimmed(p.ImageURLs)}, nil
	case folder != "" && store != nil:
		return imagesource.Source{Kind: imagesource.KindBucket, Store: store, Folder: folder}, nil
	case folder != "" && w.cfg.AllowLocalSources:
		return imagesource.Source{Kind: imagesource.KindLocal, Path: folder}, nil
	case folder != "":
		return imagesource.Source{}, types.NewMissingConfigError("gcs_config")
	default:
		return imagesource.Source{}, types.NewInvalidInputError("missing 'images', 'image_urls' or 'folder' in input")
	}
}

// saveSubmission 持久化提交记录，失败只告警
func (w *Worker) saveSubmission(ctx context.Context, sub *batch.Submission) {
	if w.deps.Registry == nil || sub == nil || len(sub.JobNames)+len(sub.SourceFiles)+len(sub.ImageFiles) == 0 {
		return
	}
	// 提交已完成，记录不应随调用超时一起失败
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.deps.Registry.SaveSubmission(saveCtx, sub); err != nil {
		w.logger.Warn("failed to save submission record",
			zap.String("job_id", sub.JobID),
			zap.Error(err),
		)
	}
}

// lookupJobNames 从提交记录取回任务名
func (w *Worker) lookupJobNames(ctx context.Context, jobID string) ([]string, error) {
	if w.deps.Registry == nil || jobID == "" {
		return nil, types.NewInvalidInputError("missing 'batch_job_names' in input for fetch_results mode")
	}
	sub, err := w.deps.Registry.LoadSubmission(ctx, jobID)
	switch {
	case err == nil:
		w.metrics.RecordRegistryLookup("hit")
		return sub.JobNames, nil
	case errors.Is(err, batch.ErrSubmissionNotFound):
		w.metrics.RecordRegistryLookup("miss")
		return nil, types.Errorf(types.ErrNotFound, "no batch jobs recorded for job_id %s; pass batch_job_names", jobID)
	default:
		w.metrics.RecordRegistryLookup("error")
		return nil, fmt.Errorf("load submission %s: %w", jobID, err)
	}
}
