package batch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/imageflow/llm/retry"
	"github.com/BaSui01/imageflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultUploadConcurrency 源图片并发上传上限
const DefaultUploadConcurrency = 10

// SubmitterConfig 提交器配置
type SubmitterConfig struct {
	// StagingDir 为空时使用系统临时目录
	StagingDir string
	// CreateRPS 创建任务的速率，<=0 表示不限速
	CreateRPS         float64
	UploadConcurrency int
	// Timeout 单次远端调用超时
	Timeout time.Duration
	Retry   *retry.RetryPolicy
}

// Submitter 上传请求文件并为每个 Chunk 创建一个批处理任务。
// 只提交，不轮询。
type Submitter struct {
	files   FileService
	jobs    JobService
	mirror  Mirror
	limiter *rate.Limiter
	retryer retry.Retryer
	cfg     SubmitterConfig
	logger  *zap.Logger
}

// NewSubmitter 创建提交器，mirror 可为 nil
func NewSubmitter(files FileService, jobs JobService, mirror Mirror, cfg SubmitterConfig, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mirror == nil {
		mirror = NopMirror{}
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CreateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CreateRPS), 1)
	}
	logger = logger.With(zap.String("component", "batch_submitter"))

	return &Submitter{
		files:   files,
		jobs:    jobs,
		mirror:  mirror,
		limiter: limiter,
		retryer: retry.NewBackoffRetryer(cfg.Retry, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// DisplayName 返回第 n 个任务的显示名
func DisplayName(jobID string, n int) string {
	return fmt.Sprintf("batch-job-%s-%d", jobID, n)
}

// Submit 依次处理每个 Chunk：写临时文件、旁路镜像、上传、创建任务。
// 出错时返回已创建的句柄与错误，调用方据此清理或重试。
func (s *Submitter) Submit(ctx context.Context, chunks []Chunk, model, jobID string) (*Submission, error) {
	sub := newSubmission(jobID, model)
	for i := range chunks {
		c := &chunks[i]
		file, err := s.uploadChunk(ctx, c, jobID)
		if err != nil {
			return sub, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		sub.SourceFiles = append(sub.SourceFiles, file.Name)

		job, err := s.createJob(ctx, model, file.Name, DisplayName(jobID, c.Index))
		if err != nil {
			return sub, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		sub.JobNames = append(sub.JobNames, job.Name)
		sub.Chunks++
		sub.TotalRequests += c.Len()

		s.logger.Info("batch job created",
			zap.String("job_id", jobID),
			zap.Int("chunk", c.Index),
			zap.Int("requests", c.Len()),
			zap.Int("bytes", c.Size),
			zap.String("source_file", file.Name),
			zap.String("batch", job.Name),
		)
	}
	return sub, nil
}

// SubmitFiles 直接用已上传的请求文件创建任务，跳过打包与上传
func (s *Submitter) SubmitFiles(ctx context.Context, fileNames []string, model, jobID string) (*Submission, error) {
	if len(fileNames) == 0 {
		return nil, types.NewInvalidInputError("file_names is empty")
	}
	sub := newSubmission(jobID, model)
	for n, name := range fileNames {
		job, err := s.createJob(ctx, model, name, DisplayName(jobID, n))
		if err != nil {
			return sub, fmt.Errorf("source file %s: %w", name, err)
		}
		sub.SourceFiles = append(sub.SourceFiles, name)
		sub.JobNames = append(sub.JobNames, job.Name)
		sub.Chunks++
	}
	return sub, nil
}

// UploadImages 把源图片上传到 File API，返回按 Index 排序的文件引用。
// 并发数由信号量限制，避免压垮上传接口。
func (s *Submitter) UploadImages(ctx context.Context, images []ImageRef, jobID string) ([]ImageRef, error) {
	sem := semaphore.NewWeighted(int64(s.cfg.UploadConcurrency))
	out := make([]ImageRef, len(images))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, img := range images {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			ref, err := s.uploadImage(ctx, img, jobID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("image %d: %w", img.Index, err)
				}
				return
			}
			out[i] = ref
		}()
	}
	wg.Wait()

	// 已上传的部分也返回，调用方需要记录以便清理
	uploaded := make([]ImageRef, 0, len(out))
	for _, ref := range out {
		if ref.FileName != "" {
			uploaded = append(uploaded, ref)
		}
	}
	sort.Slice(uploaded, func(a, b int) bool { return uploaded[a].Index < uploaded[b].Index })
	return uploaded, firstErr
}

func (s *Submitter) uploadImage(ctx context.Context, img ImageRef, jobID string) (ImageRef, error) {
	if img.FileURI != "" {
		return img, nil
	}
	file, err := retry.DoWithResult(ctx, s.retryer, func(int) (*File, error) {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return s.files.UploadFile(cctx, bytes.NewReader(img.Data), UploadOptions{
			MIMEType:    img.MIMEType,
			DisplayName: fmt.Sprintf("batch_image_%s_%d", jobID, img.Index),
		})
	})
	if err != nil {
		return ImageRef{}, err
	}
	return ImageRef{
		Index:    img.Index,
		MIMEType: img.MIMEType,
		FileURI:  file.URI,
		FileName: file.Name,
	}, nil
}

// uploadChunk 暂存文件在任何情况下都会被删除
func (s *Submitter) uploadChunk(ctx context.Context, c *Chunk, jobID string) (*File, error) {
	f, err := os.CreateTemp(s.cfg.StagingDir, "batch-"+uuid.NewString()+"-*.jsonl")
	if err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "create staging file")
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove staging file failed", zap.String("path", f.Name()), zap.Error(err))
		}
	}()

	w := bufio.NewWriter(f)
	for _, line := range c.Lines {
		if _, err := w.Write(line); err != nil {
			return nil, types.WrapError(err, types.ErrInternalError, "write staging file")
		}
		if err := w.WriteByte('\n'); err != nil {
			return nil, types.WrapError(err, types.ErrInternalError, "write staging file")
		}
	}
	if err := w.Flush(); err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "write staging file")
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if err := s.mirror.MirrorRequests(ctx, jobID, c.Index, f); err != nil {
			s.logger.Warn("mirror request chunk failed",
				zap.String("job_id", jobID),
				zap.Int("chunk", c.Index),
				zap.Error(err),
			)
		}
	}

	return retry.DoWithResult(ctx, s.retryer, func(int) (*File, error) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, types.WrapError(err, types.ErrInternalError, "rewind staging file")
		}
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return s.files.UploadFile(cctx, f, UploadOptions{
			MIMEType:    JSONLMIMEType,
			DisplayName: fmt.Sprintf("batch_requests_%s_%d", jobID, c.Index),
		})
	})
}

func (s *Submitter) createJob(ctx context.Context, model, sourceFile, displayName string) (*Job, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	job, err := s.jobs.CreateBatch(cctx, model, sourceFile, displayName)
	if err != nil {
		return nil, err
	}
	if job.SourceFile == "" {
		job.SourceFile = sourceFile
	}
	return job, nil
}

func newSubmission(jobID, model string) *Submission {
	return &Submission{
		JobID:       jobID,
		Model:       model,
		JobNames:    []string{},
		SourceFiles: []string{},
		CreatedAt:   time.Now().UTC(),
	}
}
