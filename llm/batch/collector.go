package batch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/retry"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result 是结果文件中的一张图片。key 无法解码时索引字段为 nil。
type Result struct {
	Key         string  `json:"key"`
	AspectRatio *string `json:"aspect_ratio"`
	PromptIndex *int    `json:"prompt_index"`
	ImageIndex  *int    `json:"image_index"`
	Variation   *int    `json:"variation"`
	MIMEType    string  `json:"mime_type"`
	Data        []byte  `json:"-"`
	Size        int     `json:"size"`
	Path        string  `json:"path,omitempty"`
	URL         string  `json:"url,omitempty"`
	// Job 是产出该结果的任务名
	Job string `json:"batch_job_name"`

	// part 是同一行内的图片序号，seq 是无 key 结果的全局序号
	part int
	seq  int
}

// JobStatus 记录每个任务的收集情况
type JobStatus struct {
	Name       string   `json:"name"`
	State      JobState `json:"state"`
	OutputFile string   `json:"output_file,omitempty"`
	Lines      int      `json:"lines"`
	Results    int      `json:"results"`
	Malformed  int      `json:"malformed"`
	Failed     int      `json:"failed"`
	Error      string   `json:"error,omitempty"`
}

// LineError 是远端对单条请求返回的错误
type LineError struct {
	Job     string `json:"batch_job_name"`
	Line    int    `json:"line"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

// Collection 是一次收集的汇总
type Collection struct {
	Results       []Result    `json:"results"`
	TotalBytes    int64       `json:"total_bytes"`
	ResponseFiles []string    `json:"response_file_names"`
	Jobs          []JobStatus `json:"jobs"`
	Errors        []LineError `json:"errors,omitempty"`
	Malformed     int         `json:"malformed_lines"`
}

// CollectorConfig 收集器配置
type CollectorConfig struct {
	// MaxAttempts 读取结果流失败时的最大尝试次数
	MaxAttempts int
	Backoff     time.Duration
	// UploadConcurrency 图片上传并发数
	UploadConcurrency int
	// FlatOutput 使用扁平路径
	FlatOutput bool
	Timeout    time.Duration
}

// DefaultCollectorConfig 返回默认配置
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxAttempts:       3,
		Backoff:           2 * time.Second,
		UploadConcurrency: 8,
		Timeout:           60 * time.Second,
	}
}

// Collector 把批处理结果文件还原为逐项结果
type Collector struct {
	jobs    JobService
	results ResultOpener
	store   objectstore.Store
	mirror  Mirror
	cfg     CollectorConfig
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewCollector 创建收集器。store 为 nil 时结果只保留字节不上传；
// mirror 为 nil 时不镜像结果文件。
func NewCollector(jobs JobService, results ResultOpener, store objectstore.Store, mirror Mirror, cfg CollectorConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mirror == nil {
		mirror = NopMirror{}
	}
	def := DefaultCollectorConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = def.UploadConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger = logger.With(zap.String("component", "batch_collector"))

	return &Collector{
		jobs:    jobs,
		results: results,
		store:   store,
		mirror:  mirror,
		cfg:     cfg,
		retryer: retry.NewBackoffRetryer(retry.LinearPolicy(cfg.MaxAttempts, cfg.Backoff), logger),
		logger:  logger,
	}
}

// Collect 逐个查询任务并流式解析其结果文件。
// 单个任务失败只记录在 JobStatus 中，不影响其它任务；
// 配置了存储时所有图片最后统一上传到确定性路径，重复调用结果相同。
func (c *Collector) Collect(ctx context.Context, jobNames []string, jobID string) (*Collection, error) {
	if len(jobNames) == 0 {
		return nil, types.NewInvalidInputError("batch_job_names is empty")
	}

	coll := &Collection{
		Results:       []Result{},
		ResponseFiles: []string{},
		Jobs:          make([]JobStatus, 0, len(jobNames)),
	}
	unkeyed := 0

	for _, name := range dedupe(jobNames) {
		if err := ctx.Err(); err != nil {
			return coll, err
		}
		status := c.collectJob(ctx, name, jobID, coll, &unkeyed)
		coll.Jobs = append(coll.Jobs, status)
	}

	if c.store != nil && len(coll.Results) > 0 {
		if err := c.upload(ctx, coll.Results, jobID); err != nil {
			return coll, err
		}
	}
	coll.Results = dedupeResults(coll.Results, c.store != nil)
	for _, r := range coll.Results {
		coll.TotalBytes += int64(r.Size)
	}

	c.logger.Info("batch results collected",
		zap.String("job_id", jobID),
		zap.Int("jobs", len(coll.Jobs)),
		zap.Int("results", len(coll.Results)),
		zap.Int("line_errors", len(coll.Errors)),
		zap.Int("malformed", coll.Malformed),
		zap.Int64("bytes", coll.TotalBytes),
	)
	return coll, nil
}

func (c *Collector) collectJob(ctx context.Context, name, jobID string, coll *Collection, unkeyed *int) JobStatus {
	status := JobStatus{Name: name, State: JobStateUnknown}

	job, err := c.getJob(ctx, name)
	if err != nil {
		status.Error = err.Error()
		c.logger.Warn("get batch job failed", zap.String("batch", name), zap.Error(err))
		return status
	}
	status.State = job.State
	status.OutputFile = job.OutputFile
	if job.OutputFile == "" {
		c.logger.Info("batch job has no output yet",
			zap.String("batch", name),
			zap.String("state", string(job.State)),
		)
		return status
	}
	coll.ResponseFiles = append(coll.ResponseFiles, job.OutputFile)

	mirror, err := c.mirror.MirrorResponses(ctx, jobID, name)
	if err != nil {
		c.logger.Warn("open response mirror failed", zap.String("batch", name), zap.Error(err))
		mirror = nopWriteCloser{}
	}
	mw := &bestEffortWriter{w: mirror}

	err = c.streamLines(ctx, job.OutputFile, func(lineNo int, raw []byte) {
		_, _ = mw.Write(raw)
		c.handleLine(name, lineNo, raw, &status, coll, unkeyed)
	})
	if cerr := mirror.Close(); cerr != nil || mw.err != nil {
		c.logger.Warn("mirror response file failed",
			zap.String("batch", name),
			zap.Error(errors.Join(mw.err, cerr)),
		)
	}
	if err != nil {
		status.Error = err.Error()
		c.logger.Warn("read batch output failed",
			zap.String("batch", name),
			zap.String("file", job.OutputFile),
			zap.Int("lines_read", status.Lines),
			zap.Error(err),
		)
	}
	return status
}

func (c *Collector) getJob(ctx context.Context, name string) (*Job, error) {
	return retry.DoWithResult(ctx, c.retryer, func(int) (*Job, error) {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		return c.jobs.GetBatch(cctx, name)
	})
}

// streamLines 逐行读取结果文件，行长度不设上限。
// 读取中断时重新打开并跳过已消费的行。
func (c *Collector) streamLines(ctx context.Context, fileName string, fn func(lineNo int, raw []byte)) error {
	consumed := 0
	return c.retryer.Do(ctx, func(attempt int) error {
		rc, err := c.results.OpenResult(ctx, fileName)
		if err != nil {
			return err
		}
		defer rc.Close()

		r := bufio.NewReaderSize(rc, 1<<20)
		n := 0
		for {
			line, err := r.ReadBytes('\n')
			complete := err == nil || (errors.Is(err, io.EOF) && len(line) > 0)
			if complete {
				n++
				if n > consumed {
					consumed = n
					fn(n, line)
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				c.logger.Debug("result stream interrupted",
					zap.String("file", fileName),
					zap.Int("attempt", attempt),
					zap.Int("consumed", consumed),
					zap.Error(err),
				)
				return retry.WrapRetryable(fmt.Errorf("read %s: %w", fileName, err))
			}
		}
	})
}

func (c *Collector) handleLine(jobName string, lineNo int, raw []byte, status *JobStatus, coll *Collection, unkeyed *int) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}
	status.Lines++

	line, err := DecodeResponse(raw)
	if err != nil {
		status.Malformed++
		coll.Malformed++
		c.logger.Debug("skip malformed result line",
			zap.String("batch", jobName),
			zap.Int("line", lineNo),
			zap.Error(err),
		)
		return
	}
	if line.Error != "" {
		status.Failed++
		coll.Errors = append(coll.Errors, LineError{Job: jobName, Line: lineNo, Key: line.Key, Message: line.Error})
		return
	}

	key, kerr := ParseKey(line.Key)
	for part, img := range line.Images {
		r := Result{
			Key:      line.Key,
			MIMEType: img.MIMEType,
			Data:     img.Data,
			Size:     len(img.Data),
			Job:      jobName,
			part:     part,
		}
		if r.MIMEType == "" {
			r.MIMEType = "image/png"
		}
		if kerr == nil {
			ratio, p, i, v := key.AspectRatio, key.PromptIndex, key.ImageIndex, key.Variation
			r.AspectRatio, r.PromptIndex, r.ImageIndex, r.Variation = &ratio, &p, &i, &v
		} else {
			r.seq = *unkeyed
			*unkeyed++
		}
		status.Results++
		coll.Results = append(coll.Results, r)
	}
}

// ResultPath 计算结果图片的确定性存储路径
func ResultPath(pathPrefix, jobID string, r *Result, flat bool) string {
	ext := objectstore.ExtensionForMIME(r.MIMEType)
	suffix := ""
	if r.part > 0 {
		suffix = fmt.Sprintf("_n%d", r.part)
	}
	base := objectstore.JobPrefix(pathPrefix, jobID)

	if r.ImageIndex == nil {
		return objectstore.Join(base, "batch", "unkeyed",
			objectstore.GeneratedName(fmt.Sprintf("result_%d", r.seq), ext))
	}
	slug := RatioSlug(*r.AspectRatio)
	if flat {
		return objectstore.Join(base, objectstore.GeneratedName(
			fmt.Sprintf("img%d_p%d_r%s_var%d%s", *r.ImageIndex, *r.PromptIndex, slug, *r.Variation, suffix), ext))
	}
	return objectstore.Join(base, "batch", "r"+slug, fmt.Sprintf("p%d", *r.PromptIndex),
		objectstore.GeneratedName(fmt.Sprintf("img%d_var%d%s", *r.ImageIndex, *r.Variation, suffix), ext))
}

// upload 并发上传，写入路径与 URL 后释放图片字节
func (c *Collector) upload(ctx context.Context, results []Result, jobID string) error {
	prefix := c.store.PathPrefix()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.UploadConcurrency)

	// 同一路径只上传一次
	written := make(map[string]bool, len(results))

	for i := range results {
		r := &results[i]
		r.Path = ResultPath(prefix, jobID, r, c.cfg.FlatOutput)
		dup := written[r.Path]
		written[r.Path] = true
		if dup {
			r.Data = nil
			continue
		}

		g.Go(func() error {
			err := c.retryer.Do(gctx, func(int) error {
				cctx, cancel := context.WithTimeout(gctx, c.cfg.Timeout)
				defer cancel()
				return objectstore.PutBytes(cctx, c.store, r.Path, r.Data, r.MIMEType)
			})
			if err != nil {
				return types.NewUpstreamError(fmt.Sprintf("upload %s failed", r.Path), 0, err).WithRetryable(false)
			}
			r.URL = c.store.URL(gctx, r.Path)
			r.Data = nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// 重复路径沿用首次上传得到的 URL
	urls := make(map[string]string, len(results))
	for _, r := range results {
		if r.URL != "" {
			urls[r.Path] = r.URL
		}
	}
	for i := range results {
		if results[i].URL == "" {
			results[i].URL = urls[results[i].Path]
		}
	}
	return nil
}

// dedupeResults 有存储时按 URL 去重，否则按 key + 行内序号去重
func dedupeResults(results []Result, byURL bool) []Result {
	seen := make(map[string]bool, len(results))
	out := results[:0]
	for _, r := range results {
		var id string
		switch {
		case byURL && r.URL != "":
			id = r.URL
		case r.ImageIndex != nil:
			id = fmt.Sprintf("%s#%d", r.Key, r.part)
		default:
			id = fmt.Sprintf("unkeyed#%d", r.seq)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// bestEffortWriter 首次写失败后停止写入并记住错误
type bestEffortWriter struct {
	w   io.Writer
	err error
}

func (b *bestEffortWriter) Write(p []byte) (int, error) {
	if b.err != nil {
		return len(p), nil
	}
	if _, err := b.w.Write(p); err != nil {
		b.err = err
	}
	return len(p), nil
}
