package batch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPurgeNotAllowed 未开启 cleanup.allow_purge_all 时请求全量清理
var ErrPurgeNotAllowed = types.NewError(types.ErrForbidden,
	"purge_all requires IMAGEFLOW_CLEANUP_ALLOW_PURGE_ALL=true")

// CleanupRequest 清理参数
type CleanupRequest struct {
	JobIDs    []string
	FileNames []string
	JobNames  []string
	// PurgeAll 删除账号下全部远端文件与任务
	PurgeAll bool
}

// CleanupReport 清理结果计数
type CleanupReport struct {
	ObjectsMatched int  `json:"objects_matched"`
	ObjectsDeleted int  `json:"objects_deleted"`
	FilesDeleted   int  `json:"files_deleted"`
	FilesFailed    int  `json:"files_failed"`
	JobsDeleted    int  `json:"batch_jobs_deleted"`
	JobsFailed     int  `json:"batch_jobs_failed"`
	Purged         bool `json:"purged"`
	// FromRegistry 远端句柄来自提交记录
	FromRegistry bool `json:"from_registry,omitempty"`
}

// CleanerConfig 清理配置
type CleanerConfig struct {
	AllowPurgeAll bool
	// SkipRecordedHandles 未给出句柄时不删除远端资源，提交记录保留
	SkipRecordedHandles bool
	Concurrency   int
	Timeout       time.Duration
}

// Cleaner 删除任务相关的存储对象与远端资源
type Cleaner struct {
	files    FileService
	jobs     JobService
	store    objectstore.Store
	registry Registry
	cfg      CleanerConfig
	logger   *zap.Logger
}

// NewCleaner 创建清理器。store、registry 均可为 nil。
func NewCleaner(files FileService, jobs JobService, store objectstore.Store, registry Registry, cfg CleanerConfig, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Cleaner{
		files:    files,
		jobs:     jobs,
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "batch_cleaner")),
	}
}

// Cleanup 执行清理。单个资源删除失败只计数，不中断。
// 未提供远端句柄时只使用提交记录中的句柄，从不扫描账号；
// SkipRecordedHandles 开启时这种情况下不做任何远端删除。
func (c *Cleaner) Cleanup(ctx context.Context, req CleanupRequest) (*CleanupReport, error) {
	if req.PurgeAll && !c.cfg.AllowPurgeAll {
		return nil, ErrPurgeNotAllowed
	}

	report := &CleanupReport{}
	jobIDs := dedupe(trimAll(req.JobIDs))

	if c.store != nil {
		for _, id := range jobIDs {
			matched, deleted := c.deleteObjects(ctx, id)
			report.ObjectsMatched += matched
			report.ObjectsDeleted += deleted
		}
	}

	fileNames := trimAll(req.FileNames)
	jobNames := trimAll(req.JobNames)

	var recorded []string
	noHandles := len(fileNames) == 0 && len(jobNames) == 0 && !req.PurgeAll
	if noHandles && !c.cfg.SkipRecordedHandles && c.registry != nil {
		for _, id := range jobIDs {
			sub, err := c.registry.LoadSubmission(ctx, id)
			if err != nil {
				if !errors.Is(err, ErrSubmissionNotFound) {
					c.logger.Warn("load submission failed", zap.String("job_id", id), zap.Error(err))
				}
				continue
			}
			jobNames = append(jobNames, sub.JobNames...)
			fileNames = append(fileNames, sub.SourceFiles...)
			fileNames = append(fileNames, sub.ImageFiles...)
			recorded = append(recorded, id)
		}
		report.FromRegistry = len(recorded) > 0
	}

	if req.PurgeAll {
		report.Purged = true
		all, err := c.listAll(ctx)
		if err != nil {
			return report, err
		}
		jobNames = append(jobNames, all.jobs...)
		fileNames = append(fileNames, all.files...)
	}

	// 先删任务再删其引用的文件
	report.JobsDeleted, report.JobsFailed = c.deleteRemote(ctx, dedupe(jobNames), c.jobs.DeleteBatch, "batch")
	report.FilesDeleted, report.FilesFailed = c.deleteRemote(ctx, dedupe(fileNames), c.files.DeleteFile, "file")

	// 记录里的句柄没有删除时保留记录，之后仍可清理
	if c.registry != nil && !(noHandles && c.cfg.SkipRecordedHandles) {
		for _, id := range jobIDs {
			if err := c.registry.DeleteSubmission(ctx, id); err != nil && !errors.Is(err, ErrSubmissionNotFound) {
				c.logger.Warn("delete submission record failed", zap.String("job_id", id), zap.Error(err))
			}
		}
	}

	c.logger.Info("cleanup finished",
		zap.Strings("job_ids", jobIDs),
		zap.Int("objects_deleted", report.ObjectsDeleted),
		zap.Int("files_deleted", report.FilesDeleted),
		zap.Int("batch_jobs_deleted", report.JobsDeleted),
		zap.Bool("purged", report.Purged),
	)
	return report, nil
}

// deleteObjects 删除 prefix/job_id/ 下全部对象
func (c *Cleaner) deleteObjects(ctx context.Context, jobID string) (matched, deleted int) {
	prefix := objectstore.JobPrefix(c.store.PathPrefix(), jobID) + "/"
	objects, err := c.store.List(ctx, prefix)
	if err != nil {
		c.logger.Warn("list job objects failed", zap.String("prefix", prefix), zap.Error(err))
		return 0, 0
	}

	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, o := range objects {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, c.cfg.Timeout)
			defer cancel()
			if err := c.store.Delete(cctx, o.Name); err != nil {
				c.logger.Debug("delete object failed", zap.String("object", o.Name), zap.Error(err))
				return nil
			}
			n.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return len(objects), int(n.Load())
}

func (c *Cleaner) deleteRemote(ctx context.Context, names []string, del func(context.Context, string) error, kind string) (deleted, failed int) {
	if len(names) == 0 {
		return 0, 0
	}
	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, name := range names {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, c.cfg.Timeout)
			defer cancel()
			if err := del(cctx, name); err != nil {
				bad.Add(1)
				level := zap.WarnLevel
				if errors.Is(err, ErrRemoteNotFound) {
					level = zap.DebugLevel
				}
				c.logger.Log(level, "delete remote resource failed",
					zap.String("kind", kind),
					zap.String("name", name),
					zap.Error(err),
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

type remoteInventory struct {
	jobs  []string
	files []string
}

func (c *Cleaner) listAll(ctx context.Context) (*remoteInventory, error) {
	inv := &remoteInventory{}
	jobs, err := c.jobs.ListBatches(ctx)
	if err != nil {
		return nil, types.NewUpstreamError("list batch jobs failed", 0, err)
	}
	for _, j := range jobs {
		inv.jobs = append(inv.jobs, j.Name)
	}
	files, err := c.files.ListFiles(ctx)
	if err != nil {
		return nil, types.NewUpstreamError("list files failed", 0, err)
	}
	for _, f := range files {
		inv.files = append(inv.files, f.Name)
	}
	return inv, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
