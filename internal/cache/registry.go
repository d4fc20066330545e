package cache

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

const submissionKeyPrefix = "submission:"

// Registry 以 Redis 持久化批处理提交记录，实现 batch.Registry
type Registry struct {
	manager *Manager
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRegistry 创建提交记录存储，ttl 为 0 时使用 Manager 的默认过期时间
func NewRegistry(manager *Manager, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "submission_registry")),
	}
}

func submissionKey(jobID string) string {
	return submissionKeyPrefix + strings.TrimSpace(jobID)
}

// SaveSubmission 写入提交记录，同一 job_id 覆盖旧记录
func (r *Registry) SaveSubmission(ctx context.Context, sub *batch.Submission) error {
	if sub == nil || strings.TrimSpace(sub.JobID) == "" {
		return types.NewInvalidInputError("submission requires a job_id")
	}
	if err := r.manager.SetJSON(ctx, submissionKey(sub.JobID), sub, r.ttl); err != nil {
		return err
	}
	r.logger.Debug("submission saved",
		zap.String("job_id", sub.JobID),
		zap.Int("batch_jobs", len(sub.JobNames)))
	return nil
}

// LoadSubmission 读取提交记录，不存在返回 batch.ErrSubmissionNotFound
func (r *Registry) LoadSubmission(ctx context.Context, jobID string) (*batch.Submission, error) {
	var sub batch.Submission
	err := r.manager.GetJSON(ctx, submissionKey(jobID), &sub)
	if IsCacheMiss(err) {
		return nil, batch.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubmission 删除提交记录
func (r *Registry) DeleteSubmission(ctx context.Context, jobID string) error {
	return r.manager.Delete(ctx, submissionKey(jobID))
}
