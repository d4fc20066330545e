package gemini

import (
	"context"
	"strings"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// CreateBatch 以已上传的请求文件创建批处理任务
func (c *Client) CreateBatch(ctx context.Context, model, sourceFile, displayName string) (*batch.Job, error) {
	if strings.TrimSpace(model) == "" {
		return nil, types.NewInvalidInputError("model is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	job, err := c.sdk.Batches.Create(ctx, ModelName(model),
		&genai.BatchJobSource{FileName: FileID(sourceFile)},
		&genai.CreateBatchJobConfig{DisplayName: displayName})
	if err != nil {
		return nil, mapError("create batch", err)
	}
	c.logger.Info("batch job created",
		zap.String("job", job.Name),
		zap.String("display_name", displayName),
		zap.String("source_file", sourceFile))
	return toJob(job), nil
}

// GetBatch 查询任务状态
func (c *Client) GetBatch(ctx context.Context, name string) (*batch.Job, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	job, err := c.sdk.Batches.Get(ctx, BatchID(name), nil)
	if err != nil {
		return nil, mapError("get batch", err)
	}
	return toJob(job), nil
}

// DeleteBatch 删除任务
func (c *Client) DeleteBatch(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.sdk.Batches.Delete(ctx, BatchID(name), nil); err != nil {
		return mapError("delete batch", err)
	}
	return nil
}

// ListBatches 列出账号下全部任务，仅 purge_all 使用
func (c *Client) ListBatches(ctx context.Context) ([]batch.Job, error) {
	var out []batch.Job
	for job, err := range c.sdk.Batches.All(ctx) {
		if err != nil {
			return out, mapError("list batches", err)
		}
		out = append(out, *toJob(job))
	}
	return out, nil
}

func toJob(j *genai.BatchJob) *batch.Job {
	out := &batch.Job{
		Name:        j.Name,
		DisplayName: j.DisplayName,
		State:       jobState(j.State),
	}
	if j.Src != nil {
		out.SourceFile = j.Src.FileName
	}
	if j.Dest != nil {
		out.OutputFile = j.Dest.FileName
	}
	return out
}

// jobState 把 SDK 的任务状态折叠为本地状态
func jobState(s genai.JobState) batch.JobState {
	switch s {
	case genai.JobStateSucceeded, genai.JobStatePartiallySucceeded:
		return batch.JobStateSucceeded
	case genai.JobStateFailed:
		return batch.JobStateFailed
	case genai.JobStateCancelled, genai.JobStateCancelling:
		return batch.JobStateCancelled
	case genai.JobStateExpired:
		return batch.JobStateExpired
	case genai.JobStateRunning, genai.JobStateUpdating:
		return batch.JobStateRunning
	case genai.JobStatePending, genai.JobStateQueued, genai.JobStatePaused:
		return batch.JobStatePending
	default:
		return batch.JobStateUnknown
	}
}

// ModelName 返回带 models/ 前缀的模型资源名
func ModelName(model string) string {
	m := strings.TrimSpace(model)
	if strings.HasPrefix(m, "models/") {
		return m
	}
	return "models/" + strings.TrimPrefix(m, "google/")
}

// BatchID 把任务名统一成 batches/{id}
func BatchID(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "batches/"); i >= 0 {
		name = name[i+len("batches/"):]
	}
	return "batches/" + name
}
