package batch

import (
	"context"
	"errors"
	"io"
	"time"
)

// JobState 远端批处理任务状态
type JobState string

const (
	JobStateUnknown   JobState = "UNKNOWN"
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
	JobStateExpired   JobState = "EXPIRED"
)

// Terminal 报告任务是否已结束
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled, JobStateExpired:
		return true
	}
	return false
}

// Job 是远端批处理任务的句柄。状态以远端为准，本地只做查询。
type Job struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	SourceFile  string   `json:"source_file,omitempty"`
	OutputFile  string   `json:"output_file,omitempty"`
	State       JobState `json:"state"`
}

// File 是 File API 上的一个文件
type File struct {
	Name     string `json:"name"`
	URI      string `json:"uri,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// UploadOptions 上传参数
type UploadOptions struct {
	MIMEType    string
	DisplayName string
}

// ErrRemoteNotFound 远端资源不存在，适配层应把 404 映射为它
var ErrRemoteNotFound = errors.New("batch: remote resource not found")

// FileService 是 File API 能力
type FileService interface {
	UploadFile(ctx context.Context, r io.Reader, opts UploadOptions) (*File, error)
	DeleteFile(ctx context.Context, name string) error
	ListFiles(ctx context.Context) ([]File, error)
}

// JobService 是批处理任务能力
type JobService interface {
	CreateBatch(ctx context.Context, model, sourceFile, displayName string) (*Job, error)
	GetBatch(ctx context.Context, name string) (*Job, error)
	DeleteBatch(ctx context.Context, name string) error
	ListBatches(ctx context.Context) ([]Job, error)
}

// ResultOpener 以流的方式打开结果文件
type ResultOpener interface {
	OpenResult(ctx context.Context, fileName string) (io.ReadCloser, error)
}

// Mirror 把原始请求与结果文件旁路写入存储。调用方忽略它的错误。
type Mirror interface {
	MirrorRequests(ctx context.Context, jobID string, chunk int, r io.Reader) error
	MirrorResponses(ctx context.Context, jobID, batchName string) (io.WriteCloser, error)
}

// NopMirror 不做任何事
type NopMirror struct{}

// MirrorRequests 实现 Mirror
func (NopMirror) MirrorRequests(context.Context, string, int, io.Reader) error { return nil }

// MirrorResponses 实现 Mirror
func (NopMirror) MirrorResponses(context.Context, string, string) (io.WriteCloser, error) {
	return nopWriteCloser{}, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(b []byte) (int, error) { return len(b), nil }
func (nopWriteCloser) Close() error                { return nil }

// Submission 记录一次提交产生的全部远端句柄，供收集与清理使用
type Submission struct {
	JobID         string    `json:"job_id"`
	Model         string    `json:"model"`
	JobNames      []string  `json:"batch_job_names"`
	SourceFiles   []string  `json:"source_file_names"`
	ImageFiles    []string  `json:"image_file_names,omitempty"`
	TotalRequests int       `json:"total_requests"`
	Chunks        int       `json:"chunks"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrSubmissionNotFound 没有该 job_id 的提交记录
var ErrSubmissionNotFound = errors.New("batch: submission not found")

// Registry 持久化提交记录
type Registry interface {
	SaveSubmission(ctx context.Context, sub *Submission) error
	LoadSubmission(ctx context.Context, jobID string) (*Submission, error)
	DeleteSubmission(ctx context.Context, jobID string) error
}
