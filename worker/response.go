package worker

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/types"
)

// Status 调用结果状态
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusBatchSubmitted Status = "batch_submitted"
)

// Record 是一项生成结果或单项失败
type Record struct {
	OriginalIndex   *int   `json:"original_index,omitempty"`
	ImageIndex      *int   `json:"image_index,omitempty"`
	PromptIndex     *int   `json:"prompt_index,omitempty"`
	Variation       *int   `json:"variation,omitempty"`
	GenerationIndex *int   `json:"generation_index,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Key             string `json:"key,omitempty"`
	BatchJobName    string `json:"batch_job_name,omitempty"`

	// 输出：配置了存储时为 URL 与路径，否则为 base64 图片
	URL      string `json:"gcs_url,omitempty"`
	Path     string `json:"path,omitempty"`
	Image    string `json:"image,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int    `json:"size,omitempty"`

	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
}

// OK 报告记录是否成功
func (r Record) OK() bool { return r.Error == "" }

// Response 是一次调用的 JSON 输出
type Response struct {
	Status         Status   `json:"status"`
	Mode           Mode     `json:"mode,omitempty"`
	JobID          string   `json:"job_id,omitempty"`
	Results        []Record `json:"results"`
	Total          int      `json:"total"`
	TotalGenerated int      `json:"total_generated"`

	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`

	// automatic_batch
	BatchJobNames   []string `json:"batch_job_names,omitempty"`
	SourceFileNames []string `json:"source_file_names,omitempty"`
	ImageFileNames  []string `json:"image_file_names,omitempty"`
	TotalRequests   int      `json:"total_requests,omitempty"`
	Chunks          int      `json:"chunks,omitempty"`
	Message         string   `json:"message,omitempty"`

	// fetch_results
	TotalBytes        int64             `json:"total_bytes,omitempty"`
	ResponseFileNames []string          `json:"response_file_names,omitempty"`
	Jobs              []batch.JobStatus `json:"jobs,omitempty"`
	LineErrors        []batch.LineError `json:"line_errors,omitempty"`
	MalformedLines    int               `json:"malformed_lines,omitempty"`
	PendingJobs       []string          `json:"pending_jobs,omitempty"`

	// cleanup_group
	Cleanup *batch.CleanupReport `json:"cleanup,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// HTTPStatus 返回响应对应的 HTTP 状态码
func (r *Response) HTTPStatus() int {
	if r.Status != StatusFailed {
		return http.StatusOK
	}
	return types.HTTPStatusFor(r.ErrorCode)
}

// completed 统计成功数并按序号排序
func completed(mode Mode, jobID string, records []Record) *Response {
	if records == nil {
		records = []Record{}
	}
	sortRecords(records)
	resp := &Response{
		Status:  StatusCompleted,
		Mode:    mode,
		JobID:   jobID,
		Results: records,
		Total:   len(records),
	}
	for _, r := range records {
		if r.OK() {
			resp.TotalGenerated++
		}
	}
	return resp
}

// failed 将错误转换为 failed 响应
func failed(mode Mode, jobID string, err error) *Response {
	return &Response{
		Status:    StatusFailed,
		Mode:      mode,
		JobID:     jobID,
		Results:   []Record{},
		Error:     errorMessage(err),
		ErrorCode: errorCode(err),
		Retryable: types.IsRetryable(err),
	}
}

// errorCode 为任意错误确定错误码
func errorCode(err error) types.ErrorCode {
	if code := types.GetErrorCode(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, batch.ErrRemoteNotFound), errors.Is(err, batch.ErrSubmissionNotFound):
		return types.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrTimeout
	default:
		return types.ErrInternalError
	}
}

// errorMessage 去掉 *types.Error 的 [CODE] 前缀，错误码单独返回
func errorMessage(err error) string {
	e, ok := types.AsError(err)
	if !ok || e != err {
		return err.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// errorRecord 构造单项失败记录
func errorRecord(base Record, err error) Record {
	base.Error = errorMessage(err)
	base.ErrorCode = errorCode(err)
	return base
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		for _, pair := range [][2]*int{
			{a.OriginalIndex, b.OriginalIndex},
			{a.ImageIndex, b.ImageIndex},
			{a.PromptIndex, b.PromptIndex},
			{a.Variation, b.Variation},
			{a.GenerationIndex, b.GenerationIndex},
		} {
			x, y := deref(pair[0]), deref(pair[1])
			if x != y {
				return x < y
			}
		}
		return false
	})
}

// deref nil 排在最后
func deref(p *int) int {
	if p == nil {
		return math.MaxInt
	}
	return *p
}

func intp(v int) *int { return &v }
