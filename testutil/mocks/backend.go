// MockBackend 的 Gemini 远端能力测试模拟实现。
//
// 在内存中模拟 File API、批处理任务与流式生成，支持错误注入与调用记录。
package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/llm/image"
)

// --- MockBackend 结构 ---

// MockBackend 实现 batch.FileService、batch.JobService、batch.ResultOpener
// 与 image.StreamClient
type MockBackend struct {
	mu sync.Mutex

	files   map[string][]byte
	jobs    map[string]*batch.Job
	outputs map[string][]byte
	nextID  int

	// 流式生成配置
	imageMIME  string
	imageData  []byte
	streamErr  error
	streamFunc func(ctx context.Context, req image.StreamRequest) ([]image.Part, error)

	// 错误注入
	uploadErr error
	createErr error

	// 调用记录
	streamCalls []image.StreamRequest
	uploads     []batch.UploadOptions
	fileDeletes []string
	jobDeletes  []string
	listCalls   int
}

// --- 构造函数和 Builder 方法 ---

// NewMockBackend 创建新的 MockBackend，默认每次生成返回一张 PNG
func NewMockBackend() *MockBackend {
	return &MockBackend{
		files:     make(map[string][]byte),
		jobs:      make(map[string]*batch.Job),
		outputs:   make(map[string][]byte),
		imageMIME: "image/png",
		imageData: []byte("\x89PNG\r\n\x1a\nmock"),
	}
}

// WithImage 设置生成返回的图片
func (m *MockBackend) WithImage(mime string, data []byte) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageMIME = mime
	m.imageData = data
	return m
}

// WithStreamError 设置流式生成返回的错误
func (m *MockBackend) WithStreamError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithStreamFunc 设置自定义生成函数，返回的片段作为单个流分片发出
func (m *MockBackend) WithStreamFunc(fn func(ctx context.Context, req image.StreamRequest) ([]image.Part, error)) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// WithUploadError 设置上传返回的错误
func (m *MockBackend) WithUploadError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
	return m
}

// WithCreateError 设置创建任务返回的错误
func (m *MockBackend) WithCreateError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
	return m
}

// WithFile 预置一个远端文件
func (m *MockBackend) WithFile(name string, data []byte) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
	return m
}

// FinishJob 把任务标记为成功并挂上由 lines 组成的输出文件
func (m *MockBackend) FinishJob(jobName string, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := "files/out-" + strings.TrimPrefix(jobName, "batches/")
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	m.outputs[out] = b.Bytes()
	job, ok := m.jobs[jobName]
	if !ok {
		job = &batch.Job{Name: jobName}
		m.jobs[jobName] = job
	}
	job.State = batch.JobStateSucceeded
	job.OutputFile = out
}

// SetJobState 设置任务状态，任务不存在时创建
func (m *MockBackend) SetJobState(jobName string, state batch.JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobName]
	if !ok {
		job = &batch.Job{Name: jobName}
		m.jobs[jobName] = job
	}
	job.State = state
}

// --- FileService 实现 ---

// UploadFile 实现 batch.FileService
func (m *MockBackend) UploadFile(_ context.Context, r io.Reader, opts batch.UploadOptions) (*batch.File, error) {
	m.mu.Lock()
	err := m.uploadErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	name := fmt.Sprintf("files/f%d", m.nextID)
	m.files[name] = data
	m.uploads = append(m.uploads, opts)
	return &batch.File{Name: name, URI: "https://generativelanguage.test/v1beta/" + name, MIMEType: opts.MIMEType}, nil
}

// DeleteFile 实现 batch.FileService
func (m *MockBackend) DeleteFile(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileDeletes = append(m.fileDeletes, name)
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("%w: %s", batch.ErrRemoteNotFound, name)
	}
	delete(m.files, name)
	return nil
}

// ListFiles 实现 batch.FileService
func (m *MockBackend) ListFiles(context.Context) ([]batch.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := make([]batch.File, 0, len(m.files))
	for name := range m.files {
		out = append(out, batch.File{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- JobService 实现 ---

// CreateBatch 实现 batch.JobService
func (m *MockBackend) CreateBatch(_ context.Context, _, sourceFile, displayName string) (*batch.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.files[sourceFile]; !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrRemoteNotFound, sourceFile)
	}
	m.nextID++
	job := &batch.Job{
		Name:        fmt.Sprintf("batches/b%d", m.nextID),
		DisplayName: displayName,
		SourceFile:  sourceFile,
		State:       batch.JobStatePending,
	}
	m.jobs[job.Name] = job
	cp := *job
	return &cp, nil
}

// GetBatch 实现 batch.JobService
func (m *MockBackend) GetBatch(_ context.Context, name string) (*batch.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrRemoteNotFound, name)
	}
	cp := *job
	return &cp, nil
}

// DeleteBatch 实现 batch.JobService
func (m *MockBackend) DeleteBatch(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobDeletes = append(m.jobDeletes, name)
	if _, ok := m.jobs[name]; !ok {
		return fmt.Errorf("%w: %s", batch.ErrRemoteNotFound, name)
	}
	delete(m.jobs, name)
	return nil
}

// ListBatches 实现 batch.JobService
func (m *MockBackend) ListBatches(context.Context) ([]batch.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := make([]batch.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- ResultOpener 实现 ---

// OpenResult 实现 batch.ResultOpener
func (m *MockBackend) OpenResult(_ context.Context, fileName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.outputs[fileName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrRemoteNotFound, fileName)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// --- StreamClient 实现 ---

// GenerateStream 实现 image.StreamClient
func (m *MockBackend) GenerateStream(ctx context.Context, req image.StreamRequest) iter.Seq2[[]image.Part, error] {
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, req)
	fn, streamErr := m.streamFunc, m.streamErr
	part := image.Part{MIMEType: m.imageMIME, Data: m.imageData}
	m.mu.Unlock()

	return func(yield func([]image.Part, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if fn != nil {
			parts, err := fn(ctx, req)
			if err != nil {
				yield(nil, err)
				return
			}
			yield(parts, nil)
			return
		}
		if streamErr != nil {
			yield(nil, streamErr)
			return
		}
		if !yield([]image.Part{{Text: "here is your image"}}, nil) {
			return
		}
		yield([]image.Part{part}, nil)
	}
}

// --- 调用记录 ---

// StreamCalls 返回全部生成请求
func (m *MockBackend) StreamCalls() []image.StreamRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]image.StreamRequest(nil), m.streamCalls...)
}

// Uploads 返回全部上传参数
func (m *MockBackend) Uploads() []batch.UploadOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]batch.UploadOptions(nil), m.uploads...)
}

// FileData 返回远端文件内容
func (m *MockBackend) FileData(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Job 返回任务快照
func (m *MockBackend) Job(name string) (batch.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return batch.Job{}, false
	}
	return *job, true
}

// FileDeletes 返回被请求删除的文件名
func (m *MockBackend) FileDeletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fileDeletes...)
}

// JobDeletes 返回被请求删除的任务名
func (m *MockBackend) JobDeletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.jobDeletes...)
}

// ListCalls 返回列举调用次数
func (m *MockBackend) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}
