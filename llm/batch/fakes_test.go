package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/imageflow/llm/retry"
)

// fakeRemote 在内存中模拟 File API 与批处理任务
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string][]byte
	jobs    map[string]*Job
	outputs map[string][]byte
	uploads []UploadOptions
	created []string

	nextID int

	uploadErr  func(opts UploadOptions) error
	createErr  func(n int) error
	getErr     error
	openErr    error
	breakAfter int // >0 时结果流在该字节数处中断一次

	inflight    atomic.Int32
	maxInflight atomic.Int32
	opens       atomic.Int32
	fileDeletes atomic.Int32
	jobDeletes  atomic.Int32
	listCalls   atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:   make(map[string][]byte),
		jobs:    make(map[string]*Job),
		outputs: make(map[string][]byte),
	}
}

func (f *fakeRemote) UploadFile(_ context.Context, r io.Reader, opts UploadOptions) (*File, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	if f.uploadErr != nil {
		if err := f.uploadErr(opts); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	name := fmt.Sprintf("files/f%d", f.nextID)
	f.files[name] = data
	f.uploads = append(f.uploads, opts)
	return &File{Name: name, URI: "https://generativelanguage.test/v1beta/" + name, MIMEType: opts.MIMEType}, nil
}

func (f *fakeRemote) DeleteFile(_ context.Context, name string) error {
	f.fileDeletes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
	}
	delete(f.files, name)
	return nil
}

func (f *fakeRemote) ListFiles(context.Context) ([]File, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]File, 0, len(f.files))
	for name := range f.files {
		out = append(out, File{Name: name})
	}
	return out, nil
}

func (f *fakeRemote) CreateBatch(_ context.Context, model, sourceFile, displayName string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(len(f.created)); err != nil {
			return nil, err
		}
	}
	if _, ok := f.files[sourceFile]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, sourceFile)
	}
	f.nextID++
	job := &Job{
		Name:        fmt.Sprintf("batches/b%d", f.nextID),
		DisplayName: displayName,
		SourceFile:  sourceFile,
		State:       JobStatePending,
	}
	f.jobs[job.Name] = job
	f.created = append(f.created, displayName)
	return job, nil
}

func (f *fakeRemote) GetBatch(_ context.Context, name string) (*Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeRemote) DeleteBatch(_ context.Context, name string) error {
	f.jobDeletes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
	}
	delete(f.jobs, name)
	return nil
}

func (f *fakeRemote) ListBatches(context.Context) ([]Job, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeRemote) OpenResult(_ context.Context, fileName string) (io.ReadCloser, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	data, ok := f.outputs[fileName]
	breakAt := f.breakAfter
	f.breakAfter = 0
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, fileName)
	}
	if breakAt > 0 && breakAt < len(data) {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:breakAt]), errReader{})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// finish 把任务标记为成功并挂上输出文件
func (f *fakeRemote) finish(jobName string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := "files/out-" + jobName[len("batches/"):]
	f.outputs[out] = []byte(joinLines(lines))
	if f.jobs[jobName] == nil {
		f.jobs[jobName] = &Job{Name: jobName}
	}
	f.jobs[jobName].State = JobStateSucceeded
	f.jobs[jobName].OutputFile = out
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func bytesOf(s string) io.Reader { return strings.NewReader(s) }

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func fastRetry() *retry.RetryPolicy {
	return retry.LinearPolicy(3, time.Millisecond)
}

// recordingMirror 记录镜像调用，可配置为失败
type recordingMirror struct {
	mu        sync.Mutex
	requests  map[int][]byte
	responses map[string]*bytes.Buffer
	fail      bool
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{requests: make(map[int][]byte), responses: make(map[string]*bytes.Buffer)}
}

func (m *recordingMirror) MirrorRequests(_ context.Context, _ string, chunk int, r io.Reader) error {
	if m.fail {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.requests[chunk] = data
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) MirrorResponses(_ context.Context, _ string, batchName string) (io.WriteCloser, error) {
	if m.fail {
		return nil, errors.New("bucket unavailable")
	}
	buf := &bytes.Buffer{}
	m.mu.Lock()
	m.responses[batchName] = buf
	m.mu.Unlock()
	return nopCloser{buf}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// memRegistry 是内存版提交记录
type memRegistry struct {
	mu   sync.Mutex
	subs map[string]*Submission
}

func newMemRegistry() *memRegistry { return &memRegistry{subs: make(map[string]*Submission)} }

func (r *memRegistry) SaveSubmission(_ context.Context, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.JobID] = sub
	return nil
}

func (r *memRegistry) LoadSubmission(_ context.Context, jobID string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[jobID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

func (r *memRegistry) DeleteSubmission(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, jobID)
	return nil
}
