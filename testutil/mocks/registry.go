package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/imageflow/llm/batch"
)

// MockRegistry 是内存版 batch.Registry
type MockRegistry struct {
	mu      sync.Mutex
	subs    map[string]*batch.Submission
	saveErr error
	loadErr error
	saves   int
}

// NewMockRegistry 创建空的 MockRegistry
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{subs: make(map[string]*batch.Submission)}
}

// WithSaveError 设置保存返回的错误
func (r *MockRegistry) WithSaveError(err error) *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
	return r
}

// WithLoadError 设置读取返回的错误
func (r *MockRegistry) WithLoadError(err error) *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErr = err
	return r
}

// SaveSubmission 实现 batch.Registry
func (r *MockRegistry) SaveSubmission(_ context.Context, sub *batch.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *sub
	r.subs[sub.JobID] = &cp
	return nil
}

// LoadSubmission 实现 batch.Registry
func (r *MockRegistry) LoadSubmission(_ context.Context, jobID string) (*batch.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	sub, ok := r.subs[jobID]
	if !ok {
		return nil, batch.ErrSubmissionNotFound
	}
	cp := *sub
	return &cp, nil
}

// DeleteSubmission 实现 batch.Registry
func (r *MockRegistry) DeleteSubmission(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, jobID)
	return nil
}

// Submission 返回已保存的记录
func (r *MockRegistry) Submission(jobID string) (*batch.Submission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[jobID]
	return sub, ok
}

// Saves 返回保存调用次数
func (r *MockRegistry) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
