package objectstore

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Mirror copies raw batch request and response files next to a job's
// outputs for later inspection. Writes are best effort: callers log and
// carry on when a mirror call fails.
type Mirror struct {
	store  Store
	logger *zap.Logger
}

// NewMirror creates a mirror writing into store.
func NewMirror(store Store, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: store, logger: logger.With(zap.String("component", "batch_mirror"))}
}

// RequestPath is where chunk n of jobID is mirrored.
func (m *Mirror) RequestPath(jobID string, chunk int) string {
	return Join(JobPrefix(m.store.PathPrefix(), jobID), "batch", "requests", fmt.Sprintf("chunk_%03d.jsonl", chunk))
}

// ResponsePath is where the output of batchName is mirrored.
func (m *Mirror) ResponsePath(jobID, batchName string) string {
	return Join(JobPrefix(m.store.PathPrefix(), jobID), "batch", "responses", SanitizeSegment(batchName)+".jsonl")
}

// MirrorRequests stores one request chunk.
func (m *Mirror) MirrorRequests(ctx context.Context, jobID string, chunk int, r io.Reader) error {
	return m.store.Put(ctx, m.RequestPath(jobID, chunk), r, "application/jsonl")
}

// MirrorResponses returns a writer that streams one response file into
// the store. Close must be called to commit the object.
func (m *Mirror) MirrorResponses(ctx context.Context, jobID, batchName string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	name := m.ResponsePath(jobID, batchName)
	done := make(chan error, 1)

	go func() {
		err := m.store.Put(ctx, name, pr, "application/jsonl")
		// 上传失败时让写端尽快收到错误
		_ = pr.CloseWithError(err)
		done <- err
	}()

	return &pipeMirror{pw: pw, done: done, name: name, logger: m.logger}, nil
}

type pipeMirror struct {
	pw     *io.PipeWriter
	done   chan error
	name   string
	logger *zap.Logger
}

func (p *pipeMirror) Write(b []byte) (int, error) {
	return p.pw.Write(b)
}

func (p *pipeMirror) Close() error {
	_ = p.pw.Close()
	err := <-p.done
	if err != nil {
		return fmt.Errorf("objectstore: mirror %q: %w", p.name, err)
	}
	p.logger.Debug("response file mirrored", zap.String("object", p.name))
	return nil
}
