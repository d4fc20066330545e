package worker

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 批处理模式
// =============================================================================

// runBatchSubmit 打包、上传并创建批处理任务，不等待任务完成。
// 出错时响应仍携带已创建的句柄。
func (w *Worker) runBatchSubmit(ctx context.Context, p *Payload) (*Response, error) {
	in, err := w.newBatchInput(p)
	if err != nil {
		return nil, err
	}
	if in.jobID == "" {
		in.jobID = uuid.NewString()
	}
	client, err := w.backend(ctx, in.apiKey)
	if err != nil {
		return nil, err
	}
	store, err := w.openStore(ctx, p)
	if err != nil {
		return nil, err
	}
	defer w.closeStore(store)

	var mirror batch.Mirror
	if store != nil && w.cfg.Batch.MirrorRequests {
		mirror = objectstore.NewMirror(store, w.logger)
	}
	submitter := batch.NewSubmitter(client, client, mirror, w.cfg.Batch.Submitter, w.logger)

	if len(in.sourceFiles) > 0 {
		sub, err := submitter.SubmitFiles(ctx, in.sourceFiles, in.model, in.jobID)
		w.saveSubmission(ctx, sub)
		return submitted(in.jobID, sub), err
	}

	var refs []batch.ImageRef
	var imageFiles []string
	if !in.promptOnly {
		src, err := w.imageSource(p, store)
		if err != nil {
			return nil, err
		}
		images, err := w.deps.Loader.Load(ctx, src)
		if err != nil {
			return nil, err
		}
		refs = make([]batch.ImageRef, len(images))
		for i, img := range images {
			refs[i] = batch.ImageRef{Index: img.Index, MIMEType: img.MIMEType, Data: img.Data}
		}

		if w.cfg.Batch.ImageTransport == "file" {
			refs, err = submitter.UploadImages(ctx, refs, in.jobID)
			for _, ref := range refs {
				imageFiles = append(imageFiles, ref.FileName)
			}
			if err != nil {
				sub := &batch.Submission{JobID: in.jobID, Model: in.model, ImageFiles: imageFiles}
				w.saveSubmission(ctx, sub)
				return submitted(in.jobID, sub), err
			}
		}
	}

	chunks, err := batch.Pack(refs, in.prompts, batch.PackOptions{
		AspectRatios: in.ratios,
		Variations:   in.variations,
		Resolution:   in.resolution,
		Model:        in.model,
		ByteBudget:   w.cfg.Batch.ByteBudget,
		LineBudget:   w.cfg.Batch.LineBudget,
		PromptOnly:   in.promptOnly,
		Logger:       w.logger,
	})
	if err != nil {
		if len(imageFiles) > 0 {
			sub := &batch.Submission{JobID: in.jobID, Model: in.model, ImageFiles: imageFiles}
			w.saveSubmission(ctx, sub)
			return submitted(in.jobID, sub), err
		}
		return nil, err
	}
	w.logger.Info("requests packed",
		zap.String("job_id", in.jobID),
		zap.Int("images", len(refs)),
		zap.Int("prompts", len(in.prompts)),
		zap.Int("chunks", len(chunks)),
	)

	sub, err := submitter.Submit(ctx, chunks, in.model, in.jobID)
	if sub != nil {
		sub.ImageFiles = imageFiles
		for _, c := range chunks[:sub.Chunks] {
			w.metrics.RecordBatchChunk(in.model, c.Len(), c.Size)
		}
	}
	w.saveSubmission(ctx, sub)
	return submitted(in.jobID, sub), err
}

func submitted(jobID string, sub *batch.Submission) *Response {
	resp := &Response{
		Status:  StatusBatchSubmitted,
		Mode:    ModeAutomaticBatch,
		JobID:   jobID,
		Results: []Record{},
	}
	if sub == nil {
		return resp
	}
	resp.BatchJobNames = sub.JobNames
	resp.SourceFileNames = sub.SourceFiles
	resp.ImageFileNames = sub.ImageFiles
	resp.TotalRequests = sub.TotalRequests
	resp.Chunks = sub.Chunks
	resp.Message = fmt.Sprintf("submitted %d batch jobs; call fetch_results with batch_job_names or job_id to collect",
		len(sub.JobNames))
	return resp
}

// runFetchResults 查询任务并收集结果。未完成的任务列在 pending_jobs 中。
func (w *Worker) runFetchResults(ctx context.Context, p *Payload) (*Response, error) {
	in := newFetchInput(p)
	names := in.jobNames
	if len(names) == 0 {
		var err error
		if names, err = w.lookupJobNames(ctx, in.jobID); err != nil {
			return nil, err
		}
	}
	jobID := in.jobID
	if jobID == "" {
		// 路径必须可重复计算，不能用随机 ID
		jobID = objectstore.SanitizeSegment(names[0])
	}

	client, err := w.backend(ctx, in.apiKey)
	if err != nil {
		return nil, err
	}
	store, err := w.openStore(ctx, p)
	if err != nil {
		return nil, err
	}
	defer w.closeStore(store)

	var mirror batch.Mirror
	if store != nil && w.cfg.MirrorResponses {
		mirror = objectstore.NewMirror(store, w.logger)
	}
	cfg := w.cfg.Collect
	cfg.FlatOutput = in.flat

	coll, err := batch.NewCollector(client, client, store, mirror, cfg, w.logger).Collect(ctx, names, jobID)
	if err != nil {
		return nil, err
	}
	w.metrics.RecordCollected(len(coll.Results), len(coll.Errors), coll.Malformed, coll.TotalBytes)

	records := make([]Record, 0, len(coll.Results))
	for _, r := range coll.Results {
		rec := Record{
			ImageIndex:   r.ImageIndex,
			PromptIndex:  r.PromptIndex,
			Variation:    r.Variation,
			Key:          r.Key,
			BatchJobName: r.Job,
			URL:          r.URL,
			Path:         r.Path,
			MIMEType:     r.MIMEType,
			Size:         r.Size,
		}
		if r.AspectRatio != nil {
			rec.AspectRatio = *r.AspectRatio
		}
		if r.URL == "" && len(r.Data) > 0 {
			rec.Image = base64.StdEncoding.EncodeToString(r.Data)
		}
		records = append(records, rec)
	}

	resp := completed(ModeFetchResults, jobID, records)
	resp.BatchJobNames = names
	resp.TotalBytes = coll.TotalBytes
	resp.ResponseFileNames = coll.ResponseFiles
	resp.Jobs = coll.Jobs
	resp.LineErrors = coll.Errors
	resp.MalformedLines = coll.Malformed
	for _, j := range coll.Jobs {
		if j.Error == "" && !j.State.Terminal() {
			resp.PendingJobs = append(resp.PendingJobs, j.Name)
		}
	}
	if len(resp.PendingJobs) > 0 {
		resp.Message = fmt.Sprintf("%d of %d batch jobs still running; call fetch_results again later",
			len(resp.PendingJobs), len(names))
	}
	return resp, nil
}

// runCleanup 删除存储对象与远端文件、任务
func (w *Worker) runCleanup(ctx context.Context, p *Payload) (*Response, error) {
	in, err := newCleanupInput(p)
	if err != nil {
		return nil, err
	}
	client, err := w.backend(ctx, in.apiKey)
	if err != nil {
		return nil, err
	}
	store, err := w.openStore(ctx, p)
	if err != nil {
		return nil, err
	}
	defer w.closeStore(store)

	report, err := batch.NewCleaner(client, client, store, w.deps.Registry, w.cfg.Cleanup, w.logger).
		Cleanup(ctx, batch.CleanupRequest{
			JobIDs:    in.jobIDs,
			FileNames: in.fileNames,
			JobNames:  in.jobNames,
			PurgeAll:  in.purgeAll,
		})
	if err != nil {
		return nil, err
	}
	w.metrics.RecordCleanup("object", report.ObjectsDeleted, report.ObjectsMatched-report.ObjectsDeleted)
	w.metrics.RecordCleanup("file", report.FilesDeleted, report.FilesFailed)
	w.metrics.RecordCleanup("job", report.JobsDeleted, report.JobsFailed)

	resp := completed(ModeCleanupGroup, p.JobID, nil)
	resp.Cleanup = report
	return resp, nil
}
