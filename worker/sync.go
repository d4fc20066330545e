package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/image"
	"github.com/BaSui01/imageflow/llm/imagesource"
	"github.com/BaSui01/imageflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖼️ 同步生成模式
// =============================================================================

// syncRun 是一次同步调用共享的状态
type syncRun struct {
	w     *Worker
	in    *generateInput
	gen   *image.Generator
	store objectstore.Store
	base  string
}

// task 生成一条记录，错误写入记录本身
type task func(ctx context.Context) Record

func (w *Worker) newSyncRun(ctx context.Context, p *Payload) (*syncRun, func(), error) {
	in, err := w.newGenerateInput(Mode(p.Mode), p)
	if err != nil {
		return nil, nil, err
	}
	if in.jobID == "" {
		in.jobID = uuid.NewString()
	}
	client, err := w.backend(ctx, in.apiKey)
	if err != nil {
		return nil, nil, err
	}
	store, err := w.openStore(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	r := &syncRun{
		w:     w,
		in:    in,
		gen:   image.NewGenerator(client, image.GeneratorConfig{Model: in.model, Timeout: w.cfg.GenerateTimeout}, w.logger),
		store: store,
	}
	if store != nil {
		r.base = objectstore.JobPrefix(store.PathPrefix(), in.jobID)
	}
	return r, func() { w.closeStore(store) }, nil
}

// runAutomatic 同一提示词作用于每张图片，每张生成 num_variations 个变体
func (w *Worker) runAutomatic(ctx context.Context, p *Payload) (*Response, error) {
	r, done, err := w.newSyncRun(ctx, p)
	if err != nil {
		return nil, err
	}
	defer done()

	images, records, err := r.loadImages(ctx, p, func(idx int) Record {
		return Record{OriginalIndex: intp(idx)}
	})
	if err != nil {
		return nil, err
	}

	prompt := r.in.prompts.List[0]
	flat := r.in.mode == ModeAutomaticFlat
	var tasks []task
	for _, img := range images {
		for v := range r.in.variations {
			base := Record{
				OriginalIndex: intp(img.Index),
				Variation:     intp(v),
				Prompt:        prompt,
				AspectRatio:   r.in.aspectRatio,
			}
			tasks = append(tasks, func(ctx context.Context) Record {
				return r.generate(ctx, base, &img, prompt, func(ext string) string {
					if flat {
						return objectstore.Join(r.base, flatName(img, v, ext))
					}
					return objectstore.Join(r.base, "processed", "automatic", strconv.Itoa(img.Index),
						objectstore.GeneratedName(fmt.Sprintf("variation_%d", v), ext))
				})
			})
		}
	}

	records = append(records, w.fanOut(ctx, tasks)...)
	return completed(r.in.mode, r.in.jobID, records), nil
}

// runSemiAutomatic 每张图片使用自己的提示词列表，按 images_per_prompt 生成
func (w *Worker) runSemiAutomatic(ctx context.Context, p *Payload) (*Response, error) {
	r, done, err := w.newSyncRun(ctx, p)
	if err != nil {
		return nil, err
	}
	defer done()

	images, records, err := r.loadImages(ctx, p, func(idx int) Record {
		return Record{ImageIndex: intp(idx)}
	})
	if err != nil {
		return nil, err
	}

	var tasks []task
	for _, img := range images {
		prompts := r.in.promptsFor(img.Index)
		if len(prompts) == 0 {
			w.logger.Warn("no prompts for image, skipped", zap.Int("image_index", img.Index))
			continue
		}
		for pi, prompt := range prompts {
			n := r.in.config.Count(img.Index, pi)
			for g := range n {
				base := Record{
					ImageIndex:      intp(img.Index),
					PromptIndex:     intp(pi),
					GenerationIndex: intp(g),
					Prompt:          prompt,
					AspectRatio:     r.in.aspectRatio,
				}
				if err := checkPromptLength(strings.TrimSpace(prompt), w.cfg.MinPromptLength); err != nil {
					records = append(records, errorRecord(base, err))
					continue
				}
				tasks = append(tasks, func(ctx context.Context) Record {
					return r.generate(ctx, base, &img, prompt, func(ext string) string {
						return objectstore.Join(r.base, "processed", "semi-auto", strconv.Itoa(img.Index),
							fmt.Sprintf("prompt_%d", pi), objectstore.GeneratedName(fmt.Sprintf("gen_%d", g), ext))
					})
				})
			}
		}
	}

	records = append(records, w.fanOut(ctx, tasks)...)
	return completed(r.in.mode, r.in.jobID, records), nil
}

// runPromptOnly 纯文本生图，每个展开后的提示词生成 num_variations 张
func (w *Worker) runPromptOnly(ctx context.Context, p *Payload) (*Response, error) {
	r, done, err := w.newSyncRun(ctx, p)
	if err != nil {
		return nil, err
	}
	defer done()

	var (
		records []Record
		tasks   []task
	)
	for pi, prompt := range r.in.prompts.List {
		for v := range r.in.variations {
			base := Record{
				PromptIndex: intp(pi),
				Variation:   intp(v),
				Prompt:      prompt,
				AspectRatio: r.in.aspectRatio,
			}
			if err := checkPromptLength(strings.TrimSpace(prompt), w.cfg.MinPromptLength); err != nil {
				records = append(records, errorRecord(base, err))
				continue
			}
			tasks = append(tasks, func(ctx context.Context) Record {
				return r.generate(ctx, base, nil, prompt, func(ext string) string {
					return objectstore.Join(r.base, "processed", "prompt-only", strconv.Itoa(pi),
						objectstore.GeneratedName(fmt.Sprintf("variation_%d", v), ext))
				})
			})
		}
	}

	records = append(records, w.fanOut(ctx, tasks)...)
	return completed(r.in.mode, r.in.jobID, records), nil
}

// =============================================================================
// 🔧 扇出与输出
// =============================================================================

// fanOut 以 MaxConcurrency 为上限并发执行，单项失败不影响其它项
func (w *Worker) fanOut(ctx context.Context, tasks []task) []Record {
	records := make([]Record, len(tasks))
	var g errgroup.Group
	g.SetLimit(w.cfg.MaxConcurrency)
	for i, t := range tasks {
		g.Go(func() error {
			records[i] = t(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// loadImages 解析来源并并发读取。来源本身无效时返回错误；
// 单张读取失败转为失败记录，由 failure 决定记录使用哪个序号字段。
func (r *syncRun) loadImages(ctx context.Context, p *Payload, failure func(idx int) Record) ([]imagesource.Image, []Record, error) {
	src, err := r.w.imageSource(p, r.store)
	if err != nil {
		return nil, nil, err
	}
	descs, err := r.w.deps.Loader.Resolve(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	type fetched struct {
		img imagesource.Image
		err error
	}
	out := make([]fetched, len(descs))
	var g errgroup.Group
	g.SetLimit(r.w.cfg.MaxConcurrency)
	for i, d := range descs {
		g.Go(func() error {
			img, err := r.w.deps.Loader.Fetch(ctx, d)
			out[i] = fetched{img: img, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		images  []imagesource.Image
		records []Record
	)
	for i, f := range out {
		if f.err != nil {
			r.w.logger.Warn("failed to load image",
				zap.Int("index", descs[i].Index),
				zap.String("name", descs[i].Name),
				zap.Error(f.err),
			)
			records = append(records, errorRecord(failure(descs[i].Index), f.err))
			continue
		}
		images = append(images, f.img)
	}
	return images, records, nil
}

// generate 执行一次生成并交付结果
func (r *syncRun) generate(ctx context.Context, base Record, src *imagesource.Image, prompt string, name func(ext string) string) Record {
	req := image.GenerateRequest{
		Model:       r.in.model,
		Prompt:      prompt,
		AspectRatio: r.in.aspectRatio,
		Resolution:  r.in.resolution,
	}
	if src != nil {
		req.Image = &image.InputImage{MIMEType: src.MIMEType, Data: src.Data}
	}

	start := time.Now()
	img, err := r.gen.Generate(ctx, req)
	r.w.metrics.RecordGeneration(r.in.model, err == nil, time.Since(start))
	if err != nil {
		return errorRecord(base, err)
	}
	return r.deliver(ctx, base, img, name)
}

// deliver 上传到存储并返回 URL；未配置存储时内联 base64
func (r *syncRun) deliver(ctx context.Context, rec Record, img *image.Image, name func(ext string) string) Record {
	rec.MIMEType = img.MIMEType
	rec.Size = len(img.Data)
	if r.store == nil {
		rec.Image = base64.StdEncoding.EncodeToString(img.Data)
		return rec
	}

	key := name(objectstore.ExtensionForMIME(img.MIMEType))
	if err := objectstore.PutBytes(ctx, r.store, key, img.Data, img.MIMEType); err != nil {
		return errorRecord(rec, types.NewUpstreamError("failed to upload generated image", 0, err))
	}
	rec.Path = key
	rec.URL = r.store.URL(ctx, key)
	return rec
}

// flatName 扁平输出名 {stem}_gemini_v{v}.{ext}
func flatName(img imagesource.Image, v int, ext string) string {
	stem := objectstore.SanitizeSegment(strings.TrimSuffix(img.Name, path.Ext(img.Name)))
	if stem == "" {
		stem = fmt.Sprintf("image_%d", img.Index)
	}
	return fmt.Sprintf("%s%s_v%d.%s", stem, objectstore.GeneratedMarker, v, ext)
}
