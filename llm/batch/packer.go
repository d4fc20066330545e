package batch

import (
	"bytes"
	"fmt"

	"github.com/BaSui01/imageflow/llm/image"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// 分块预算默认值
const (
	DefaultByteBudget = 100 << 20
	DefaultLineBudget = 5000
)

// ErrLineTooLarge 单行请求自身就超过字节预算，无法分块
var ErrLineTooLarge = types.NewError(types.ErrChunking, "request line exceeds chunk byte budget")

// Chunk 是一个请求文件的内容
type Chunk struct {
	Index int
	Lines [][]byte
	Keys  []string
	// Size 是所有行长度加换行符之和
	Size int
}

// Bytes 返回 JSONL 文件内容，每行以换行符结尾
func (c *Chunk) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(c.Size)
	for _, l := range c.Lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Len 返回行数
func (c *Chunk) Len() int { return len(c.Lines) }

// Packer 按字节预算与行数预算把请求行累积为 Chunk。
// 单生产者顺序调用，无需加锁。
type Packer struct {
	byteBudget int
	lineBudget int
	cur        *Chunk
	next       int
}

// NewPacker 创建 Packer，非正预算使用默认值
func NewPacker(byteBudget, lineBudget int) *Packer {
	if byteBudget <= 0 {
		byteBudget = DefaultByteBudget
	}
	if lineBudget <= 0 {
		lineBudget = DefaultLineBudget
	}
	return &Packer{byteBudget: byteBudget, lineBudget: lineBudget}
}

// Add 追加一行。追加前若当前缓冲放不下这一行（字节或行数），
// 先把缓冲作为完成的 Chunk 返回，再以这一行开启新缓冲。
func (p *Packer) Add(key string, line []byte) (*Chunk, error) {
	size := len(line) + 1
	if size > p.byteBudget {
		return nil, fmt.Errorf("%w: key %s is %d bytes, budget %d", ErrLineTooLarge, key, size, p.byteBudget)
	}

	var done *Chunk
	if p.cur != nil && (p.cur.Size+size > p.byteBudget || len(p.cur.Lines) >= p.lineBudget) {
		done = p.flush()
	}
	if p.cur == nil {
		p.cur = &Chunk{Index: p.next}
		p.next++
	}
	p.cur.Lines = append(p.cur.Lines, line)
	p.cur.Keys = append(p.cur.Keys, key)
	p.cur.Size += size
	return done, nil
}

// Finish 返回最后一个非空缓冲，没有时返回 nil
func (p *Packer) Finish() *Chunk {
	if p.cur == nil || len(p.cur.Lines) == 0 {
		return nil
	}
	return p.flush()
}

func (p *Packer) flush() *Chunk {
	c := p.cur
	p.cur = nil
	return c
}

// PackOptions 打包参数
type PackOptions struct {
	// AspectRatios 为空时按一个空宽高比处理
	AspectRatios []string
	// Variations 每个组合的变体数，最少 1
	Variations int
	Resolution string
	Model      string
	ByteBudget int
	LineBudget int
	// PromptOnly 纯文本生图：不发送图片，image_index 固定为 0
	PromptOnly bool
	Logger     *zap.Logger
}

// Slot 是一个 (图片, 提示词) 配对
type Slot struct {
	Index       int
	ImageIndex  int
	PromptIndex int
}

// Pairing 计算轮转配对：slot 数为两者较大值，较短的一方取模回绕。
// 这不是 images x prompts 的全交叉。
func Pairing(numImages, numPrompts int, promptOnly bool) []Slot {
	if numPrompts <= 0 || (!promptOnly && numImages <= 0) {
		return nil
	}
	total := numPrompts
	if !promptOnly {
		total = max(numImages, numPrompts)
	}
	slots := make([]Slot, total)
	for s := range total {
		slots[s] = Slot{Index: s, PromptIndex: s % numPrompts}
		if !promptOnly {
			slots[s].ImageIndex = s % numImages
		}
	}
	return slots
}

// Plan 展开全部请求（slot -> ratio -> variation），不序列化
func Plan(images []ImageRef, prompts []string, opts PackOptions) ([]Request, error) {
	if len(prompts) == 0 {
		return nil, types.NewInvalidInputError("at least one prompt is required")
	}
	if !opts.PromptOnly && len(images) == 0 {
		return nil, types.NewError(types.ErrNoImages, "no images found")
	}
	ratios := opts.AspectRatios
	if len(ratios) == 0 {
		ratios = []string{""}
	}
	for _, r := range ratios {
		if !ValidRatio(r) {
			return nil, types.NewInvalidInputError("aspect ratio %q cannot be encoded in a request key", r)
		}
	}
	variations := max(opts.Variations, 1)

	slots := Pairing(len(images), len(prompts), opts.PromptOnly)
	reqs := make([]Request, 0, len(slots)*len(ratios)*variations)
	for _, s := range slots {
		var img *ImageRef
		imageIndex := 0
		if !opts.PromptOnly {
			img = &images[s.ImageIndex]
			imageIndex = img.Index
		}
		for _, ratio := range ratios {
			for v := range variations {
				reqs = append(reqs, Request{
					Slot:        s.Index,
					Image:       img,
					Prompt:      prompts[s.PromptIndex],
					AspectRatio: ratio,
					Resolution:  opts.Resolution,
					Key: Key{
						AspectRatio: ratio,
						PromptIndex: s.PromptIndex,
						ImageIndex:  imageIndex,
						Variation:   v,
					},
				})
			}
		}
	}
	return reqs, nil
}

// Pack 展开并序列化全部请求，按预算切分为 Chunk。
// 任意一行超出字节预算时整体失败，不返回任何 Chunk。
func Pack(images []ImageRef, prompts []string, opts PackOptions) ([]Chunk, error) {
	reqs, err := Plan(images, prompts, opts)
	if err != nil {
		return nil, err
	}

	// 每个宽高比只解析一次 imageConfig，避免逐行重复告警
	imageCfgs := make(map[string]*image.ImageConfig)
	for _, r := range reqs {
		if _, ok := imageCfgs[r.AspectRatio]; !ok {
			imageCfgs[r.AspectRatio] = image.ResolveImageConfig(opts.Model, r.AspectRatio, opts.Resolution, opts.Logger)
		}
	}

	packer := NewPacker(opts.ByteBudget, opts.LineBudget)
	var chunks []Chunk
	for _, r := range reqs {
		line, err := EncodeRequest(r, imageCfgs[r.AspectRatio])
		if err != nil {
			return nil, types.WrapError(err, types.ErrChunking, "encode request")
		}
		key := r.Key.String()
		done, err := packer.Add(key, line)
		if err != nil {
			return nil, types.Errorf(types.ErrChunking,
				"request for slot %d image %d (key %s) does not fit in one chunk", r.Slot, r.Key.ImageIndex, key,
			).WithCause(err)
		}
		if done != nil {
			chunks = append(chunks, *done)
		}
	}
	if last := packer.Finish(); last != nil {
		chunks = append(chunks, *last)
	}
	return chunks, nil
}
