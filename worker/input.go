package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/imagesource"
	"github.com/BaSui01/imageflow/llm/prompt"
	"github.com/BaSui01/imageflow/types"
)

// =============================================================================
// 📥 调用载荷
// =============================================================================

// Payload 是一次调用的 JSON 输入。也接受 {"input": {...}} 包装形式。
type Payload struct {
	Mode         string                      `json:"mode"`
	JobID        string                      `json:"job_id,omitempty"`
	Folder       string                      `json:"folder,omitempty"`
	Prompt       string                      `json:"prompt,omitempty"`
	Prompts      Prompts                     `json:"prompts,omitzero"`
	ImageURLs    []string                    `json:"image_urls,omitempty"`
	Images       []imagesource.InlinePayload `json:"images,omitempty"`
	Model        string                      `json:"model,omitempty"`
	GeminiAPIKey string                      `json:"gemini_api_key,omitempty"`
	GCSConfig    *objectstore.Config         `json:"gcs_config,omitempty"`
	Config       GenerationConfig            `json:"config"`

	// 批处理相关
	BatchJobNames   []string `json:"batch_job_names,omitempty"`
	SourceFileNames []string `json:"source_file_names,omitempty"`
	FileNames       []string `json:"file_names,omitempty"`
	JobIDs          []string `json:"job_ids,omitempty"`
	PurgeAll        bool     `json:"purge_all,omitempty"`
	FlatOutput      bool     `json:"flat_output,omitempty"`
	// PromptOnly 批处理不发送图片
	PromptOnly bool `json:"prompt_only,omitempty"`
}

// GenerationConfig 是载荷中的 config 字段
type GenerationConfig struct {
	NumVariations int      `json:"num_variations,omitempty"`
	AspectRatio   string   `json:"aspect_ratio,omitempty"`
	AspectRatios  []string `json:"aspect_ratios,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	// ImagesPerPrompt 键为 "{image_index}_{prompt_index}"，缺省为 1
	ImagesPerPrompt map[string]int `json:"images_per_prompt,omitempty"`
	Model           string         `json:"model,omitempty"`
}

// Variations 返回变体数，最少 1
func (c GenerationConfig) Variations() int {
	return max(c.NumVariations, 1)
}

// Ratios 返回去重后的宽高比列表，aspect_ratios 优先
func (c GenerationConfig) Ratios() []string {
	src := c.AspectRatios
	if len(src) == 0 && strings.TrimSpace(c.AspectRatio) != "" {
		src = []string{c.AspectRatio}
	}
	out := make([]string, 0, len(src))
	for _, r := range src {
		r = strings.TrimSpace(r)
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// Count 返回 (image, prompt) 组合的生成次数
func (c GenerationConfig) Count(imageIndex, promptIndex int) int {
	n, ok := c.ImagesPerPrompt[fmt.Sprintf("%d_%d", imageIndex, promptIndex)]
	if !ok {
		return 1
	}
	return max(n, 0)
}

// Prompts 接受字符串、字符串数组，或以图片序号为键的对象
type Prompts struct {
	List     []string
	PerImage map[string][]string
}

// UnmarshalJSON 实现 json.Unmarshaler
func (p *Prompts) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*p = Prompts{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		p.PerImage = make(map[string][]string, len(raw))
		for k, v := range raw {
			list, err := promptList(v)
			if err != nil {
				return fmt.Errorf("prompts[%s]: %w", k, err)
			}
			p.PerImage[strings.TrimSpace(k)] = list
		}
		return nil
	default:
		list, err := promptList(b)
		if err != nil {
			return err
		}
		p.List = list
		return nil
	}
}

// MarshalJSON 实现 json.Marshaler
func (p Prompts) MarshalJSON() ([]byte, error) {
	if p.PerImage != nil {
		return json.Marshal(p.PerImage)
	}
	if p.List == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.List)
}

// IsZero 报告是否没有任何提示词，供 omitempty 使用
func (p Prompts) IsZero() bool {
	return len(p.List) == 0 && len(p.PerImage) == 0
}

// For 返回某张图片使用的提示词
func (p Prompts) For(imageIndex int) []string {
	if p.PerImage != nil {
		return p.PerImage[fmt.Sprint(imageIndex)]
	}
	return p.List
}

// promptList 解析字符串或数组，非字符串元素取其 JSON 文本
func promptList(b json.RawMessage) ([]string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			var s string
			if err := json.Unmarshal(it, &s); err != nil {
				s = string(bytes.TrimSpace(it))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("prompts must be a string, an array or an object")
	}
}

// ParsePayload 解码调用载荷
func ParsePayload(raw []byte) (*Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, types.NewInvalidInputError("payload is empty")
	}

	var envelope struct {
		Input json.RawMessage `json:"input"`
		Mode  string          `json:"mode"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, types.NewInvalidInputError("payload is not a JSON object").WithCause(err)
	}
	if envelope.Mode == "" && len(envelope.Input) > 0 && !bytes.Equal(envelope.Input, []byte("null")) {
		raw = envelope.Input
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewInvalidInputError("invalid payload").WithCause(err)
	}
	return &p, nil
}

// =============================================================================
// 🧾 各模式的类型化输入
// =============================================================================

// generateInput 是同步模式的输入
type generateInput struct {
	mode        Mode
	jobID       string
	model       string
	apiKey      string
	prompts     Prompts
	variations  int
	aspectRatio string
	resolution  string
	config      GenerationConfig
}

// singlePrompt 取 prompt，缺省时回退到 prompts 的第一个
func singlePrompt(p *Payload) string {
	if s := strings.TrimSpace(p.Prompt); s != "" {
		return s
	}
	if len(p.Prompts.List) > 0 {
		return strings.TrimSpace(p.Prompts.List[0])
	}
	return ""
}

// allPrompts 合并 prompt 与 prompts 列表并展开模板
func allPrompts(p *Payload) []string {
	var templates []string
	if s := strings.TrimSpace(p.Prompt); s != "" {
		templates = append(templates, s)
	}
	templates = append(templates, p.Prompts.List...)

	var out []string
	for _, s := range prompt.ExpandAll(templates) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func checkPromptLength(s string, minLen int) error {
	if len([]rune(s)) < minLen {
		return types.NewInvalidInputError("prompt too short (minimum %d characters). Got: '%s'", minLen, s)
	}
	return nil
}

func (w *Worker) model(p *Payload) string {
	for _, m := range []string{p.Model, p.Config.Model} {
		if m = strings.TrimSpace(m); m != "" {
			return m
		}
	}
	return w.cfg.Model
}

func (w *Worker) newGenerateInput(mode Mode, p *Payload) (*generateInput, error) {
	in := &generateInput{
		mode:        mode,
		jobID:       strings.TrimSpace(p.JobID),
		model:       w.model(p),
		apiKey:      p.GeminiAPIKey,
		variations:  p.Config.Variations(),
		aspectRatio: p.Config.AspectRatio,
		resolution:  p.Config.Resolution,
		config:      p.Config,
	}

	switch mode {
	case ModeAutomatic, ModeAutomaticFlat:
		s := singlePrompt(p)
		if s == "" {
			return nil, types.NewInvalidInputError("missing or empty 'prompt'/'prompts' in input for %s mode", mode)
		}
		if err := checkPromptLength(s, w.cfg.MinPromptLength); err != nil {
			return nil, err
		}
		in.prompts = Prompts{List: []string{s}}
	case ModeSemiAutomatic:
		if p.Prompts.IsZero() {
			return nil, types.NewInvalidInputError("missing or empty 'prompts' in input for semi-automatic mode")
		}
		in.prompts = p.Prompts
	case ModePromptOnly:
		list := allPrompts(p)
		if len(list) == 0 {
			return nil, types.NewInvalidInputError("missing or empty 'prompt'/'prompts' in input for prompt_only mode")
		}
		in.prompts = Prompts{List: list}
	}
	return in, nil
}

// promptsFor 返回某张图片展开后的提示词，顺序决定 images_per_prompt 的 prompt 序号
func (in *generateInput) promptsFor(imageIndex int) []string {
	return prompt.ExpandAll(in.prompts.For(imageIndex))
}

// batchInput 是 automatic_batch 的输入
type batchInput struct {
	jobID       string
	model       string
	apiKey      string
	prompts     []string
	ratios      []string
	variations  int
	resolution  string
	promptOnly  bool
	sourceFiles []string
}

func (w *Worker) newBatchInput(p *Payload) (*batchInput, error) {
	in := &batchInput{
		jobID:       strings.TrimSpace(p.JobID),
		model:       w.model(p),
		apiKey:      p.GeminiAPIKey,
		ratios:      p.Config.Ratios(),
		variations:  p.Config.Variations(),
		resolution:  p.Config.Resolution,
		promptOnly:  p.PromptOnly,
		sourceFiles: trimmed(p.SourceFileNames),
	}
	if len(in.sourceFiles) > 0 {
		return in, nil
	}

	in.prompts = allPrompts(p)
	if len(in.prompts) == 0 {
		return nil, types.NewInvalidInputError("missing or empty 'prompt'/'prompts' in input for automatic_batch mode")
	}
	for _, s := range in.prompts {
		if err := checkPromptLength(s, w.cfg.MinPromptLength); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// fetchInput 是 fetch_results 的输入
type fetchInput struct {
	jobID    string
	apiKey   string
	jobNames []string
	flat     bool
}

func newFetchInput(p *Payload) *fetchInput {
	return &fetchInput{
		jobID:    strings.TrimSpace(p.JobID),
		apiKey:   p.GeminiAPIKey,
		jobNames: trimmed(p.BatchJobNames),
		flat:     p.FlatOutput,
	}
}

// cleanupInput 是 cleanup_group 的输入
type cleanupInput struct {
	apiKey    string
	jobIDs    []string
	fileNames []string
	jobNames  []string
	purgeAll  bool
}

func newCleanupInput(p *Payload) (*cleanupInput, error) {
	in := &cleanupInput{
		apiKey:    p.GeminiAPIKey,
		jobIDs:    trimmed(append(slices.Clone(p.JobIDs), p.JobID)),
		fileNames: trimmed(append(slices.Clone(p.FileNames), p.SourceFileNames...)),
		jobNames:  trimmed(p.BatchJobNames),
		purgeAll:  p.PurgeAll,
	}
	if len(in.jobIDs) == 0 && len(in.fileNames) == 0 && len(in.jobNames) == 0 && !in.purgeAll {
		return nil, types.NewInvalidInputError("cleanup_group needs job_ids, file_names, batch_job_names or purge_all")
	}
	return in, nil
}

func trimmed(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
