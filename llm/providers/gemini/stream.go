package gemini

import (
	"context"
	"iter"

	"github.com/BaSui01/imageflow/llm/image"
	"google.golang.org/genai"
)

// GenerateStream 实现 image.StreamClient。
// 内容顺序固定为 源图片、提示词；每个流分片只翻译一次。
func (c *Client) GenerateStream(ctx context.Context, req image.StreamRequest) iter.Seq2[[]image.Part, error] {
	var parts []*genai.Part
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{ResponseModalities: req.Modalities}
	if req.ImageConfig != nil {
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: req.ImageConfig.AspectRatio,
			ImageSize:   req.ImageConfig.ImageSize,
		}
	}

	return func(yield func([]image.Part, error) bool) {
		for resp, err := range c.sdk.Models.GenerateContentStream(ctx, ModelName(req.Model), contents, cfg) {
			if err != nil {
				yield(nil, mapError("generate", err))
				return
			}
			if !yield(translateParts(resp), nil) {
				return
			}
		}
	}
}

// translateParts 是 SDK 响应到 image.Part 的唯一翻译点
func translateParts(resp *genai.GenerateContentResponse) []image.Part {
	if resp == nil {
		return nil
	}
	var out []image.Part
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			part := image.Part{Text: p.Text, Thought: p.Thought}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				part.MIMEType = p.InlineData.MIMEType
				part.Data = p.InlineData.Data
			}
			if part.Text == "" && !part.IsImage() {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}
