package image

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

var (
	// ErrEmptyPrompt 提示词为空
	ErrEmptyPrompt = types.NewError(types.ErrInvalidInput, "prompt cannot be empty")
	// ErrNoImage 流结束仍未收到图片
	ErrNoImage = types.NewError(types.ErrNoImageReturned,
		"model finished stream but returned no image data; it may have answered with text only")
)

// GeneratorConfig 同步生成配置
type GeneratorConfig struct {
	// Model 默认模型
	Model string
	// Timeout 单次生成超时
	Timeout time.Duration
}

// Generator 调用流式生成接口并返回第一张图片。
type Generator struct {
	client StreamClient
	cfg    GeneratorConfig
	logger *zap.Logger
}

// NewGenerator 创建同步生成器
func NewGenerator(client StreamClient, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &Generator{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "image_generator")),
	}
}

// Generate 执行一次生成。
// 找到第一个图片片段后立即返回，不等待流结束；流结束仍无图片返回 ErrNoImage。
// 错误不在内部重试，由调用方的扇出层转换为单项失败记录。
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	model := req.Model
	if model == "" {
		model = g.cfg.Model
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	stream := g.client.GenerateStream(ctx, StreamRequest{
		Model:       model,
		Image:       req.Image,
		Prompt:      prompt,
		Modalities:  DefaultModalities,
		ImageConfig: ResolveImageConfig(model, req.AspectRatio, req.Resolution, g.logger),
	})

	var text strings.Builder
	for parts, err := range stream {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, types.NewError(types.ErrTimeout, "image generation timed out").WithCause(err)
			}
			return nil, types.WrapError(err, types.ErrGenerationFailed, "image generation failed")
		}
		for _, part := range parts {
			if part.IsImage() {
				g.logger.Debug("image generated",
					zap.String("model", model),
					zap.Int("bytes", len(part.Data)),
				)
				mime := part.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &Image{MIMEType: mime, Data: part.Data, Text: text.String()}, nil
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	if text.Len() > 0 {
		g.logger.Warn("stream ended with text only",
			zap.String("model", model),
			zap.String("text", truncate(text.String(), 200)),
		)
	}
	return nil, ErrNoImage
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
