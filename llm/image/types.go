// 包 image 提供同步图像生成能力.
package image

import (
	"context"
	"iter"
)

// Part 是模型响应中的一个已归一化的内容片段。
// 适配层负责把各种 SDK 响应形态翻译成 Part，上层只看这一种表示。
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
	Thought  bool
}

// IsImage 判断片段是否携带内联图片字节。
func (p Part) IsImage() bool {
	return len(p.Data) > 0
}

// InputImage 是发送给模型的源图片。
type InputImage struct {
	MIMEType string
	Data     []byte
}

// ImageConfig 是支持图像参数的模型所接受的配置。
type ImageConfig struct {
	AspectRatio string
	ImageSize   string
}

// StreamRequest 是一次流式生成调用的全部输入。
type StreamRequest struct {
	Model       string
	Image       *InputImage
	Prompt      string
	Modalities  []string
	ImageConfig *ImageConfig
}

// StreamClient 定义了流式生成能力。
// 每个元素是一个流分片中的全部 Part；消费方可随时停止迭代。
type StreamClient interface {
	GenerateStream(ctx context.Context, req StreamRequest) iter.Seq2[[]Part, error]
}

// GenerateRequest 是一次同步生成请求。
type GenerateRequest struct {
	// Model 覆盖默认模型
	Model string
	// Image 为空时是纯文本生图
	Image       *InputImage
	Prompt      string
	AspectRatio string
	Resolution  string
}

// Image 是生成结果。
type Image struct {
	MIMEType string
	Data     []byte
	// Text 是在图片之前收到的文本片段
	Text string
}
