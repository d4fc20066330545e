package image

import (
	"slices"
	"strings"

	"go.uber.org/zap"
)

// 响应模态，TEXT 在前
const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

// DefaultModalities 生成请求默认携带的响应模态
var DefaultModalities = []string{ModalityText, ModalityImage}

// 默认图像参数
const (
	DefaultResolution  = "1K"
	DefaultAspectRatio = "1:1"
)

// Resolutions 支持的分辨率
var Resolutions = []string{"1K", "2K", "4K"}

// AspectRatios 支持的宽高比
var AspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

// SupportsImageConfig 判断模型是否接受 imageConfig。
func SupportsImageConfig(model string) bool {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	return strings.HasPrefix(model, "gemini-3-pro-image")
}

// NormalizeResolution 校验分辨率，非法或为空时回退到默认值。
// 第二个返回值表示是否发生了回退（空值不算）。
func NormalizeResolution(resolution string) (string, bool) {
	r := strings.ToUpper(strings.TrimSpace(resolution))
	if r == "" {
		return DefaultResolution, false
	}
	if slices.Contains(Resolutions, r) {
		return r, false
	}
	return DefaultResolution, true
}

// NormalizeAspectRatio 校验宽高比，非法或为空时回退到默认值。
func NormalizeAspectRatio(ratio string) (string, bool) {
	r := strings.TrimSpace(ratio)
	if r == "" {
		return DefaultAspectRatio, false
	}
	if slices.Contains(AspectRatios, r) {
		return r, false
	}
	return DefaultAspectRatio, true
}

// ResolveImageConfig 为模型构造 imageConfig；模型不支持时返回 nil。
// 非法参数记录 warn 日志并回退到默认值，不作为错误返回。
func ResolveImageConfig(model, aspectRatio, resolution string, logger *zap.Logger) *ImageConfig {
	if !SupportsImageConfig(model) {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ratio, ratioFallback := NormalizeAspectRatio(aspectRatio)
	if ratioFallback {
		logger.Warn("unsupported aspect ratio, using default",
			zap.String("aspect_ratio", aspectRatio),
			zap.String("default", ratio),
		)
	}
	size, sizeFallback := NormalizeResolution(resolution)
	if sizeFallback {
		logger.Warn("unsupported resolution, using default",
			zap.String("resolution", resolution),
			zap.String("default", size),
		)
	}
	return &ImageConfig{AspectRatio: ratio, ImageSize: size}
}
