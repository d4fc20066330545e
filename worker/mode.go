package worker

import (
	"context"
	"slices"
	"strings"

	"github.com/BaSui01/imageflow/types"
)

// Mode 选择一次调用由哪个处理器执行
type Mode string

const (
	// ModeAutomatic 一个提示词作用于全部图片，同步生成
	ModeAutomatic Mode = "automatic"
	// ModeSemiAutomatic 每张图片多个提示词，按 images_per_prompt 生成
	ModeSemiAutomatic Mode = "semi-automatic"
	// ModeAutomaticBatch 打包并提交批处理任务，立即返回句柄
	ModeAutomaticBatch Mode = "automatic_batch"
	// ModeFetchResults 收集批处理结果
	ModeFetchResults Mode = "fetch_results"
	// ModeCleanupGroup 删除任务相关的存储对象与远端资源
	ModeCleanupGroup Mode = "cleanup_group"
	// ModePromptOnly 纯文本生图，同步生成
	ModePromptOnly Mode = "prompt_only"
	// ModeAutomaticFlat 与 automatic 相同，输出使用扁平路径
	ModeAutomaticFlat Mode = "automatic_flat"
)

type handlerFunc func(w *Worker, ctx context.Context, p *Payload) (*Response, error)

// modeHandlers 模式到处理器的查找表
var modeHandlers = map[Mode]handlerFunc{
	ModeAutomatic:      (*Worker).runAutomatic,
	ModeAutomaticFlat:  (*Worker).runAutomatic,
	ModeSemiAutomatic:  (*Worker).runSemiAutomatic,
	ModePromptOnly:     (*Worker).runPromptOnly,
	ModeAutomaticBatch: (*Worker).runBatchSubmit,
	ModeFetchResults:   (*Worker).runFetchResults,
	ModeCleanupGroup:   (*Worker).runCleanup,
}

// ParseMode 解析模式字符串，大小写与首尾空白不敏感
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", types.NewInvalidInputError("missing mode")
	}
	m := Mode(s)
	if _, ok := modeHandlers[m]; !ok {
		return "", types.NewInvalidInputError("invalid mode: %s", s)
	}
	return m, nil
}

// Modes 返回全部已注册的模式，按名称排序
func Modes() []Mode {
	modes := make([]Mode, 0, len(modeHandlers))
	for m := range modeHandlers {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}

// Sync 报告模式是否在本次调用内完成生成
func (m Mode) Sync() bool {
	switch m {
	case ModeAutomatic, ModeAutomaticFlat, ModeSemiAutomatic, ModePromptOnly:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }
