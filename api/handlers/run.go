package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/worker"
	"go.uber.org/zap"
)

// =============================================================================
// 🖼️ 调用接口 Handler
// =============================================================================

// Runner 处理一个已解码的载荷，总是返回响应
type Runner interface {
	Handle(ctx context.Context, p *worker.Payload) *worker.Response
}

// RunHandler 把 HTTP 请求转交给调度器
type RunHandler struct {
	runner Runner
	logger *zap.Logger
}

// NewRunHandler 创建调用处理器
func NewRunHandler(runner Runner, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "run_handler")),
	}
}

// ModeInfo 描述一个可用模式
type ModeInfo struct {
	Mode string `json:"mode"`
	Sync bool   `json:"sync"`
}

// HandleRun 处理一次调用
// @Summary 执行一次调用
// @Description 载荷与 worker 输入相同，也接受 {"input": {...}} 包装；响应体即 worker 响应
// @Tags 调用
// @Accept json
// @Produce json
// @Success 200 {object} worker.Response "已完成或已提交"
// @Failure 400 {object} worker.Response "无效载荷"
// @Failure 404 {object} worker.Response "未找到提交记录"
// @Router /v1/run [post]
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	body, ok := ReadBody(w, r, h.logger)
	if !ok {
		return
	}

	p, err := worker.ParsePayload(body)
	if err != nil {
		WriteError(w, r, types.WrapError(err, types.ErrInvalidInput, "invalid payload"), h.logger)
		return
	}

	resp := h.runner.Handle(r.Context(), p)
	if resp.JobID != "" {
		w.Header().Set("X-Job-ID", resp.JobID)
	}
	WriteJSON(w, resp.HTTPStatus(), resp)
}

// HandleModes 列出可用模式
// @Summary 可用模式
// @Tags 调用
// @Produce json
// @Success 200 {object} Response "模式列表"
// @Router /v1/modes [get]
func (h *RunHandler) HandleModes(w http.ResponseWriter, r *http.Request) {
	modes := worker.Modes()
	out := make([]ModeInfo, 0, len(modes))
	for _, m := range modes {
		out = append(out, ModeInfo{Mode: string(m), Sync: m.Sync()})
	}
	WriteSuccess(w, r, out)
}
