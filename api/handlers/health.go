package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 探针
// =============================================================================

// 健康状态取值
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// defaultProbeTimeout 单个探针的超时
const defaultProbeTimeout = 3 * time.Second

// Probe 是一次就绪检查。Critical 探针失败时 /ready 返回 503，
// 非 Critical 探针失败只把状态降为 degraded。
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Probes    map[string]ProbeResult `json:"probes,omitempty"`
}

// ProbeResult 单个探针结果
type ProbeResult struct {
	Pass     bool   `json:"pass"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
}

// HealthHandler 提供存活、就绪与版本端点
type HealthHandler struct {
	logger  *zap.Logger
	started time.Time

	mu     sync.RWMutex
	probes []Probe
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
	}
}

// AddProbe 注册探针，同名探针会被替换
func (h *HealthHandler) AddProbe(p Probe) {
	if p.Check == nil || p.Name == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.probes {
		if h.probes[i].Name == p.Name {
			h.probes[i] = p
			return
		}
	}
	h.probes = append(h.probes, p)
}

// ProbeNames 返回已注册的探针名（排序后）
func (h *HealthHandler) ProbeNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.probes))
	for _, p := range h.probes {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleLive 处理 /health 与 /healthz，只说明进程还在响应
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// HandleReady 处理 /ready 与 /readyz，并发执行全部探针
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "healthy 或 degraded"
// @Failure 503 {object} HealthStatus "关键依赖不可用"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate 执行探针并汇总状态
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]Probe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]ProbeResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = h.runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Probes:    make(map[string]ProbeResult, len(probes)),
	}
	for i, p := range probes {
		res := results[i]
		status.Probes[p.Name] = res
		switch {
		case res.Pass:
		case res.Critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthHandler) runProbe(ctx context.Context, p Probe) ProbeResult {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(pctx)
	latency := time.Since(start)

	res := ProbeResult{Pass: err == nil, Critical: p.Critical, Latency: latency.String()}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Message = "timeout after " + timeout.String()
		} else {
			res.Message = err.Error()
		}
		h.logger.Warn("probe failed",
			zap.String("probe", p.Name),
			zap.Bool("critical", p.Critical),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	return res
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"go_version": runtime.Version(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// =============================================================================
// 🔧 内置探针
// =============================================================================

// RegistryProbe 检查提交记录所用的 Redis。提交记录是尽力而为的，
// 所以它不是关键探针。
func RegistryProbe(ping func(ctx context.Context) error) Probe {
	return Probe{Name: "registry", Check: ping}
}

// errNoDefaultKey 表示服务端没有默认 Gemini Key
var errNoDefaultKey = errors.New("no default GEMINI_API_KEY; requests must carry gemini_api_key")

// GeminiKeyProbe 报告是否配置了默认 Gemini Key。请求可以自带 Key，
// 缺省时只是 degraded。
func GeminiKeyProbe(hasDefaultKey bool) Probe {
	return Probe{
		Name: "gemini_key",
		Check: func(context.Context) error {
			if !hasDefaultKey {
				return errNoDefaultKey
			}
			return nil
		},
	}
}
