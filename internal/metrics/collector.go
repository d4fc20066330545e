// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil 收集器的所有记录方法都是空操作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec

	// 模式调用指标
	modeRunsTotal   *prometheus.CounterVec
	modeRunDuration *prometheus.HistogramVec

	// 同步生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	// 批处理指标
	batchJobsTotal     *prometheus.CounterVec
	batchRequestsTotal *prometheus.CounterVec
	batchChunkBytes    *prometheus.HistogramVec

	// 收集与清理指标
	collectedLinesTotal *prometheus.CounterVec
	collectedBytesTotal prometheus.Counter
	cleanupTotal        *prometheus.CounterVec

	// 提交记录指标
	registryLookups *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 模式调用指标
	c.modeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_runs_total",
			Help:      "Total number of worker invocations by mode",
		},
		[]string{"mode", "status"},
	)

	c.modeRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mode_run_duration_seconds",
			Help:      "Worker invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"mode"},
	)

	// 同步生成指标
	c.generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_generations_total",
			Help:      "Total number of synchronous image generations",
		},
		[]string{"model", "status"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_generation_duration_seconds",
			Help:      "Synchronous image generation duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180},
		},
		[]string{"model"},
	)

	// 批处理指标
	c.batchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_created_total",
			Help:      "Total number of remote batch jobs created",
		},
		[]string{"model"},
	)

	c.batchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_requests_submitted_total",
			Help:      "Total number of request lines submitted in batch jobs",
		},
		[]string{"model"},
	)

	c.batchChunkBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_chunk_size_bytes",
			Help:      "Size of submitted request files in bytes",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
		},
		[]string{"model"},
	)

	// 收集与清理指标
	c.collectedLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collected_lines_total",
			Help:      "Total number of response lines by outcome",
		},
		[]string{"outcome"}, // outcome: image, error, malformed
	)

	c.collectedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collected_image_bytes_total",
			Help:      "Total bytes of collected images",
		},
	)

	c.cleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deletions_total",
			Help:      "Total number of cleanup deletions by resource kind",
		},
		[]string{"kind", "status"}, // kind: object, file, job
	)

	// 提交记录指标
	c.registryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lookups_total",
			Help:      "Total number of submission registry lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
}

// =============================================================================
// 🖼️ 模式与生成指标记录
// =============================================================================

// RecordModeRun 记录一次模式调用
func (c *Collector) RecordModeRun(mode string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.modeRunsTotal.WithLabelValues(mode, outcome(success)).Inc()
	c.modeRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordGeneration 记录一次同步生成
func (c *Collector) RecordGeneration(model string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(model, outcome(success)).Inc()
	c.generationDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// =============================================================================
// 📦 批处理指标记录
// =============================================================================

// RecordBatchChunk 记录一个已提交的请求文件
func (c *Collector) RecordBatchChunk(model string, lines, bytes int) {
	if c == nil {
		return
	}
	c.batchJobsTotal.WithLabelValues(model).Inc()
	c.batchRequestsTotal.WithLabelValues(model).Add(float64(lines))
	c.batchChunkBytes.WithLabelValues(model).Observe(float64(bytes))
}

// RecordCollected 记录一次收集的结果
func (c *Collector) RecordCollected(images, errors, malformed int, bytes int64) {
	if c == nil {
		return
	}
	c.collectedLinesTotal.WithLabelValues("image").Add(float64(images))
	c.collectedLinesTotal.WithLabelValues("error").Add(float64(errors))
	c.collectedLinesTotal.WithLabelValues("malformed").Add(float64(malformed))
	c.collectedBytesTotal.Add(float64(bytes))
}

// RecordCleanup 记录某类资源的删除结果
func (c *Collector) RecordCleanup(kind string, deleted, failed int) {
	if c == nil {
		return
	}
	c.cleanupTotal.WithLabelValues(kind, "deleted").Add(float64(deleted))
	c.cleanupTotal.WithLabelValues(kind, "failed").Add(float64(failed))
}

// RecordRegistryLookup 记录提交记录查询，result 为 hit、miss 或 error
func (c *Collector) RecordRegistryLookup(result string) {
	if c == nil {
		return
	}
	c.registryLookups.WithLabelValues(result).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
