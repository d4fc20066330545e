package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
)

// ScopeName 是 ImageFlow 创建的 span 与指标的 instrumentation scope
const ScopeName = "github.com/BaSui01/imageflow"

// metricInterval OTLP 指标推送周期
const metricInterval = 30 * time.Second

// =============================================================================
// 🛰️ SDK 初始化
// =============================================================================

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider。
// 遥测关闭时两者为 nil，全局 provider 保持 noop。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置初始化 OTLP/gRPC 导出并注册为全局 provider
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
			// 跟随上游采样决定，根 span 按比例采样
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(metricInterval))),
			sdkmetric.WithResource(res),
		),
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate))
	return p, nil
}

func newResource(ctx context.Context, service string) (*resource.Resource, error) {
	if service == "" {
		service = "imageflow"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(moduleVersion()),
		))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

// Shutdown 推送剩余数据并关闭导出器，nil 或 noop 时直接返回
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// moduleVersion 取构建信息里的模块版本，本地构建返回 dev
func moduleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}

// =============================================================================
// 🧵 Span
// =============================================================================

// span 属性键
const (
	AttrMode      = attribute.Key("imageflow.mode")
	AttrJobID     = attribute.Key("imageflow.job_id")
	AttrStatus    = attribute.Key("imageflow.status")
	AttrTotal     = attribute.Key("imageflow.total")
	AttrGenerated = attribute.Key("imageflow.total_generated")
)

// StartSpan 在全局 tracer 上开始一个 span，遥测关闭时为 noop
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ScopeName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan 记录错误（如有）并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// =============================================================================
// 📈 调用指标（OTLP 推送）
// =============================================================================

// RunRecorder 记录模式调用的 OTel 指标。
// Prometheus 端点之外，它让 OTLP 后端也能看到同一组调用数据。
type RunRecorder struct {
	runs      metric.Int64Counter
	duration  metric.Float64Histogram
	generated metric.Int64Counter
}

// NewRunRecorder 在给定 MeterProvider 上创建仪表，nil 使用全局 provider。
// 创建失败的仪表退化为 noop，记录时不会报错。
func NewRunRecorder(mp metric.MeterProvider) *RunRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(ScopeName)

	r := &RunRecorder{}
	var err error
	if r.runs, err = meter.Int64Counter("imageflow.runs",
		metric.WithDescription("Mode invocations by outcome"),
		metric.WithUnit("{run}")); err != nil {
		otel.Handle(err)
	}
	if r.duration, err = meter.Float64Histogram("imageflow.run.duration",
		metric.WithDescription("Mode invocation latency"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
	if r.generated, err = meter.Int64Counter("imageflow.images.generated",
		metric.WithDescription("Images produced by sync modes and collection"),
		metric.WithUnit("{image}")); err != nil {
		otel.Handle(err)
	}
	return r
}

// Record 记录一次调用。nil 接收者安全。
func (r *RunRecorder) Record(ctx context.Context, mode, status string, generated int, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(AttrMode.String(mode), AttrStatus.String(status))
	if r.runs != nil {
		r.runs.Add(ctx, 1, attrs)
	}
	if r.duration != nil {
		r.duration.Record(ctx, d.Seconds(), attrs)
	}
	if r.generated != nil && generated > 0 {
		r.generated.Add(ctx, int64(generated), metric.WithAttributes(AttrMode.String(mode)))
	}
}
