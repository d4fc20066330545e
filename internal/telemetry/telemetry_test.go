package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/imageflow/config"
)

// restoreGlobals 测试结束后还原全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_DisabledKeepsNoop(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledRegistersSDKProviders(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "imageflow-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	// 没有 collector，关闭时的导出错误可以忽略
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	_, isTP := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, isMP := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isTP)
	assert.True(t, isMP)
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewResource_DefaultsServiceName(t *testing.T) {
	res, err := newResource(context.Background(), "")
	require.NoError(t, err)

	v, ok := res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "imageflow", v.AsString())

	v, ok = res.Set().Value("service.version")
	require.True(t, ok)
	assert.Equal(t, "dev", v.AsString(), "test binaries have no module version")
}

func TestSpans(t *testing.T) {
	restoreGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, span := StartSpan(context.Background(), "worker.automatic_batch", AttrJobID.String("job1"))
	EndSpan(span, errors.New("upload failed"))

	_, second := StartSpan(context.Background(), "worker.fetch_results")
	EndSpan(second, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "worker.automatic_batch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("imageflow.job_id", "job1"))
	require.Len(t, spans[0].Events(), 1, "error recorded as event")
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRunRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	rec := NewRunRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	ctx := context.Background()

	rec.Record(ctx, "automatic", "completed", 4, 1500*time.Millisecond)
	rec.Record(ctx, "automatic", "failed", 0, 200*time.Millisecond)
	rec.Record(ctx, "fetch_results", "completed", 10, time.Second)

	metrics := collect(t, reader)

	runs, ok := metrics["imageflow.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, runs.DataPoints, 3, "one series per mode/status")

	generated, ok := metrics["imageflow.images.generated"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range generated.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(14), total)
	assert.Len(t, generated.DataPoints, 2, "zero-image runs are not recorded")

	hist, ok := metrics["imageflow.run.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRunRecorder_NilSafe(t *testing.T) {
	var rec *RunRecorder
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), "automatic", "completed", 1, time.Second)
	})
}
