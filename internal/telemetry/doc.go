// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 通过 OTLP/gRPC 导出 trace 与指标。遥测关闭时全局 provider 保持 noop。
//
// Worker 为每次模式调用创建一个 span（StartSpan/EndSpan），
// 并通过 RunRecorder 记录调用次数、耗时与生成图片数。
package telemetry
