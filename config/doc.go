// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

// Package config 提供 ImageFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（IMAGEFLOW_ 前缀）的顺序合并，
// 覆盖服务入口、日志、Gemini、批处理分块、下载重试、结果收集、
// 对象存储、清理守卫、Redis 提交记录与可观测性等配置段。
package config
