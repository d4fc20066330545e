// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ImageFlow 可执行程序入口。

# 概述

cmd/imageflow 是 ImageFlow 的可执行入口，提供 HTTP 调用服务、一次性 CLI
调用、批处理结果文件检查、健康检查和版本查询等子命令。程序支持 YAML
配置文件加载、结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server：主服务器，管理调用入口与指标双端口及优雅关闭
  - app：按配置装配 Worker，包括 Gemini 客户端池、对象存储、Redis 提交记录
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、invoke（-payload 文件或 stdin）、inspect、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、RateLimiter（基于 IP）、MaxBody
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - inspect：流式读取结果文件，逐行输出 OK/ERR 与 key，可选保存图片
  - 优雅关闭：信号监听 → 排空并关闭 HTTP → 关闭 Metrics → 关闭 Redis → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
