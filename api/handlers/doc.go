// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ImageFlow HTTP API 的请求处理器实现。

# 概述

handlers 包把 HTTP 请求转交给 worker 调度器，并提供健康检查与统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - RunHandler：POST /v1/run，载荷与 CLI invoke 相同，响应体即 worker.Response，
    HTTP 状态码由 error_code 决定
  - HealthHandler：存活（/health, /healthz）、就绪（/ready, /readyz）与 /version
  - Response：非调用接口的统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码
  - Probe：就绪探针，Critical 失败返回 503，其余失败只标记 degraded；
    内置 RegistryProbe（Redis）与 GeminiKeyProbe（默认 Key 是否配置）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：ValidateContentType、ReadBody（配合 MaxBytesReader 返回 413）
  - ErrorCode → HTTP 状态码映射复用 types.HTTPStatusFor
*/
package handlers
