// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 gemini 是 Google Gemini 的适配层，基于官方 google.golang.org/genai SDK，
把 File API、Batch API 与流式生成翻译为 llm/batch 与 llm/image 中定义的接口。
上层包只看到 batch.Job、batch.File 与 image.Part，不接触 SDK 类型。

# 核心结构体

  - Client：持有 *genai.Client、下载用 http.Client 与 API Key
  - Config：API Key、BaseURL、超时与可注入的 http.Client

# 实现的接口

  - batch.FileService：UploadFile / DeleteFile / ListFiles
  - batch.JobService：CreateBatch / GetBatch / DeleteBatch / ListBatches
  - batch.ResultOpener：OpenResult，以 REST 流式下载结果文件，
    不把整个文件读入内存
  - image.StreamClient：GenerateStream

# 错误映射

  - HTTP 404 映射为 batch.ErrRemoteNotFound
  - 其余 API 错误映射为 types.ErrUpstreamError，408/429/5xx 可重试

# 响应片段

SDK 响应中的 Part 只在 translateParts 一处翻译为 image.Part，
thought 片段保留标记，由上层决定是否忽略。
*/
package gemini
