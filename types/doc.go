// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ImageFlow 全局共享的错误类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。所有跨包共享的错误码与
结构化错误均定义于此，worker、llm 子包与 HTTP 层据此决定重试、
转换为单项失败记录或映射为 HTTP 状态码。

# 错误分类

  - 输入校验：INVALID_INPUT / MISSING_CONFIG / NO_IMAGES，远程调用前返回，不重试
  - 远程调用：UPSTREAM_ERROR / TIMEOUT，按 Retryable 标记有限次重试
  - 单项生成：GENERATION_FAILED / NO_IMAGE_RETURNED，转换为结果记录
  - 分块失败：CHUNKING_FAILED，整个提交失败
  - 清理：NOT_FOUND 按资源吞掉；FORBIDDEN 用于危险操作守卫

# 主要能力

  - 错误工具链：AsError / WrapError / IsErrorCode / IsRetryable
  - 常用构造：NewInvalidInputError / NewMissingConfigError / NewUpstreamError
  - HTTP 映射：HTTPStatusFor
*/
package types
