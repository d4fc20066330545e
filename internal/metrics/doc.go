// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP 入口、模式调用、
同步生成、批处理提交、结果收集、清理与提交记录查询。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
nil *Collector 的记录方法都是空操作，组件可以不接指标直接运行。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 模式指标：按 mode 与 success/failure 统计调用次数与耗时。
  - 生成指标：按模型统计同步生成次数与耗时。
  - 批处理指标：创建的任务数、提交的请求行数、请求文件大小分布。
  - 收集指标：按 image/error/malformed 统计响应行，累计图片字节数。
  - 清理指标：按 object/file/job 统计删除成功与失败数。
*/
package metrics
