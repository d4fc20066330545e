// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package objectstore 提供对象存储抽象与实现。

# 概述

Store 封装 worker 所需的存储能力：按前缀列举、读写、删除对象，以及
为对象生成 URL。GCSStore 基于 Google Cloud Storage，FileStore 基于本地
目录，供开发与测试使用。Opener 按请求携带的 gcs_config 打开 Store。

# 路径约定

  - 作业前缀：{path_prefix}/{job_id}，清理时整体删除
  - 生成文件名携带 _gemini 标记，输入目录列举时会被排除
  - 批处理请求/响应镜像：{job}/batch/requests、{job}/batch/responses

# URL 规则

  - PublicURL：CDN 优先，否则为 bucket 原生公开地址
  - URL：CDN 优先，否则签名 URL（默认 24 小时），签名失败回退到公开地址
*/
package objectstore
