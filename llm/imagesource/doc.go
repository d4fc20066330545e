// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 imagesource 把各种形态的输入图片归一化为有序的 (index, mime, bytes) 列表。

# 概述

支持四种来源：

  - 本地目录或 CSV 路径清单（仅 jpg / jpeg / png）
  - Bucket 目录列举（排除目录占位符与带 _gemini 标记的生成文件，
    按 CDN 或公开地址延迟到 HTTP 层下载）
  - 公开 URL 列表
  - 调用方内联的 base64 载荷（按调用方给出的 index 重新排序）

任何来源解析出零张图片都返回 ErrNoImages，避免下游笛卡尔积退化为零个请求。

# 核心类型

  - Loader：Resolve 只解析描述符，Fetch 下载单张，Load 解析并并发下载全部。
  - Downloader：带有限次线性退避重试的 HTTP GET，最终错误携带 URL 与最后一次状态。
*/
package imagesource
