// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 为出站 HTTP 客户端（Gemini REST 与 SDK、输入图片下载）
// 提供安全加固的传输层：TLS 1.2+，仅 AEAD 密码套件，按主机复用连接。
package tlsutil
