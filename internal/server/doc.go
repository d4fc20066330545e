// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
imageflow serve 用它同时托管调用入口（POST /v1/run）与指标端口，
两者以 Config.Name 在日志中区分。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 排空与中止：Shutdown 在 ShutdownTimeout 内排空在途请求；超时后
    取消请求的 base context，让仍在调用 Gemini 的请求尽快返回，
    再强制关闭连接。重复调用无副作用。
  - 在途计数：InFlight 返回正在处理的请求数，关闭日志会带上它。
  - 信号监听：WaitForShutdown 在 SIGINT/SIGTERM、ctx 结束或服务异常
    退出时触发关闭。
  - 地址查询：Addr 在启动后返回实际监听地址，便于使用 :0 端口。
*/
package server
