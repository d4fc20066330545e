// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的批处理提交记录存储。

# 概述

批量提交后只返回任务句柄，收集与清理是之后的独立调用。
Registry 以 job_id 为键保存一次提交产生的任务名、请求文件与图片文件，
cleanup_group 只给出 job_id 时据此删除远端资源，不扫描整个账号。

# 核心类型

  - Manager：封装 go-redis 客户端，负责连接、键前缀、JSON 读写与关闭。
    Ping 供 /ready 的 registry 探针使用。
  - Registry：实现 batch.Registry，记录带过期时间，未命中映射为
    batch.ErrSubmissionNotFound。
  - Config：地址、密码、键前缀、默认 TTL 与连接池。

# 错误语义

  - ErrCacheMiss：键不存在。
  - ErrClosed：管理器已关闭。
*/
package cache
