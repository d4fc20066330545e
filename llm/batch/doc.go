// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 batch 实现图像生成的异步批处理流水线：打包、提交、收集与清理。

# 概述

一次批量提交要覆盖 图片 x 提示词 x 宽高比 x 变体 的请求空间。
本包把这些请求序列化为 JSONL 行，按字节与行数预算切分为多个请求文件，
每个文件对应一个远端批处理任务。提交后立即返回任务句柄，不轮询；
之后由另一次调用按句柄收集结果。远端不保留结构化的请求元数据，
每行携带的 key 是还原结果归属的唯一通道。

# 请求键

	r{ratio_slug}_p{prompt}_img{image}_var{variation}

ratio_slug 把宽高比中的 ':' 替换为 'x'，空宽高比合法。
Key.String 与 ParseKey 对不含 'x' 与 '_' 的宽高比可无损往返。

# 核心组件

  - Packer：有状态的分块器，Add 在放不下下一行时返回已完成的 Chunk，
    Finish 返回最后一个缓冲。单行超过字节预算是 CHUNKING_FAILED 错误。
  - Pack / Plan / Pairing：轮转配对（slot 数取图片数与提示词数的较大值，
    较短一方取模回绕），按 slot、宽高比、变体的顺序展开请求。
  - Submitter：暂存文件、旁路镜像、上传、按速率创建任务；出错时返回已
    创建的句柄。UploadImages 以信号量限制并发上传源图片。
  - Collector：按任务查询输出文件，流式逐行解析，读取中断时重开并跳过
    已消费的行；坏行计数后跳过，错误行记录为 LineError；有存储时上传到
    确定性路径并按 URL 去重。
  - Cleaner：删除 job 前缀下的对象与显式给出的远端句柄；PurgeAll 需要
    显式开启。

# 外部依赖

远端能力通过 FileService、JobService、ResultOpener 三个窄接口注入，
由 llm/providers/gemini 适配实现；旁路镜像通过 Mirror 注入，默认 NopMirror；
提交记录通过 Registry 持久化，由 internal/cache 基于 Redis 实现。
*/
package batch
