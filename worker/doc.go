// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 worker 是调用入口的模式调度器：解码 JSON 载荷，按 mode 查表分派到处理器，
并把任何错误或 panic 转换为 status 为 failed 的响应。

# 模式

  - automatic / automatic_flat：一个提示词作用于每张图片，每张生成
    num_variations 个变体；flat 变体输出扁平文件名
  - semi-automatic：每张图片使用自己的提示词列表，生成次数由
    images_per_prompt 的 "{image}_{prompt}" 键决定，缺省为 1
  - prompt_only：纯文本生图，提示词支持 {a,b} 模板展开
  - automatic_batch：打包为 JSONL 请求文件并提交批处理任务，立即返回句柄
  - fetch_results：按任务名或提交记录收集结果
  - cleanup_group：删除 job 前缀下的存储对象与显式给出的远端句柄

# 并发

同步模式先并发读取全部图片，再以 errgroup 按 worker.max_concurrency
限制并发生成。单项失败成为带 error 的记录，不中断其它项；返回前按原始
序号排序。

# 输出

载荷携带 gcs_config 或配置了默认存储时，生成的图片上传到
{path_prefix}/{job_id}/processed/... 并返回 URL；否则以 base64 内联返回。
*/
package worker
