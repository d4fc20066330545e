// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
包 image 提供同步（非批处理）图像生成能力。

# 概述

Generator 把一张可选的源图片与提示词交给模型的流式生成接口，
消费流直到出现第一个携带内联图片字节的片段后立即返回，不等待流结束。
流结束仍无图片视为该请求失败，由上层扇出逻辑转换为单项失败记录，
不影响同批次的其它请求。

# 核心接口

  - StreamClient：流式生成能力，由 llm/providers/gemini 适配实现。
  - Part：归一化后的响应片段，所有 SDK 形态差异都在适配层翻译为 Part。
  - Generator：校验参数并返回第一张图片。

# 参数校验

  - 提示词去除首尾空白后不能为空。
  - 分辨率限定为 1K / 2K / 4K，宽高比限定为固定集合；非法值记录警告
    并回退到默认值（1K、1:1），不作为错误。
  - 只有支持 imageConfig 的模型才会携带上述参数。
*/
package image
