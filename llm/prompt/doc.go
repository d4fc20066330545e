// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package prompt 提供提示词模板展开能力。

# 概述

模板中的 {a,b,c} 分组会展开为所有选项组合（笛卡尔积），分组之外的
文本原样保留。展开顺序固定：最后一个分组变化最快，第一个分组变化最慢，
半自动模式按 (image_index, prompt_index) 计数时依赖这一顺序。

# 使用方式

	prompts := prompt.Expand("a {red, blue} car at {dawn,dusk}")
	// ["a red car at dawn", "a red car at dusk", "a blue car at dawn", "a blue car at dusk"]
*/
package prompt
