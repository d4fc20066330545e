// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 ImageFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext 自动注册 Cleanup 防止泄漏
  - 数据工具: MustJSON / InlineImage，
    以及构造批处理结果行的 ResultLine / TextLine / ErrorLine

# 子包

  - testutil/mocks: MockBackend 在内存中模拟 File API、批处理任务与
    流式生成，支持 Builder 模式与错误注入；MockRegistry 是内存版提交记录

# 使用示例

	backend := mocks.NewMockBackend().WithImage("image/png", testutil.PNG)
	w := worker.New(cfg, worker.Dependencies{Backends: ...}, nil)
	resp := w.Run(testutil.TestContext(t), payload)
*/
package testutil
