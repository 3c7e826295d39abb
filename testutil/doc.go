// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package testutil 提供编排核心测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    用于事件总线等异步投递场景

# 子包

  - testutil/mocks: MockCompleter（文本补全协作方），支持固定响应、
    按调用编排、错误注入与调用计数

# 使用示例

	ctx := testutil.TestContext(t)
	completer := mocks.NewMockCompleter().WithResponse("plan")
	text, err := completer.GenerateText(ctx, "prompt", llm.GenerateOptions{})
	require.NoError(t, err)
*/
package testutil
