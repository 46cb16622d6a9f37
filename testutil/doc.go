// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 agentgraph 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 存储辅助: NewTestDB（内存 SQLite，gorm）/ NewTestRedis（miniredis）
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / WaitFor

# 子包

  - testutil/mocks: MockProvider（LLM Provider，支持脚本化响应与错误注入）
    与 ScriptedAgent（按调用次数返回预设结果的 Agent）

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	a := mocks.NewScriptedAgent("writer").FailTimes(2).Returns("draft")
*/
package testutil
