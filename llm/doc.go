// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义 agentgraph 与大语言模型服务之间的边界。

# 概述

本包只包含能力接口与请求/响应模型，不包含任何具体服务商实现。
上层的 agent.ChatAgent 通过 [Provider] 发起补全请求，调用方负责注入
实际的 Provider（或测试中的 testutil/mocks.MockProvider）。

# 核心接口

  - [Provider]：Completion / Name
  - [ProviderFunc]：函数适配器

# 子包

  - retry：退避策略（fixed / exponential，抖动与上限）与通用重试器
*/
package llm
