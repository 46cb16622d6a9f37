// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package agent 定义图节点包装的 Agent 能力接口与内置实现。

# 核心接口

  - Agent：ID / Name / Invoke(ctx, *Input)
  - Fingerprinter：可选，将 Agent 配置纳入结果缓存键

# 输入模型

Input 携带本次运行的初始任务（Task）、合并后的输入文本（Text）、
每条入边一个 Part（按声明顺序，可选边的上游失败时 Missing 为 true），
以及节点声明读取的共享状态（Shared）与共享存储本身（State）。

# 错误分类

Agent 失败归为三类 types.Error：AGENT_TIMEOUT、PROVIDER_ERROR、
INVALID_RESPONSE。Classify 将任意错误映射到其中之一，执行器据此重试。

# 内置实现

  - ChatAgent：基于 llm.Provider 的对话 Agent，按任务保存有界短期记忆，
    支持多轮循环与停止词、可选规划提示、Provider 级重试与自动保存
  - FuncAgent：函数适配器
  - TemplateAgent：text/template 渲染，不调用模型
  - RateLimited：基于 golang.org/x/time/rate 的调用限流包装
*/
package agent
