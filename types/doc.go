// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentgraph 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、cache、workflow、
llm 等上层模块提供统一的错误码与消息类型，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，按错误码匹配（errors.Is），含 Retryable 标记
  - Message / Role：对话消息，供 ChatAgent 的短期记忆与 llm.Provider 使用

# 错误码分组

  - 图构建：GRAPH_CYCLE / GRAPH_UNKNOWN_NODE / GRAPH_DISCONNECTED 等
  - Agent 调用：AGENT_TIMEOUT / PROVIDER_ERROR / INVALID_RESPONSE
  - 缓存：CACHE_ERROR / CACHE_CORRUPTION
  - 执行器：RUN_ABORTED / INVALID_INPUT
*/
package types
