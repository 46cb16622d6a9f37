// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多 Agent 有向无环图的构建、校验与并发执行。

# 概述

Graph 以 Agent 为节点、以边传递上游输出。图在 Validate 成功后冻结，
可被任意多次运行共享。Executor 使用 FIFO 就绪队列在并发上限内调度节点，
失败节点按 RetryPolicy 退避重试（退避期间不占用并发槽位），
必需边上游失败或被跳过时下游节点被级联跳过，可选边则贡献缺失的 Part。

# 核心类型

  - Graph / Node / Edge：图结构，AddEdge 时检测环
  - GraphBuilder：Fluent API 构建图
  - GraphDefinition：JSON / YAML 定义，配合 Registry 构建图
  - Executor：并发执行器（缓存、singleflight、熔断、追踪、指标）
  - ExecutionState：单次运行的节点状态机
  - RunReport：运行报告，可写入 MemoryReportStore / SQLReportStore

# 取消

取消只在派发边界生效：已派发的调用继续完成或超时，未派发节点保持原状态，
报告的最终状态为 aborted。
*/
package workflow
