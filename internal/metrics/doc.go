// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的图执行指标采集能力，覆盖
运行、节点、LLM、结果缓存与数据库五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer（nil 时为默认
Registerer），所有指标按 namespace 隔离。Collector 同时满足
workflow.MetricsRecorder、cache.Recorder 与 database.StatsFunc 的签名，
CLI 将其直接挂到执行器、结果缓存与连接池上。

# 主要能力

  - 运行指标：按 graph/state 计数的运行总数与运行耗时。
  - 节点指标：按 status 与缓存命中分组的节点结果、耗时、调用次数与重试次数。
  - LLM 指标：InstrumentProvider 包装 llm.Provider，记录请求数、耗时与 Token 用量。
  - 缓存指标：hit/miss/put/corruption/error 事件计数。
  - 数据库指标：打开/空闲连接数 Gauge。
*/
package metrics
