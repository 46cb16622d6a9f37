// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGraph 命令行程序入口。

# 概述

cmd/agentgraph 读取 YAML/JSON 工作流定义，构建多 Agent 有向无环图并执行，
也可以校验定义、导出 Graphviz DOT 以及维护结果缓存。程序支持 YAML 配置
文件加载与 AGENTGRAPH_ 环境变量覆盖、结构化日志（zap）、Prometheus 指标
与 OpenTelemetry 遥测。

# 主要能力

  - 子命令：run、validate、dot、cache stats、cache purge、version
  - 结果缓存后端：memory、file、redis、sql，由 cache.backend 选择
  - 运行报告：memory/sql 存储，reports.output_dir 下另存 JSON
  - Metrics 服务器：运行期间在 metrics.addr 暴露 /metrics
  - 内置离线 provider "echo"：chat 节点无需外部模型服务即可运行
  - 退出码：0 全部成功，1 参数或初始化错误，2 部分节点失败/跳过，3 运行中止
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
