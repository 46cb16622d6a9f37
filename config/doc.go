// Package config 提供 AgentGraph 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTGRAPH）的顺序叠加，
// 覆盖执行器并发、重试与熔断、结果缓存后端、报告存储、
// 数据库、日志、遥测与 Prometheus 指标。
package config
