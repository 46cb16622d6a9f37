// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package cache 提供内容寻址、压缩存储的 Agent 调用结果缓存。

# 缓存键

Key 对节点 ID、Agent ID、Agent 指纹与规范化输入字节做 SHA-256，
字段之间以 NUL 分隔。相同输入总是得到相同的键。

# 条目格式

每个条目是一个信封：魔数、版本、创建时间、原始长度、xxhash64 校验和，
后接 zstd 压缩数据。解码时任何不一致都报告为 CACHE_CORRUPTION，
ResultCache 将其记录日志、计数并按未命中处理。

# 后端

  - MemoryBackend：进程内 LRU，按条目数、字节数与存活时间淘汰
  - FileBackend：每键一个文件，临时文件 + rename 原子写入，支持 Prune
  - RedisBackend：go-redis，可选 TTL
  - SQLBackend：gorm（sqlite / postgres / mysql），支持 Prune
*/
package cache
