// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理结果缓存使用的 Redis 连接。

# 概述

Manager 负责连接生命周期：初始化时 Ping 探活，后台定时健康检查，
Close 时停止检查并释放连接池。结果缓存的读写、编码与校验由公开的
cache 包完成，本包只通过 Backend() 提供共享同一连接池的 RedisBackend。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Backend/Ping/Purge/GetStats/Close。
  - Config：地址、密码、数据库编号、条目 TTL、连接池与健康检查间隔。
  - Stats：从 INFO 与 DBSIZE 解析出的命中、未命中、键数量、内存与连接数。

# 主要能力

  - 按前缀清理：Purge 通过 SCAN 分批删除缓存命名空间下的键。
  - 健康检查：异常时通过 zap 日志告警。
*/
package cache
