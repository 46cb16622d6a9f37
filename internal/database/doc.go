// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开结果缓存与运行报告使用的 SQL 数据库，并管理其连接池。

# 概述

Open 根据 Config.Driver 选择 GORM dialector（sqlite、postgres、mysql），
校验连接池参数后返回 PoolManager。PoolManager 封装 GORM 与 database/sql
的连接池配置，后台健康检查定时探活，并可通过 StatsFunc 导出连接数。

# 核心类型

  - Config：驱动、DSN、gorm 日志级别与连接池配置。
  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、GetStats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
