// 版权所有 2024 PipeFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的关系型连接管理，供关系型连接器执行
抽取与写入。

# 概述

Open 按方言（postgres / mysql / sqlite）选择 GORM 驱动并打开连接，
PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理连接
生命周期。可选的后台健康检查定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - Config：方言、DSN 与连接池配置。
  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Dialect()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接最大生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Dialector 将方言映射为 postgres / mysql / 纯 Go sqlite 驱动。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 基于 backoff 做指数退避重试（死锁、序列化失败等场景）。
  - 连接指标：WithMetrics 挂载 Prometheus 收集器，健康检查时通过
    ReportStats 上报打开与空闲连接数。
*/
package database
