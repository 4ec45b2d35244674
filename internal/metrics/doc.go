// 版权所有 2024 PipeFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
算子运行、API 调用、结果缓存与数据库连接四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
将指标注册到调用方给定的 Registerer（默认为全局 Registry）。所有指标按
namespace 隔离。nil Collector 的记录方法均为空操作，调用方无需判空。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 算子运行指标：运行总数（按 kind/status/failure_type）、运行耗时、
    写入存储的产物字节数（按 serialization_type）。
  - API 指标：请求总数、请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge，按 database 分组。
*/
package metrics
