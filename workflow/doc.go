// Copyright (c) PipeFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供 PipeFlow 的 DAG 数据模型与增量变更。

# 概述

workflow 描述一个数据工作流：算子（Operator）消费与产出产物（Artifact），
二者共同构成有向无环图（DAG）。SDK 在客户端通过 Delta 逐步修改 DAG，
服务端与执行器按 JSON 形式读取同一份 DAG。本包不调度也不运行算子，
执行由 executor 包负责。

# 核心类型

  - DAG             : 算子与产物集合，附带元数据与引擎配置
  - Operator        : 算子：名称、规格、输入产物与输出产物
  - OperatorSpec    : 算子规格，恰好设置一种（Extract、Function、Param 等）
  - Artifact        : 产物：名称、语义类型、是否显式命名
  - Delta           : DAG 变更：AddOperator、RemoveOperator、
    AddOrReplaceOperator、Subgraph、UpdateParameters
  - NewOperator     : 以新 ID 创建算子及其输出产物
  - Schedule        : 周期触发（cron 表达式）与保留策略

# 主要能力

  - ApplyDeltas：按顺序应用变更，任一失败时 DAG 保持不变
  - 同名算子替换：匿名冲突直接替换，并级联删除下游
  - 拓扑排序、上游查询、产物生产者与消费者查询
  - Validate：生产者唯一、名称唯一、输入存在、无环
  - JSON / YAML 序列化与文件读写
*/
package workflow
