// Copyright (c) PipeFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 PipeFlow 框架的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 workflow、serialization、
executor、sdk 等上层模块提供统一的类型契约。所有跨包共享的枚举、值类型和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - ArtifactType / SerializationType: 产物语义类型与序列化格式标签
  - OperatorType / CheckSeverity    : 算子种类与检查级别
  - ExecutionState                  : 算子运行状态（状态、失败类型、用户日志、错误、时间戳）
  - Table / Field                   : 列有序的表格值（行式 JSON 表格式的内存表示）
  - Tuple / JSON / KerasModel       : 其余带标签的产物值
  - Error / ErrorCode               : 结构化错误体系，携带 Tip / Context

# 主要能力

  - 状态流转：NewExecutionState → MarkRunning → MarkSucceeded / MarkFailed / MarkCanceled
  - 时间戳不变量校验：ExecutionState.Validate
  - 错误工具链：AsError / GetErrorCode / IsErrorCode
  - Context 传播：WithTraceID / WithFlowID / WithRunID / WithOperatorID
*/
package types
