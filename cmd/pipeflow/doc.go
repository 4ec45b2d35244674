// Copyright (c) PipeFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 PipeFlow 算子执行器的程序入口。

# 概述

cmd/pipeflow 是调度器在批处理容器中启动的可执行文件：每次进程只运行
一个算子。spec 以 JSON 给出（文件、命令行或标准输入），执行状态写入
spec 指定的存储路径，进程退出码仅在致命失败时非零。

# 子命令

  - execute: 运行单个算子；--integration 把配置中的数据库注册为该集成
  - health : 用 SDK 客户端列出集成，验证服务端地址与 API Key
  - dag    : 校验 JSON 或 YAML 形式的 DAG，输出 YAML 或执行顺序
  - version: 打印版本、SDK 版本与构建信息

# 用户代码

Go 无法在运行时加载用户源码。本程序只注册内置函数（如边界检查）；
运行自定义函数的二进制需要在自己的 main 中调用 executor.Register 后
复用 executor.Runtime。

# 可观测性

日志使用 zap，默认写 stderr（stdout 由执行器捕获给用户）。启用
telemetry 后通过 OTLP 导出链路；启用 metrics 且配置 push_gateway 时，
进程退出前向 Prometheus Pushgateway 推送一次指标。
*/
package main
