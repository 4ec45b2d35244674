// 版权所有 2024 PipeFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的产物结果缓存，SDK 在拉取已发布工作流的
运行结果时先查缓存，未命中再请求服务端。

# 概述

本包封装 go-redis 客户端，为上层提供统一的字节与 JSON 读写接口。
Manager 负责连接生命周期管理，包括初始化、可选健康检查与优雅关闭。
所有键带统一前缀，写入时使用默认或调用方指定的过期时间。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/GetJSON/SetJSON/Delete/Ping/Close。
  - Config：Redis 地址、密码、库编号、键前缀、默认 TTL、重试与连接池配置。

# 主要能力

  - 命中统计：通过 WithMetrics 绑定 Prometheus 收集器记录命中与未命中。
  - 结果键：ArtifactResultKey 按运行 ID 与产物 ID 生成不可变结果的缓存键。
*/
package cache
