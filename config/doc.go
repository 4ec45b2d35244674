// Package config 提供 PipeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → PIPEFLOW_ 前缀环境变量 的顺序合并，
// 再由 validate 标签与自定义验证器校验。覆盖 API 连接、SDK 行为、
// 产物存储、关系型数据库、结果缓存、日志、遥测与指标。
package config
