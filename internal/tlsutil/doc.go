// Package tlsutil 提供集中式 TLS 配置，
// 为 API 客户端提供安全加固的 HTTP 传输（TLS 1.2+，仅 AEAD 密码套件），
// 并支持自定义 CA 与本地开发时跳过证书校验。
package tlsutil
