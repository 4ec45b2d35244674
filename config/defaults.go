// =============================================================================
// 📦 PipeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BaSui01/pipeflow/internal/cache"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/storage"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		API:       DefaultAPIConfig(),
		SDK:       DefaultSDKConfig(),
		Storage:   DefaultStorageConfig(),
		Database:  DefaultDatabaseConfig(),
		Cache:     cache.DefaultConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultAPIConfig 返回默认 API 配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Address:          "http://localhost:8080",
		Timeout:          60 * time.Second,
		MaxRetries:       3,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// DefaultSDKConfig 返回默认 SDK 配置
func DefaultSDKConfig() SDKConfig {
	return SDKConfig{
		Lazy:             false,
		FetchConcurrency: 4,
	}
}

// DefaultStorageConfig 返回默认存储配置（本地文件）
func DefaultStorageConfig() storage.Config {
	return storage.Config{
		Type: storage.TypeFile,
		File: storage.FileConfig{Directory: filepath.Join(os.TempDir(), "pipeflow", "storage")},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() database.Config {
	return database.Config{
		Dialect: database.DialectSQLite,
		Pool:    database.DefaultPoolConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置。执行器会捕获用户代码的 stdout，
// 日志默认写 stderr。
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "pipeflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "pipeflow",
	}
}
