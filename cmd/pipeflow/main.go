// =============================================================================
// PipeFlow 主入口
// =============================================================================
// 算子执行器与运维命令
//
// 使用方法:
//
//	pipeflow execute --spec spec.json               # 运行单个算子
//	pipeflow execute --config config.yaml --spec-json '{...}'
//	pipeflow version                                # 显示版本信息
//	pipeflow health --config config.yaml            # 检查服务端连通性
//	pipeflow dag --file dag.json --out dag.yaml     # 校验并导出 DAG
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/pipeflow/client"
	"github.com/BaSui01/pipeflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "execute":
		os.Exit(runExecute(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		os.Exit(runHealthCheck(os.Args[2:]))
	case "dag":
		os.Exit(runDAG(os.Args[2:], os.Stdout))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载配置文件与环境变量
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.NewLoader().WithConfigPath(path).Load()
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

// runHealthCheck 用 SDK 客户端列出集成，验证地址与 API Key 均可用
func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Server address (overrides api.address)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.API.Address = *addr
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	api, err := client.New(cfg.API, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	integrations, err := api.ListIntegrations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	fmt.Printf("OK (%d integrations)\n", len(integrations))
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("PipeFlow %s\n", Version)
	fmt.Printf("  SDK Version: %s\n", client.SDKVersion)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`PipeFlow - data workflow operator runtime

Usage:
  pipeflow <command> [options]

Commands:
  execute   Run one operator from a spec
  version   Show version information
  health    Check that the server is reachable
  dag       Validate a DAG file and print it as YAML
  help      Show this help message

Options for 'execute':
  --config <path>        Path to configuration file (YAML)
  --spec <path>          Path to the operator spec (JSON)
  --spec-json <json>     Operator spec given inline
  --integration <name>   Serve this integration from the configured database

Options for 'health':
  --config <path>        Path to configuration file (YAML)
  --addr <url>           Server address, overriding the config

Options for 'dag':
  --file <path>          DAG to read (JSON, or YAML for .yaml/.yml)
  --out <path>           Write YAML to this file instead of stdout
  --order                List operators in execution order

Examples:
  pipeflow execute --spec /tmp/op/spec.json
  pipeflow execute --config /etc/pipeflow/config.yaml --integration warehouse --spec spec.json
  pipeflow health --addr https://pipeflow.example.com
  pipeflow dag --file flow.json --order
  pipeflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger。执行器会捕获 stdout，日志不要写到 stdout。
func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
