package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/connector/relational"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/internal/telemetry"
)

// =============================================================================
// ⚙️ execute 命令
// =============================================================================

// runExecute 运行单个算子并返回进程退出码。执行状态总是写入 spec 指定的
// 存储路径，退出码只用于调度器快速判断。
func runExecute(args []string) int {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	specPath := fs.String("spec", "", "Path to the operator spec (JSON)")
	specJSON := fs.String("spec-json", "", "Operator spec as inline JSON")
	integration := fs.String("integration", "", "Serve this integration from the configured database")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return executor.ExitFailure
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	data, err := readSpec(*specPath, *specJSON, os.Stdin)
	if err != nil {
		logger.Error("failed to read operator spec", zap.Error(err))
		return executor.ExitFailure
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if otelProviders == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down telemetry", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
		defer pushMetrics(cfg.Metrics, reg, logger)
	}

	conns, err := openConnectors(cfg, *integration, collector, logger)
	if err != nil {
		logger.Error("failed to open connectors", zap.Error(err))
		return executor.ExitFailure
	}
	defer conns.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := executor.New(
		executor.WithLogger(logger),
		executor.WithMetrics(collector),
		executor.WithConnectors(conns),
	)
	code := rt.RunJSON(ctx, data)
	logger.Debug("operator exited", zap.Int("exit_code", code))
	return code
}

// readSpec 依次尝试文件、命令行内联 JSON 与标准输入
func readSpec(path, inline string, stdin io.Reader) ([]byte, error) {
	switch {
	case path != "" && inline != "":
		return nil, errors.New("--spec and --spec-json are mutually exclusive")
	case path != "":
		return os.ReadFile(path)
	case inline != "":
		return []byte(inline), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("no operator spec given; use --spec, --spec-json or stdin")
	}
	return data, nil
}

// openConnectors 把配置中的数据库注册为指定集成。未指定集成时由 spec 自带的
// 连接信息打开连接器。
func openConnectors(cfg *config.Config, integration string, collector *metrics.Collector, logger *zap.Logger) (*connector.Registry, error) {
	conns := connector.NewRegistry()
	if integration == "" {
		return conns, nil
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("integration %q needs database.dsn in the config", integration)
	}
	conn, err := relational.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	conns.Register(integration, conn.WithMetrics(collector))
	return conns, nil
}

// pushMetrics 进程退出前推送一次指标
func pushMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, logger *zap.Logger) {
	if cfg.PushGateway == "" {
		return
	}
	if err := push.New(cfg.PushGateway, "pipeflow_executor").Gatherer(reg).Push(); err != nil {
		logger.Warn("failed to push metrics", zap.String("gateway", cfg.PushGateway), zap.Error(err))
	}
}
