package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/toobutta/auterity-workflow-studio-sub004/config"
	"github.com/toobutta/auterity-workflow-studio-sub004/internal/server"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration service",
		Long: `Start the HTTP service exposing health, status, metrics, workflow
execution, emergency stop and the live event stream.

Examples:
  orchestrator serve
  orchestrator serve --config /etc/orchestrator/config.yaml
  orchestrator serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address, overrides server.addr")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve 装配系统并运行 HTTP 服务，直到 ctx 结束或服务器异常退出
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sys, err := buildSystem(cfg, logger)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}

	handlerOpts := []server.HandlerOption{
		server.WithMetricsHandler(sys.collector.Handler()),
		server.WithRequestRecorder(sys.collector),
		server.WithConnectionTracker(sys.collector),
		server.WithEventBus(sys.bus),
		server.WithWorkflowTimeout(cfg.Server.WriteTimeout),
	}
	if sys.stream != nil {
		handlerOpts = append(handlerOpts, server.WithRecentEvents(sys.stream))
	}
	httpServer := server.NewManager(server.NewHandler(sys.manager, logger, handlerOpts...), cfg.Server, logger)

	if err := sys.Start(ctx); err != nil {
		_ = sys.Close(context.Background())
		return err
	}
	if err := httpServer.Start(); err != nil {
		_ = sys.Close(context.Background())
		return err
	}

	waitErr := httpServer.Wait(ctx)
	if waitErr != nil {
		logger.Error("server exited unexpectedly", zap.Error(waitErr))
	} else {
		logger.Info("shutdown signal received")
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := sys.Close(shutdownCtx); err != nil {
		logger.Warn("component shutdown incomplete", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
	return waitErr
}
