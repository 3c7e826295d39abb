package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/collaboration"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/coordinator"
	"github.com/toobutta/auterity-workflow-studio-sub004/config"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 run 命令：单次执行工作流
// =============================================================================

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Execute one autonomous workflow and print the result as JSON",
		Long: `Assemble the orchestration core in-process, execute a single workflow
for the given objective and print the structured result.

Examples:
  orchestrator run "check system health"
  orchestrator run "optimize memory usage" --policy all_or_nothing
  orchestrator run "sample runtime stats" --context '{"operation":"sample_metrics"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWorkflow,
	}
	cmd.Flags().String("policy", "", "completion policy: partial_success or all_or_nothing")
	cmd.Flags().String("context", "", "task context as a JSON object")
	return cmd
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// 单次运行不需要后台优化
	cfg.Optimization.Enabled = false

	taskContext, err := parseTaskContext(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executeOnce(ctx, cfg, logger, strings.Join(args, " "), taskContext)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("workflow failed: %s", res.Error)
	}
	return nil
}

func parseTaskContext(cmd *cobra.Command) (map[string]any, error) {
	taskContext := map[string]any{}
	if raw, _ := cmd.Flags().GetString("context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &taskContext); err != nil {
			return nil, fmt.Errorf("invalid --context: %w", err)
		}
	}
	if policy, _ := cmd.Flags().GetString("policy"); policy != "" {
		taskContext[coordinator.ContextPolicy] = policy
	}
	return taskContext, nil
}

func executeOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger, description string, taskContext map[string]any) (collaboration.WorkflowResult, error) {
	sys, err := buildSystem(cfg, logger)
	if err != nil {
		return collaboration.WorkflowResult{}, fmt.Errorf("build system: %w", err)
	}
	defer func() {
		if err := sys.Close(context.Background()); err != nil {
			logger.Warn("component shutdown incomplete", zap.Error(err))
		}
	}()
	return sys.manager.ExecuteAutonomousWorkflow(ctx, description, taskContext), nil
}
