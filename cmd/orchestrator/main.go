// =============================================================================
// 编排核心主入口
// =============================================================================
// 使用方法:
//
//	orchestrator serve                         # 启动服务
//	orchestrator serve --config config.yaml    # 指定配置文件
//	orchestrator run "check system health"     # 单次执行工作流
//	orchestrator status --addr http://host:8080
//	orchestrator health --addr http://host:8080
//	orchestrator events                        # 订阅 Redis 事件流
//	orchestrator version
// =============================================================================
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Multi-agent task orchestration core",
		Long: `orchestrator decomposes objectives into workflows of tasks, dispatches
them to specialised agents and tracks each agent's performance.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file (YAML)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newStatusCmd(),
		newHealthCmd(),
		newEventsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "orchestrator %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
