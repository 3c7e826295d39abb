package specialist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// ContextOperation 任务上下文中操作名称的键
const ContextOperation = "operation"

// ErrUnknownOperation 任务指定的操作未注册
var ErrUnknownOperation = types.NewError(types.ErrExecutionFailed, "unknown operation")

// Operation 执行协作方
type Operation interface {
	Run(ctx context.Context, task *workflow.Task) (any, error)
}

// OperationFunc 函数适配器
type OperationFunc func(ctx context.Context, task *workflow.Task) (any, error)

// Run 实现 Operation
func (f OperationFunc) Run(ctx context.Context, task *workflow.Task) (any, error) {
	return f(ctx, task)
}

// ExecutionResult 执行 Agent 的任务结果
type ExecutionResult struct {
	Operation  string `json:"operation"`
	Output     any    `json:"output"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutorConfig 执行 Agent 配置
type ExecutorConfig struct {
	Agent agent.Config
	// DefaultOperation 任务上下文未指定操作时使用
	DefaultOperation string
	// Timeout 单次操作超时，为 0 时只受熔断器超时约束
	Timeout time.Duration
}

// ExecutorAgent 按名称运行操作
type ExecutorAgent struct {
	*agent.BaseAgent

	cfg      ExecutorConfig
	breakers *circuitbreaker.Registry

	mu          sync.RWMutex
	operations  map[string]Operation
	avgDuration time.Duration
	runs        int64
}

// NewExecutorAgent 创建执行 Agent
func NewExecutorAgent(cfg ExecutorConfig, operations map[string]Operation, breakers *circuitbreaker.Registry, logger *zap.Logger, opts ...agent.Option) (*ExecutorAgent, error) {
	if cfg.Agent.ID == "" {
		return nil, fmt.Errorf("executor agent: id is required")
	}
	if cfg.Agent.Role == "" {
		cfg.Agent.Role = types.RoleExecutor
	}
	if len(cfg.Agent.Capabilities) == 0 {
		cfg.Agent.Capabilities = []types.Capability{types.CapabilityExecution}
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil, logger)
	}
	a := &ExecutorAgent{
		cfg:        cfg,
		breakers:   breakers,
		operations: make(map[string]Operation, len(operations)),
	}
	for name, op := range operations {
		a.operations[name] = op
	}
	a.BaseAgent = agent.NewBaseAgent(cfg.Agent, a, logger, opts...)
	return a, nil
}

// RegisterOperation 注册或替换操作
func (a *ExecutorAgent) RegisterOperation(name string, op Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.operations[name] = op
}

// Operations 返回已注册的操作名称
func (a *ExecutorAgent) Operations() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.operations))
	for n := range a.operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExecuteTask 实现 agent.TaskExecutor
func (a *ExecutorAgent) ExecuteTask(ctx context.Context, task *workflow.Task) (any, error) {
	name, _ := task.Context[ContextOperation].(string)
	if name == "" {
		name = a.cfg.DefaultOperation
	}
	a.mu.RLock()
	op, ok := a.operations[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := circuitbreaker.CallWithResultTyped(a.breakers.Get("operation:"+name), ctx,
		func(ctx context.Context) (any, error) {
			return op.Run(ctx, task)
		})
	elapsed := time.Since(start)
	a.observeDuration(elapsed)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", name, err)
	}
	return ExecutionResult{Operation: name, Output: out, DurationMs: elapsed.Milliseconds()}, nil
}

func (a *ExecutorAgent) observeDuration(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs++
	a.avgDuration += (d - a.avgDuration) / time.Duration(a.runs)
}

// AverageDuration 自上次 Optimize 以来的平均运行耗时
func (a *ExecutorAgent) AverageDuration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.avgDuration
}

// Optimize 实现 agent.TaskExecutor，以回看窗口重新计算平均耗时
func (a *ExecutorAgent) Optimize(_ context.Context, recent []agent.Outcome) error {
	var total time.Duration
	for _, o := range recent {
		total += o.Duration
	}
	a.mu.Lock()
	a.runs = int64(len(recent))
	a.avgDuration = 0
	if a.runs > 0 {
		a.avgDuration = total / time.Duration(a.runs)
	}
	avg := a.avgDuration
	a.mu.Unlock()

	a.Logger().Debug("executor agent retuned",
		zap.Int("recent_outcomes", len(recent)),
		zap.Duration("average_duration", avg))
	return nil
}
