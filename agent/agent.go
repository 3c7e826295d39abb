package agent

import (
	"context"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
)

// Agent 定义所有 Agent 共享的行为接口
// 实现集合是封闭的：只有嵌入 *BaseAgent 的类型才满足该接口
type Agent interface {
	ID() string
	Descriptor() types.AgentDescriptor
	// CanHandle 任务类型是否映射到已声明的能力（无副作用）
	CanHandle(task *workflow.Task) bool
	// AssignTask 把任务执行到终态并返回是否成功
	AssignTask(ctx context.Context, task *workflow.Task) bool
	// OptimizePerformance 回看近期结果并调整自身启发式参数
	OptimizePerformance(ctx context.Context) error
	// Stop 拒绝后续任务并取消进行中任务的上下文
	Stop()
	// Resume 在 Stop 之后重新接收任务
	Resume()
	Stopped() bool
	// ActiveTasks 返回正在执行的任务 ID
	ActiveTasks() []string

	base() *BaseAgent
}

// TaskExecutor 角色专属的执行体，挂接到 BaseAgent 上
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task *workflow.Task) (any, error)
	// Optimize 接收回看窗口内的任务结果，对自身启发式参数的调整
	// 必须只取决于这些结果
	Optimize(ctx context.Context, recent []Outcome) error
}

// ApprovalGate 审批门，supervised 级别的 Agent 执行任务前调用
type ApprovalGate interface {
	Approve(ctx context.Context, agent types.AgentDescriptor, task workflow.TaskSnapshot) (bool, error)
}

// ApprovalFunc 函数适配器
type ApprovalFunc func(ctx context.Context, agent types.AgentDescriptor, task workflow.TaskSnapshot) (bool, error)

// Approve 实现 ApprovalGate
func (f ApprovalFunc) Approve(ctx context.Context, agent types.AgentDescriptor, task workflow.TaskSnapshot) (bool, error) {
	return f(ctx, agent, task)
}

// TaskObserver 每个任务进入终态时收到一次通知（用于指标）
type TaskObserver interface {
	ObserveTask(agentID, taskType string, success bool, duration time.Duration, successRate float64)
}

// 执行前被拒绝的任务所记录的失败原因
const (
	ReasonEmergencyStop  = "emergency stop in effect"
	ReasonApprovalDenied = "approval denied"
)
