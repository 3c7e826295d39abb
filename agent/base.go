package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config Agent 配置
type Config struct {
	ID             string
	Name           string
	Role           types.Role
	Capabilities   []types.Capability
	Specialization string
	Priority       int
	Autonomy       types.Autonomy

	Tracker TrackerConfig
	// Lookback 传给 Optimize 的结果回看窗口，默认 1h
	Lookback time.Duration
}

// Option BaseAgent 可选项
type Option func(*BaseAgent)

// WithEventBus 把生命周期事件发布到 bus
func WithEventBus(bus EventBus) Option {
	return func(b *BaseAgent) { b.bus = bus }
}

// WithApprovalGate 设置 supervised Agent 使用的审批门
func WithApprovalGate(gate ApprovalGate) Option {
	return func(b *BaseAgent) { b.gate = gate }
}

// WithTaskObserver 把终态任务上报给 o
func WithTaskObserver(o TaskObserver) Option {
	return func(b *BaseAgent) { b.observer = o }
}

// BaseAgent 围绕 TaskExecutor 实现共享的 Agent 契约
type BaseAgent struct {
	desc     types.AgentDescriptor
	exec     TaskExecutor
	tracker  *Tracker
	lookback time.Duration
	now      func() time.Time

	bus      EventBus
	gate     ApprovalGate
	observer TaskObserver
	logger   *zap.Logger
	tracer   trace.Tracer

	runMu   sync.Mutex // 同一时间只处理一个任务
	stopped atomic.Bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// NewBaseAgent 创建基础 Agent
// exec 通常是嵌入返回值的专用 Agent 自身
func NewBaseAgent(cfg Config, exec TaskExecutor, logger *zap.Logger, opts ...Option) *BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Autonomy == "" {
		cfg.Autonomy = types.AutonomyFullyAutonomous
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	tracker := NewTracker(cfg.Tracker)

	b := &BaseAgent{
		desc: types.AgentDescriptor{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Role:           cfg.Role,
			Capabilities:   slices.Clone(cfg.Capabilities),
			Specialization: cfg.Specialization,
			Priority:       cfg.Priority,
			Autonomy:       cfg.Autonomy,
		},
		exec:     exec,
		tracker:  tracker,
		lookback: cfg.Lookback,
		now:      tracker.cfg.Now,
		logger:   logger.With(zap.String("component", "agent"), zap.String("agent_id", cfg.ID)),
		tracer:   otel.Tracer("orchestrator/agent"),
		active:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BaseAgent) base() *BaseAgent { return b }

// ID 返回 Agent ID
func (b *BaseAgent) ID() string { return b.desc.ID }

// Logger 返回带 Agent 字段的日志器
func (b *BaseAgent) Logger() *zap.Logger { return b.logger }

// Tracker 返回绩效跟踪器
func (b *BaseAgent) Tracker() *Tracker { return b.tracker }

// Bus 返回事件总线，未配置时为 nil
func (b *BaseAgent) Bus() EventBus { return b.bus }

// Descriptor 返回附带当前绩效的描述
func (b *BaseAgent) Descriptor() types.AgentDescriptor {
	d := b.desc.Clone()
	d.Performance = b.tracker.Snapshot()
	return d
}

// CanHandle 实现 Agent
func (b *BaseAgent) CanHandle(task *workflow.Task) bool {
	if task == nil {
		return false
	}
	c := workflow.RequiredCapability(task.Type)
	return c != "" && b.desc.HasCapability(c)
}

// AssignTask 实现 Agent
func (b *BaseAgent) AssignTask(ctx context.Context, task *workflow.Task) bool {
	if !b.CanHandle(task) {
		types.Invariant("agent %s cannot handle task %s of type %q", b.desc.ID, taskID(task), taskType(task))
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	if !task.Claim(b.desc.ID) {
		types.Invariant("task %s already assigned to %q (status %s)", task.ID, task.AssignedTo(), task.Status())
	}
	b.publish(EventTaskAssigned, task, map[string]any{"type": string(task.Type), "priority": string(task.Priority)})

	if b.stopped.Load() {
		b.reject(task, ReasonEmergencyStop)
		return false
	}
	if reason, ok := b.approve(ctx, task); !ok {
		b.reject(task, reason)
		return false
	}

	ctx, span := b.tracer.Start(ctx, "agent.assign_task", trace.WithAttributes(
		attribute.String("agent.id", b.desc.ID),
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
	))
	defer span.End()

	taskCtx, cancel := context.WithCancel(ctx)
	if !b.track(task.ID, cancel) {
		// 审批期间发生了紧急停止
		cancel()
		b.reject(task, ReasonEmergencyStop)
		return false
	}
	if err := task.Start(); err != nil {
		types.Invariant("agent %s: %v", b.desc.ID, err)
	}
	result, execErr := b.execute(taskCtx, task)
	b.untrack(task.ID)
	cancel()

	success := execErr == nil
	if success {
		if err := task.Complete(result); err != nil {
			types.Invariant("agent %s: %v", b.desc.ID, err)
		}
	} else {
		if err := task.Fail(execErr.Error()); err != nil {
			types.Invariant("agent %s: %v", b.desc.ID, err)
		}
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
	}

	d := task.Duration()
	b.tracker.Record(success, d)
	perf := b.tracker.Snapshot()
	if b.observer != nil {
		b.observer.ObserveTask(b.desc.ID, string(task.Type), success, d, perf.SuccessRate)
	}

	if success {
		b.logger.Debug("task completed", zap.String("task_id", task.ID), zap.Duration("duration", d))
		b.publish(EventTaskCompleted, task, map[string]any{"duration_ms": d.Milliseconds()})
	} else {
		b.logger.Warn("task failed", zap.String("task_id", task.ID), zap.Error(execErr))
		b.publish(EventTaskFailed, task, map[string]any{"error": execErr.Error(), "duration_ms": d.Milliseconds()})
	}
	return success
}

// execute 运行执行体并把 panic 转换为错误，不变量违反会重新 panic
func (b *BaseAgent) execute(ctx context.Context, task *workflow.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*types.Error); ok && e.Code == types.ErrInvariantViolation {
				panic(r)
			}
			b.logger.Error("task executor panicked",
				zap.String("task_id", task.ID),
				zap.Any("recover", r),
				zap.ByteString("stack", debug.Stack()))
			err = types.NewError(types.ErrExecutionFailed, fmt.Sprintf("panic: %v", r))
		}
	}()
	return b.exec.ExecuteTask(ctx, task)
}

func (b *BaseAgent) approve(ctx context.Context, task *workflow.Task) (string, bool) {
	if b.gate == nil || b.desc.Autonomy != types.AutonomySupervised {
		return "", true
	}
	ok, err := b.gate.Approve(ctx, b.Descriptor(), task.Snapshot())
	if err != nil {
		return fmt.Sprintf("%s: %v", ReasonApprovalDenied, err), false
	}
	if !ok {
		return ReasonApprovalDenied, false
	}
	return "", true
}

// reject 让已认领但未开始的任务失败，不计入绩效
func (b *BaseAgent) reject(task *workflow.Task, reason string) {
	if err := task.Fail(reason); err != nil {
		types.Invariant("agent %s: %v", b.desc.ID, err)
	}
	b.logger.Info("task rejected", zap.String("task_id", task.ID), zap.String("reason", reason))
	b.publish(EventTaskFailed, task, map[string]any{"error": reason})
}

func (b *BaseAgent) publish(t EventType, task *workflow.Task, payload map[string]any) {
	if b.bus == nil {
		return
	}
	ev := NewEvent(t, b.desc.ID, payload)
	if task != nil {
		ev.TaskID = task.ID
		if wf, ok := task.Context[ContextWorkflowID].(string); ok {
			ev.WorkflowID = wf
		}
	}
	b.bus.Publish(ev)
}

// ContextWorkflowID 任务上下文中所属工作流 ID 的键
const ContextWorkflowID = "workflow_id"

// track 登记进行中的任务。Stop 先置位 stopped 再持锁取消，
// 因此这里持锁复查 stopped 后，任务要么被拒绝，要么一定能被 Stop 取消。
func (b *BaseAgent) track(id string, cancel context.CancelFunc) bool {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	if b.stopped.Load() {
		return false
	}
	b.active[id] = cancel
	return true
}

func (b *BaseAgent) untrack(id string) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	delete(b.active, id)
}

// ActiveTasks 实现 Agent
func (b *BaseAgent) ActiveTasks() []string {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	ids := make([]string, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop 实现 Agent
// 进行中任务的上下文被取消；忽略取消的外部调用仍会运行到结束
func (b *BaseAgent) Stop() {
	b.stopped.Store(true)
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	for id, cancel := range b.active {
		b.logger.Info("cancelling active task", zap.String("task_id", id))
		cancel()
	}
}

// Resume 实现 Agent
func (b *BaseAgent) Resume() {
	b.stopped.Store(false)
}

// Stopped 实现 Agent
func (b *BaseAgent) Stopped() bool {
	return b.stopped.Load()
}

// OptimizePerformance 实现 Agent
func (b *BaseAgent) OptimizePerformance(ctx context.Context) error {
	recent := b.tracker.OutcomesSince(b.now().Add(-b.lookback))
	if err := b.exec.Optimize(ctx, recent); err != nil {
		return fmt.Errorf("agent %s optimize: %w", b.desc.ID, err)
	}
	return nil
}

func taskID(t *workflow.Task) string {
	if t == nil {
		return "<nil>"
	}
	return t.ID
}

func taskType(t *workflow.Task) workflow.TaskType {
	if t == nil {
		return ""
	}
	return t.Type
}
