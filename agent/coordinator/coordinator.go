package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 协调器识别的任务上下文键
const (
	ContextTasks  = "tasks"
	ContextType   = "type"
	ContextPolicy = "completion_policy"
)

// 分派失败时记录在任务上的原因
const (
	ReasonNoSuitableAgent  = "no suitable agent"
	ReasonDependencyFailed = "dependency failed: "
)

// ErrWorkflowPaused 紧急停止导致分派中断
var ErrWorkflowPaused = types.NewError(types.ErrEmergencyStop, "workflow paused by emergency stop")

// ErrSelfRegistration 协调器不能注册自身
var ErrSelfRegistration = fmt.Errorf("coordinator cannot register itself")

// Result 协调任务结果
type Result struct {
	Plan     string            `json:"plan"`
	Workflow workflow.Snapshot `json:"workflow"`
}

// WorkflowObserver 接收终态或暂停的工作流（用于指标）
type WorkflowObserver interface {
	ObserveWorkflow(status string, perf workflow.Performance, duration time.Duration)
}

// Config 协调器配置
type Config struct {
	Agent agent.Config
	// Provider 规划补全调用的熔断器键
	Provider string
	// Breakers 包装非 *llm.Guarded 的 completer 时使用，应与其他组件共享
	Breakers    *circuitbreaker.Registry
	Temperature float64
	MaxTokens   int
	// Policy 默认完成策略，可由 context["completion_policy"] 按工作流覆盖
	Policy workflow.CompletionPolicy
	// RetainWorkflows 保留供查询的工作流数量上限，默认 1000
	RetainWorkflows int
	Observer        WorkflowObserver
}

// Coordinator 把目标分解为工作流并分派其中的任务
type Coordinator struct {
	*agent.BaseAgent

	completer llm.Completer
	cfg       Config
	tracer    trace.Tracer

	mu     sync.RWMutex
	agents []agent.Agent
	ids    map[string]struct{}

	workflows *lru.Cache[string, *workflow.Workflow]
	byTask    *lru.Cache[string, string]
}

// New 创建协调器。c 可以为 nil，此时工作流不附带规划
func New(cfg Config, c llm.Completer, logger *zap.Logger, opts ...agent.Option) (*Coordinator, error) {
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = "coordinator"
	}
	cfg.Agent.Role = types.RoleCoordinator
	if len(cfg.Agent.Capabilities) == 0 {
		cfg.Agent.Capabilities = []types.Capability{types.CapabilityCoordination}
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.RetainWorkflows <= 0 {
		cfg.RetainWorkflows = 1000
	}
	workflows, err := lru.New[string, *workflow.Workflow](cfg.RetainWorkflows)
	if err != nil {
		return nil, fmt.Errorf("coordinator: workflow store: %w", err)
	}
	byTask, err := lru.New[string, string](cfg.RetainWorkflows)
	if err != nil {
		return nil, fmt.Errorf("coordinator: task index: %w", err)
	}

	var completer llm.Completer
	if g := llm.EnsureGuarded(c, cfg.Breakers, logger); g != nil {
		completer = g
	}
	c0 := &Coordinator{
		completer: completer,
		cfg:       cfg,
		tracer:    otel.Tracer("orchestrator/coordinator"),
		ids:       make(map[string]struct{}),
		workflows: workflows,
		byTask:    byTask,
	}
	c0.BaseAgent = agent.NewBaseAgent(cfg.Agent, c0, logger, opts...)
	return c0, nil
}

// RegisterAgent 把 a 加入分派注册表
// 重复注册同一 ID 不做任何事，保留首次注册
func (c *Coordinator) RegisterAgent(a agent.Agent) error {
	if a == nil {
		return fmt.Errorf("register agent: nil agent")
	}
	if a.ID() == c.ID() {
		return ErrSelfRegistration
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[a.ID()]; ok {
		return nil
	}
	c.ids[a.ID()] = struct{}{}
	c.agents = append(c.agents, a)
	c.Logger().Info("agent registered",
		zap.String("registered_id", a.ID()),
		zap.String("role", string(a.Descriptor().Role)))
	return nil
}

// Agents 按注册顺序返回已注册的 Agent
func (c *Coordinator) Agents() []agent.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]agent.Agent(nil), c.agents...)
}

// Agent 按 ID 查找已注册的 Agent
func (c *Coordinator) Agent(id string) (agent.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.agents {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// SelectAgent 返回能处理任务且优先级最高的 Agent，同优先级取最早注册者
func (c *Coordinator) SelectAgent(task *workflow.Task) agent.Agent {
	var best agent.Agent
	bestPrio := 0
	for _, a := range c.Agents() {
		if !a.CanHandle(task) {
			continue
		}
		if p := a.Descriptor().Priority; best == nil || p > bestPrio {
			best, bestPrio = a, p
		}
	}
	return best
}

// Workflow 按 ID 返回保留的工作流
func (c *Coordinator) Workflow(id string) (*workflow.Workflow, bool) {
	return c.workflows.Get(id)
}

// WorkflowForTask 返回为协调任务创建的工作流
func (c *Coordinator) WorkflowForTask(taskID string) (*workflow.Workflow, bool) {
	id, ok := c.byTask.Get(taskID)
	if !ok {
		return nil, false
	}
	return c.workflows.Get(id)
}

// Workflows 返回保留工作流的快照，按创建先后排序
func (c *Coordinator) Workflows() []workflow.Snapshot {
	wfs := c.workflows.Values()
	out := make([]workflow.Snapshot, len(wfs))
	for i, wf := range wfs {
		out[i] = wf.Snapshot()
	}
	return out
}

// ExecuteTask 为协调任务实现 agent.TaskExecutor
func (c *Coordinator) ExecuteTask(ctx context.Context, task *workflow.Task) (any, error) {
	started := time.Now()
	agents := c.Agents()
	descriptors := make([]types.AgentDescriptor, len(agents))
	for i, a := range agents {
		descriptors[i] = a.Descriptor()
	}

	policy, err := c.policyFor(task)
	if err != nil {
		return nil, err
	}
	specs, err := decompose(task)
	if err != nil {
		return nil, err
	}

	plan := c.plan(ctx, task, descriptors)

	wf := workflow.New(workflowName(task.Description), task.Description, descriptors)
	wf.SetPlan(plan)
	for _, spec := range specs {
		if spec.Context == nil {
			spec.Context = map[string]any{}
		}
		spec.Context[agent.ContextWorkflowID] = wf.ID
		if err := wf.AddTask(workflow.NewTask(spec)); err != nil {
			types.Invariant("coordinator: %v", err)
		}
	}
	c.workflows.Add(wf.ID, wf)
	c.byTask.Add(task.ID, wf.ID)

	ctx, span := c.tracer.Start(ctx, "coordinator.dispatch", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.Int("workflow.tasks", len(specs)),
	))
	defer span.End()

	if err := wf.Begin(); err != nil {
		types.Invariant("coordinator: %v", err)
	}
	if err := c.dispatch(ctx, wf); err != nil {
		c.observe(wf, started)
		return nil, err
	}

	status := wf.Finalize(policy)
	c.observe(wf, started)
	perf := wf.Performance()
	c.Logger().Info("workflow finished",
		zap.String("workflow_id", wf.ID),
		zap.String("status", string(status)),
		zap.Int("completed", perf.CompletedTasks),
		zap.Int("failed", perf.FailedTasks),
		zap.Int("total", perf.TotalTasks))

	if status == workflow.StatusFailed {
		return nil, types.NewError(types.ErrExecutionFailed,
			fmt.Sprintf("workflow %s failed: %d of %d tasks failed", wf.ID, perf.FailedTasks, perf.TotalTasks))
	}
	return Result{Plan: plan, Workflow: wf.Snapshot()}, nil
}

// dispatch 多轮分派循环：每轮按列表顺序遍历待处理任务，
// 依赖全部完成的任务才会运行
func (c *Coordinator) dispatch(ctx context.Context, wf *workflow.Workflow) error {
	tasks := wf.Tasks()
	byID := make(map[string]*workflow.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	invalid := workflow.ValidateDependencies(tasks)
	pending := make([]*workflow.Task, 0, len(tasks))
	for _, t := range tasks {
		if reason, bad := invalid[t.ID]; bad {
			c.failTask(wf, t, reason)
			continue
		}
		pending = append(pending, t)
	}

	for len(pending) > 0 {
		var next []*workflow.Task
		progressed := false
		for _, t := range pending {
			if c.Stopped() || ctx.Err() != nil {
				return c.pause(wf)
			}
			ready, failedDep := dependencyState(t, byID)
			switch {
			case failedDep != "":
				c.failTask(wf, t, ReasonDependencyFailed+failedDep)
				progressed = true
			case !ready:
				next = append(next, t)
			default:
				c.dispatchTask(ctx, wf, t)
				progressed = true
			}
		}
		if !progressed {
			types.Invariant("coordinator: workflow %s made no dispatch progress with %d pending tasks", wf.ID, len(next))
		}
		pending = next
	}
	return nil
}

func (c *Coordinator) dispatchTask(ctx context.Context, wf *workflow.Workflow, t *workflow.Task) {
	a := c.SelectAgent(t)
	if a == nil {
		c.failTask(wf, t, ReasonNoSuitableAgent)
		return
	}
	c.Logger().Debug("dispatching task",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", t.ID),
		zap.String("assignee", a.ID()))
	a.AssignTask(ctx, t)
	wf.RecordOutcome(t)
}

func (c *Coordinator) failTask(wf *workflow.Workflow, t *workflow.Task, reason string) {
	if err := t.Fail(reason); err != nil {
		types.Invariant("coordinator: %v", err)
	}
	wf.RecordOutcome(t)
	c.Logger().Info("task failed before dispatch",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", t.ID),
		zap.String("reason", reason))
	if bus := c.Bus(); bus != nil {
		ev := agent.NewEvent(agent.EventTaskFailed, c.ID(), map[string]any{"error": reason})
		ev.TaskID = t.ID
		ev.WorkflowID = wf.ID
		bus.Publish(ev)
	}
}

func (c *Coordinator) pause(wf *workflow.Workflow) error {
	if err := wf.Pause(); err != nil {
		types.Invariant("coordinator: %v", err)
	}
	perf := wf.Performance()
	c.Logger().Warn("workflow paused",
		zap.String("workflow_id", wf.ID),
		zap.Int("pending", perf.TotalTasks-perf.CompletedTasks-perf.FailedTasks))
	return ErrWorkflowPaused
}

func (c *Coordinator) observe(wf *workflow.Workflow, started time.Time) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveWorkflow(string(wf.Status()), wf.Performance(), time.Since(started))
	}
}

// dependencyState 返回依赖是否全部完成，或第一个失败依赖的 ID
func dependencyState(t *workflow.Task, byID map[string]*workflow.Task) (ready bool, failedDep string) {
	ready = true
	for _, id := range t.Dependencies {
		switch byID[id].Status() {
		case workflow.TaskFailed:
			return false, id
		case workflow.TaskCompleted:
		default:
			ready = false
		}
	}
	return ready, ""
}

// plan 请求参考性的工作流大纲，失败时记录日志并返回 ""
func (c *Coordinator) plan(ctx context.Context, task *workflow.Task, agents []types.AgentDescriptor) string {
	if c.completer == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You coordinate a team of autonomous agents.\nObjective: %s\nAvailable agents:\n", task.Description)
	for _, d := range agents {
		caps := make([]string, len(d.Capabilities))
		for i, cp := range d.Capabilities {
			caps[i] = string(cp)
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", d.Name, d.Role, strings.Join(caps, ", "))
	}
	if len(agents) == 0 {
		b.WriteString("- none\n")
	}
	b.WriteString("Outline the workflow steps and which agent should handle each.")

	text, err := c.completer.GenerateText(ctx, b.String(), llm.GenerateOptions{
		Provider:    c.cfg.Provider,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Tag:         "workflow_plan",
	})
	if err != nil {
		c.Logger().Warn("workflow planning failed, continuing without plan",
			zap.String("task_id", task.ID), zap.Error(err))
		return ""
	}
	return text
}

func (c *Coordinator) policyFor(task *workflow.Task) (workflow.CompletionPolicy, error) {
	raw, ok := task.Context[ContextPolicy]
	if !ok {
		return c.cfg.Policy, nil
	}
	switch v := raw.(type) {
	case workflow.CompletionPolicy:
		return v, nil
	case string:
		p, err := workflow.ParseCompletionPolicy(v)
		if err != nil {
			return 0, types.NewError(types.ErrInvalidRequest, err.Error())
		}
		return p, nil
	}
	return 0, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("completion policy has type %T", raw))
}

// decompose 从协调任务推导工作流的任务描述
func decompose(task *workflow.Task) ([]workflow.TaskSpec, error) {
	if raw, ok := task.Context[ContextTasks]; ok {
		specs, err := toSpecs(raw)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid task list").WithCause(err)
		}
		seen := make(map[string]bool, len(specs))
		for i := range specs {
			if specs[i].ID == "" {
				specs[i].ID = fmt.Sprintf("%s-%d", task.ID, i+1)
			}
			if seen[specs[i].ID] {
				return nil, types.NewError(types.ErrInvalidRequest, "duplicate task id: "+specs[i].ID)
			}
			seen[specs[i].ID] = true
			specs[i].Context = maps.Clone(specs[i].Context)
		}
		return specs, nil
	}

	taskType := workflow.InferTaskType(task.Description)
	switch v := task.Context[ContextType].(type) {
	case workflow.TaskType:
		taskType = v
	case string:
		if v != "" {
			taskType = workflow.TaskType(v)
		}
	}

	ctx := maps.Clone(task.Context)
	delete(ctx, ContextType)
	delete(ctx, ContextPolicy)
	return []workflow.TaskSpec{{
		ID:          task.ID + "-1",
		Type:        taskType,
		Description: task.Description,
		Priority:    task.Priority,
		Context:     ctx,
	}}, nil
}

func toSpecs(raw any) ([]workflow.TaskSpec, error) {
	switch v := raw.(type) {
	case []workflow.TaskSpec:
		return append([]workflow.TaskSpec(nil), v...), nil
	case []*workflow.TaskSpec:
		out := make([]workflow.TaskSpec, 0, len(v))
		for _, s := range v {
			if s != nil {
				out = append(out, *s)
			}
		}
		return out, nil
	}
	// 来自 HTTP 或 YAML 的 JSON 形态输入（[]any 嵌套 map）
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var specs []workflow.TaskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func workflowName(description string) string {
	name := strings.TrimSpace(description)
	if r := []rune(name); len(r) > 60 {
		name = string(r[:60]) + "…"
	}
	if name == "" {
		name = "workflow"
	}
	return name
}

// Optimize 实现 agent.TaskExecutor
// 协调器没有可调参数，只记录近期分派情况
func (c *Coordinator) Optimize(_ context.Context, recent []agent.Outcome) error {
	c.Logger().Debug("coordinator reviewed recent workflows",
		zap.Int("recent_outcomes", len(recent)),
		zap.Float64("success_ratio", agent.SuccessRatio(recent)))
	return nil
}
