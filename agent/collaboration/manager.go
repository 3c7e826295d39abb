package collaboration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/coordinator"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health 由 Agent 平均成功率得出的系统健康等级
type Health string

const (
	HealthExcellent      Health = "excellent"
	HealthGood           Health = "good"
	HealthFair           Health = "fair"
	HealthNeedsAttention Health = "needs_attention"
)

// HealthFor 按平均成功率分级，没有 Agent 时为 needs_attention
func HealthFor(meanSuccessRate float64, agents int) Health {
	switch {
	case agents == 0:
		return HealthNeedsAttention
	case meanSuccessRate >= 0.9:
		return HealthExcellent
	case meanSuccessRate >= 0.8:
		return HealthGood
	case meanSuccessRate >= 0.7:
		return HealthFair
	}
	return HealthNeedsAttention
}

// Config 管理器配置
type Config struct {
	// Provider 建议类补全调用的熔断器键
	Provider    string
	Temperature float64
	MaxTokens   int
	// OptimizationSchedule 后台自优化的 cron 表达式（如 "@every 1h"），
	// 为空时不启用
	OptimizationSchedule string
	// OptimizeConcurrency OptimizePerformance 并发上限，默认 8
	OptimizeConcurrency int
}

// Option 可选协作方配置
type Option func(*Manager)

// WithEventBus 设置 emergencyStop 与 violationDetected 的事件总线
func WithEventBus(bus agent.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithCompleter 设置建议类补全使用的 completer
func WithCompleter(c llm.Completer) Option {
	return func(m *Manager) { m.completer = c }
}

// WithBreakers 在系统状态中暴露熔断器快照
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(m *Manager) { m.breakers = r }
}

// Manager 协调器、各 Agent 与协作组之上的系统门面
type Manager struct {
	coord     *coordinator.Coordinator
	bus       agent.EventBus
	completer llm.Completer
	breakers  *circuitbreaker.Registry
	cfg       Config
	logger    *zap.Logger

	mu             sync.RWMutex
	collaborations map[string]*workflow.Collaboration
	order          []string
	lastOpt        *SystemOptimization

	cron      *cron.Cron
	startOnce sync.Once
	closeOnce sync.Once
}

// NewManager 围绕 coord 创建管理器
func NewManager(cfg Config, coord *coordinator.Coordinator, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if coord == nil {
		return nil, fmt.Errorf("collaboration: coordinator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.4
	}
	if cfg.OptimizeConcurrency <= 0 {
		cfg.OptimizeConcurrency = 8
	}
	m := &Manager{
		coord:          coord,
		cfg:            cfg,
		logger:         logger.With(zap.String("component", "collaboration_manager")),
		collaborations: make(map[string]*workflow.Collaboration),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.completer != nil {
		m.completer = llm.EnsureGuarded(m.completer, m.breakers, logger)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	m.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if cfg.OptimizationSchedule != "" {
		if _, err := m.cron.AddFunc(cfg.OptimizationSchedule, m.scheduledOptimization); err != nil {
			return nil, fmt.Errorf("collaboration: optimization schedule %q: %w", cfg.OptimizationSchedule, err)
		}
	}
	return m, nil
}

// Coordinator 返回底层协调器
func (m *Manager) Coordinator() *coordinator.Coordinator { return m.coord }

// Start 启动后台自优化调度
func (m *Manager) Start(context.Context) error {
	m.startOnce.Do(func() {
		m.cron.Start()
		m.logger.Info("collaboration manager started",
			zap.String("optimization_schedule", m.cfg.OptimizationSchedule))
	})
	return nil
}

// Close 停止调度，并等待正在运行的优化结束或 ctx 到期
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			err = fmt.Errorf("collaboration: close: %w", ctx.Err())
		}
		m.logger.Info("collaboration manager stopped")
	})
	return err
}

func (m *Manager) scheduledOptimization() {
	res := m.OptimizeAgentSystem(context.Background())
	m.logger.Info("scheduled optimization finished",
		zap.Int("agents", res.Agents),
		zap.Int("failed", len(res.Errors)))
}

// =============================================================================
// 🤖 Agent 管理
// =============================================================================

// RegisterAgent 把 Agent 加入协调器的分派注册表
func (m *Manager) RegisterAgent(a agent.Agent) error {
	return m.coord.RegisterAgent(a)
}

// agents 返回协调器及所有已注册 Agent
func (m *Manager) agents() []agent.Agent {
	return append([]agent.Agent{m.coord}, m.coord.Agents()...)
}

func (m *Manager) knownAgent(id string) bool {
	if id == m.coord.ID() {
		return true
	}
	_, ok := m.coord.Agent(id)
	return ok
}

// =============================================================================
// 🤝 协作组
// =============================================================================

// CollaborationOption 新建协作组的可选项
type CollaborationOption func(*collabSettings)

type collabSettings struct {
	strategy workflow.Strategy
	protocol workflow.Protocol
}

// WithStrategy 设置决策策略，默认 hierarchical
func WithStrategy(s workflow.Strategy) CollaborationOption {
	return func(c *collabSettings) { c.strategy = s }
}

// WithProtocol 设置通信协议，默认 direct
func WithProtocol(p workflow.Protocol) CollaborationOption {
	return func(c *collabSettings) { c.protocol = p }
}

// CreateCollaboration 校验 Agent ID，请求策略建议并激活协作组
func (m *Manager) CreateCollaboration(ctx context.Context, name, objective string, agentIDs []string, opts ...CollaborationOption) (workflow.CollaborationSnapshot, error) {
	if len(agentIDs) == 0 {
		return workflow.CollaborationSnapshot{}, types.NewError(types.ErrInvalidRequest, "collaboration needs at least one agent")
	}
	for _, id := range agentIDs {
		if !m.knownAgent(id) {
			return workflow.CollaborationSnapshot{}, types.NewError(types.ErrAgentNotFound, "unknown agent: "+id)
		}
	}
	settings := collabSettings{strategy: workflow.StrategyHierarchical, protocol: workflow.ProtocolDirect}
	for _, opt := range opts {
		opt(&settings)
	}

	c := workflow.NewCollaboration(name, objective, agentIDs, settings.strategy, settings.protocol)
	m.mu.Lock()
	m.collaborations[c.ID] = c
	m.order = append(m.order, c.ID)
	m.mu.Unlock()

	rec := m.advise(ctx, "collaboration_strategy", m.strategyPrompt(c))
	if err := c.Activate(rec); err != nil {
		types.Invariant("collaboration %s: %v", c.ID, err)
	}
	m.logger.Info("collaboration created",
		zap.String("collaboration_id", c.ID),
		zap.String("name", name),
		zap.Strings("agents", agentIDs),
		zap.String("strategy", string(settings.strategy)))
	return c.Snapshot(), nil
}

func (m *Manager) strategyPrompt(c *workflow.Collaboration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend how these agents should collaborate.\nObjective: %s\nStrategy: %s\nProtocol: %s\nAgents:\n",
		c.Objective, c.Strategy, c.Protocol)
	for _, id := range c.AgentIDs {
		if a, ok := m.coord.Agent(id); ok {
			d := a.Descriptor()
			fmt.Fprintf(&b, "- %s (%s), success rate %.2f\n", d.Name, d.Role, d.Performance.SuccessRate)
		} else {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return b.String()
}

func (m *Manager) collaboration(id string) (*workflow.Collaboration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collaborations[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "unknown collaboration: "+id)
	}
	return c, nil
}

// RecordOutcome 向活跃协作组追加结果记录
func (m *Manager) RecordOutcome(id, summary string, data map[string]any) error {
	c, err := m.collaboration(id)
	if err != nil {
		return err
	}
	return c.AppendOutcome(summary, data)
}

// CompleteCollaboration 把活跃协作组标记为完成
func (m *Manager) CompleteCollaboration(id string) error {
	c, err := m.collaboration(id)
	if err != nil {
		return err
	}
	return c.Complete()
}

// DissolveCollaboration 解散 forming 或 active 状态的协作组
func (m *Manager) DissolveCollaboration(id string) error {
	c, err := m.collaboration(id)
	if err != nil {
		return err
	}
	return c.Dissolve()
}

// Collaboration 返回单个协作组快照
func (m *Manager) Collaboration(id string) (workflow.CollaborationSnapshot, error) {
	c, err := m.collaboration(id)
	if err != nil {
		return workflow.CollaborationSnapshot{}, err
	}
	return c.Snapshot(), nil
}

// Collaborations 按创建顺序返回快照
func (m *Manager) Collaborations() []workflow.CollaborationSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]workflow.CollaborationSnapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.collaborations[id].Snapshot())
	}
	return out
}

// =============================================================================
// 🔄 工作流
// =============================================================================

// WorkflowResult ExecuteAutonomousWorkflow 的结构化结果
type WorkflowResult struct {
	Success    bool               `json:"success"`
	TaskID     string             `json:"task_id"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	Result     any                `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Workflow   *workflow.Snapshot `json:"workflow,omitempty"`
}

// ExecuteAutonomousWorkflow 端到端执行一次协调任务
// 失败记录在结果中，不以 Go error 返回
func (m *Manager) ExecuteAutonomousWorkflow(ctx context.Context, description string, taskContext map[string]any) WorkflowResult {
	priority := workflow.PriorityMedium
	if p, ok := taskContext["priority"].(string); ok && p != "" {
		priority = workflow.Priority(p)
	}
	task := workflow.NewTask(workflow.TaskSpec{
		Type:        workflow.TaskCoordination,
		Description: description,
		Priority:    priority,
		Context:     taskContext,
	})

	ok := m.coord.AssignTask(ctx, task)
	res := WorkflowResult{
		Success: ok,
		TaskID:  task.ID,
		Result:  task.Result(),
		Error:   task.Error(),
	}
	if wf, found := m.coord.WorkflowForTask(task.ID); found {
		snap := wf.Snapshot()
		res.WorkflowID = wf.ID
		res.Workflow = &snap
	}
	m.logger.Info("autonomous workflow finished",
		zap.String("task_id", task.ID),
		zap.String("workflow_id", res.WorkflowID),
		zap.Bool("success", ok))
	return res
}

// =============================================================================
// ⚙️ 性能优化
// =============================================================================

// SystemOptimization 一次 OptimizeAgentSystem 的汇总
type SystemOptimization struct {
	Agents         int               `json:"agents"`
	Errors         map[string]string `json:"errors,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// OptimizeAgentSystem 并发执行所有 Agent 的 OptimizePerformance，
// 再请求系统级建议。单个 Agent 的失败只收集，不向上传播
func (m *Manager) OptimizeAgentSystem(ctx context.Context) SystemOptimization {
	agents := m.agents()
	var mu sync.Mutex
	errs := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.OptimizeConcurrency)
	for _, a := range agents {
		g.Go(func() error {
			if err := a.OptimizePerformance(gctx); err != nil {
				mu.Lock()
				errs[a.ID()] = err.Error()
				mu.Unlock()
				m.logger.Warn("agent optimization failed", zap.String("agent_id", a.ID()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SystemOptimization{
		Agents:         len(agents),
		Recommendation: m.advise(ctx, "system_optimization", m.optimizationPrompt()),
		CompletedAt:    time.Now(),
	}
	if len(errs) > 0 {
		res.Errors = errs
	}

	m.mu.Lock()
	m.lastOpt = &res
	m.mu.Unlock()
	return res
}

func (m *Manager) optimizationPrompt() string {
	status := m.GetSystemStatus()
	var b strings.Builder
	fmt.Fprintf(&b, "Review this multi-agent system and recommend improvements.\nSystem health: %s (mean success rate %.2f)\nAgents:\n",
		status.SystemHealth, status.MeanSuccessRate)
	for _, a := range status.Agents {
		fmt.Fprintf(&b, "- %s (%s): success rate %.2f, avg response %.0fms, tasks %d\n",
			a.Name, a.Role, a.Performance.SuccessRate, a.Performance.AverageResponseTimeMs, a.Performance.TasksCompleted)
	}
	for _, s := range status.Breakers {
		fmt.Fprintf(&b, "Breaker %s: %s\n", s.Name, s.State)
	}
	return b.String()
}

// advise 请求建议文本，失败时记录日志并返回 ""
func (m *Manager) advise(ctx context.Context, tag, prompt string) string {
	if m.completer == nil {
		return ""
	}
	text, err := m.completer.GenerateText(ctx, prompt, llm.GenerateOptions{
		Provider:    m.cfg.Provider,
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
		Tag:         tag,
	})
	if err != nil {
		m.logger.Warn("advisory completion failed", zap.String("tag", tag), zap.Error(err))
		return ""
	}
	return text
}

// =============================================================================
// 📊 状态与控制
// =============================================================================

// AgentStatus SystemStatus 中单个 Agent 的条目
type AgentStatus struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Role        types.Role             `json:"role"`
	Performance types.AgentPerformance `json:"performance"`
	Stopped     bool                   `json:"stopped"`
	ActiveTasks []string               `json:"active_tasks,omitempty"`
}

// SystemStatus 只读健康快照
type SystemStatus struct {
	AgentCount         int                       `json:"agent_count"`
	CollaborationCount int                       `json:"collaboration_count"`
	Agents             []AgentStatus             `json:"agents"`
	Coordinator        AgentStatus               `json:"coordinator"`
	MeanSuccessRate    float64                   `json:"mean_success_rate"`
	SystemHealth       Health                    `json:"system_health"`
	Breakers           []circuitbreaker.Snapshot `json:"breakers,omitempty"`
	LastOptimization   *SystemOptimization       `json:"last_optimization,omitempty"`
}

func statusOf(a agent.Agent) AgentStatus {
	d := a.Descriptor()
	return AgentStatus{
		ID:          d.ID,
		Name:        d.Name,
		Role:        d.Role,
		Performance: d.Performance,
		Stopped:     a.Stopped(),
		ActiveTasks: a.ActiveTasks(),
	}
}

// GetSystemStatus 报告已注册 Agent 及其平均成功率
// 协调器单独报告，不计入平均值
func (m *Manager) GetSystemStatus() SystemStatus {
	registered := m.coord.Agents()
	status := SystemStatus{
		AgentCount:  len(registered),
		Agents:      make([]AgentStatus, 0, len(registered)),
		Coordinator: statusOf(m.coord),
	}
	var sum float64
	for _, a := range registered {
		s := statusOf(a)
		sum += s.Performance.SuccessRate
		status.Agents = append(status.Agents, s)
	}
	if len(registered) > 0 {
		status.MeanSuccessRate = sum / float64(len(registered))
	}
	status.SystemHealth = HealthFor(status.MeanSuccessRate, len(registered))

	m.mu.RLock()
	status.CollaborationCount = len(m.collaborations)
	if m.lastOpt != nil {
		last := *m.lastOpt
		status.LastOptimization = &last
	}
	m.mu.RUnlock()

	if m.breakers != nil {
		status.Breakers = m.breakers.Snapshots()
	}
	return status
}

// EmergencyStop 停止所有 Agent 并发布 emergencyStop
// 执行中的任务 ctx 被取消，Resume 之前不接受新任务
func (m *Manager) EmergencyStop(reason string) {
	agents := m.agents()
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		a.Stop()
		ids = append(ids, a.ID())
	}
	sort.Strings(ids)
	m.logger.Warn("emergency stop", zap.String("reason", reason), zap.Strings("agents", ids))
	if m.bus != nil {
		m.bus.Publish(agent.NewEvent(agent.EventEmergencyStop, m.coord.ID(), map[string]any{
			"reason": reason,
			"agents": ids,
		}))
	}
}

// Resume 解除所有 Agent 的紧急停止
func (m *Manager) Resume() {
	for _, a := range m.agents() {
		a.Resume()
	}
	m.logger.Info("agents resumed")
}

// ReportViolation 为指定 Agent 发布 violationDetected
func (m *Manager) ReportViolation(agentID, description, severity string) error {
	if !m.knownAgent(agentID) {
		return types.NewError(types.ErrAgentNotFound, "unknown agent: "+agentID)
	}
	m.logger.Warn("violation reported",
		zap.String("agent_id", agentID),
		zap.String("severity", severity),
		zap.String("description", description))
	if m.bus != nil {
		m.bus.Publish(agent.NewEvent(agent.EventViolationDetected, agentID, map[string]any{
			"description": description,
			"severity":    severity,
		}))
	}
	return nil
}
