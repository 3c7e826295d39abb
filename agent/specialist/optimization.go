package specialist

import (
	"context"
	"fmt"
	"maps"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// OptimizationPlan 补全返回的结构化方案
type OptimizationPlan struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps,omitempty"`
	Risks   []string `json:"risks,omitempty"`
}

// OptimizationResult 优化 Agent 的任务结果
type OptimizationResult struct {
	Plan                 OptimizationPlan `json:"plan"`
	OptimizedData        map[string]any   `json:"optimized_data"`
	Confidence           float64          `json:"confidence"`
	EstimatedImprovement float64          `json:"estimated_improvement"`
	// Structured 为 false 表示补全不是合法 JSON，方案摘要保存原始文本
	Structured bool `json:"structured"`
}

// fallbackConfidence 方案无法解析时使用的置信度
const fallbackConfidence = 0.5

// OptimizationConfig 优化 Agent 配置
type OptimizationConfig struct {
	Agent agent.Config
	// Provider 补全调用的熔断器键，为空时使用 completer 默认值
	Provider string
	// Breakers 包装非 *llm.Guarded 的 completer 时使用，应与其他组件共享
	Breakers *circuitbreaker.Registry
	// Temperature 基础采样温度，默认 0.3
	Temperature float64
	MaxTokens   int
	// HistorySize 方案历史容量，默认 100
	HistorySize int
}

// OptimizationAgent 通过文本补全生成优化方案
type OptimizationAgent struct {
	*agent.BaseAgent

	completer llm.Completer
	cfg       OptimizationConfig
	history   *lru.Cache[string, OptimizationResult]

	mu          sync.RWMutex
	temperature float64
}

// NewOptimizationAgent 创建优化 Agent，c 不能为 nil
// 补全调用经由 llm.EnsureGuarded 包装后的 c
func NewOptimizationAgent(cfg OptimizationConfig, c llm.Completer, logger *zap.Logger, opts ...agent.Option) (*OptimizationAgent, error) {
	if cfg.Agent.ID == "" {
		return nil, fmt.Errorf("optimization agent: id is required")
	}
	if c == nil {
		return nil, fmt.Errorf("optimization agent: completer is required")
	}
	if cfg.Agent.Role == "" {
		cfg.Agent.Role = types.RoleOptimizer
	}
	if len(cfg.Agent.Capabilities) == 0 {
		cfg.Agent.Capabilities = []types.Capability{types.CapabilityOptimization, types.CapabilityAnalysis}
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	history, err := lru.New[string, OptimizationResult](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("optimization agent: plan history: %w", err)
	}

	a := &OptimizationAgent{
		completer:   llm.EnsureGuarded(c, cfg.Breakers, logger),
		cfg:         cfg,
		history:     history,
		temperature: cfg.Temperature,
	}
	a.BaseAgent = agent.NewBaseAgent(cfg.Agent, a, logger, opts...)
	return a, nil
}

// ExecuteTask 实现 agent.TaskExecutor
func (a *OptimizationAgent) ExecuteTask(ctx context.Context, task *workflow.Task) (any, error) {
	text, err := a.completer.GenerateText(ctx, a.prompt(task), llm.GenerateOptions{
		Provider:    a.cfg.Provider,
		Temperature: a.Temperature(),
		MaxTokens:   a.cfg.MaxTokens,
		Tag:         "optimization_plan",
	})
	if err != nil {
		return nil, fmt.Errorf("generate optimization plan: %w", err)
	}

	result := parseOptimization(text, task.Context)
	a.history.Add(task.ID, result)
	return result, nil
}

func (a *OptimizationAgent) prompt(task *workflow.Task) string {
	return fmt.Sprintf(`You are an optimization specialist.
Objective: %s
Task type: %s
Context:
%s

Respond with JSON only:
{"summary": "...", "steps": ["..."], "risks": ["..."], "optimized_data": {}, "confidence": 0.0-1.0, "estimated_improvement": 0.0-1.0}`,
		task.Description, task.Type, contextJSON(task.Context))
}

type planEnvelope struct {
	Summary              string         `json:"summary"`
	Steps                []string       `json:"steps"`
	Risks                []string       `json:"risks"`
	OptimizedData        map[string]any `json:"optimized_data"`
	Confidence           *float64       `json:"confidence"`
	EstimatedImprovement float64        `json:"estimated_improvement"`
}

func parseOptimization(text string, taskCtx map[string]any) OptimizationResult {
	var env planEnvelope
	if !extractJSON(text, &env) || (env.Summary == "" && len(env.Steps) == 0) {
		return OptimizationResult{
			Plan:          OptimizationPlan{Summary: text},
			OptimizedData: maps.Clone(taskCtx),
			Confidence:    fallbackConfidence,
		}
	}

	res := OptimizationResult{
		Plan:                 OptimizationPlan{Summary: env.Summary, Steps: env.Steps, Risks: env.Risks},
		OptimizedData:        env.OptimizedData,
		Confidence:           fallbackConfidence,
		EstimatedImprovement: clamp01(env.EstimatedImprovement),
		Structured:           true,
	}
	if env.Confidence != nil {
		res.Confidence = clamp01(*env.Confidence)
	}
	if res.OptimizedData == nil {
		res.OptimizedData = maps.Clone(taskCtx)
	}
	return res
}

// Optimize 实现 agent.TaskExecutor
// 采样温度随近期成功率缩放，成功率越低采样越保守
func (a *OptimizationAgent) Optimize(_ context.Context, recent []agent.Outcome) error {
	ratio := agent.SuccessRatio(recent)
	temp := a.cfg.Temperature * (0.5 + 0.5*ratio)

	a.mu.Lock()
	a.temperature = temp
	a.mu.Unlock()

	a.Logger().Debug("optimization agent retuned",
		zap.Int("recent_outcomes", len(recent)),
		zap.Float64("success_ratio", ratio),
		zap.Float64("temperature", temp),
		zap.Float64("mean_plan_confidence", a.MeanConfidence()))
	return nil
}

// Temperature 返回当前采样温度
func (a *OptimizationAgent) Temperature() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.temperature
}

// History 返回保留的方案，按时间升序
func (a *OptimizationAgent) History() []OptimizationResult {
	return a.history.Values()
}

// MeanConfidence 保留方案的平均置信度，没有方案时为 0
func (a *OptimizationAgent) MeanConfidence() float64 {
	plans := a.history.Values()
	if len(plans) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range plans {
		sum += p.Confidence
	}
	return sum / float64(len(plans))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
