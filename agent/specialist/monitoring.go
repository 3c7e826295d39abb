package specialist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// Severity 异常严重程度
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly 超过阈值的指标
type Anomaly struct {
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
}

// 告警类型
const (
	AlertAnomaly    = "anomaly"
	AlertPrediction = "prediction"
)

// Alert 异常与预测合并后的告警条目
type Alert struct {
	Kind     string   `json:"kind"`
	Metric   string   `json:"metric,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// MonitoringReport 监控 Agent 的任务结果
type MonitoringReport struct {
	Metrics     SystemMetrics `json:"metrics"`
	Anomalies   []Anomaly     `json:"anomalies"`
	Predictions []string      `json:"predictions"`
	Alerts      []Alert       `json:"alerts"`
	SampledAt   time.Time     `json:"sampled_at"`
}

// MonitoringConfig 监控 Agent 配置
type MonitoringConfig struct {
	Agent agent.Config
	// Thresholds 覆盖默认阈值表，未给出的键保留默认值
	Thresholds map[string]float64
	// Provider 预测补全调用的熔断器键
	Provider string
	// TelemetryDependency MetricsSource 熔断器的键，默认 "telemetry"
	TelemetryDependency string
}

// MonitoringAgent 采样遥测并标记异常
type MonitoringAgent struct {
	*agent.BaseAgent

	source     MetricsSource
	completer  llm.Completer
	breakers   *circuitbreaker.Registry
	cfg        MonitoringConfig
	thresholds map[string]float64
	predict    atomic.Bool
}

// NewMonitoringAgent 创建监控 Agent
// breakers 可与其他组件共享，预测用的 completer 也用它包装；为 nil 时创建私有 registry
func NewMonitoringAgent(cfg MonitoringConfig, source MetricsSource, c llm.Completer, breakers *circuitbreaker.Registry, logger *zap.Logger, opts ...agent.Option) (*MonitoringAgent, error) {
	if cfg.Agent.ID == "" {
		return nil, fmt.Errorf("monitoring agent: id is required")
	}
	if source == nil {
		return nil, fmt.Errorf("monitoring agent: metrics source is required")
	}
	if cfg.Agent.Role == "" {
		cfg.Agent.Role = types.RoleMonitor
	}
	if len(cfg.Agent.Capabilities) == 0 {
		cfg.Agent.Capabilities = []types.Capability{types.CapabilityMonitoring}
	}
	if cfg.TelemetryDependency == "" {
		cfg.TelemetryDependency = "telemetry"
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil, logger)
	}

	thresholds := DefaultThresholds()
	for k, v := range cfg.Thresholds {
		thresholds[k] = v
	}

	a := &MonitoringAgent{
		source:     source,
		breakers:   breakers,
		cfg:        cfg,
		thresholds: thresholds,
	}
	if c != nil {
		a.completer = llm.EnsureGuarded(c, breakers, logger)
	}
	a.predict.Store(true)
	a.BaseAgent = agent.NewBaseAgent(cfg.Agent, a, logger, opts...)
	return a, nil
}

// Thresholds 返回生效阈值表的副本
func (a *MonitoringAgent) Thresholds() map[string]float64 {
	out := make(map[string]float64, len(a.thresholds))
	for k, v := range a.thresholds {
		out[k] = v
	}
	return out
}

// ExecuteTask 实现 agent.TaskExecutor
func (a *MonitoringAgent) ExecuteTask(ctx context.Context, task *workflow.Task) (any, error) {
	metrics, err := circuitbreaker.CallWithResultTyped(a.breakers.Get(a.cfg.TelemetryDependency), ctx,
		func(ctx context.Context) (SystemMetrics, error) {
			return a.source.Sample(ctx)
		})
	if err != nil {
		return nil, fmt.Errorf("sample system metrics: %w", err)
	}

	report := MonitoringReport{
		Metrics:     metrics,
		Anomalies:   DetectAnomalies(metrics, a.thresholds),
		Predictions: []string{},
		SampledAt:   time.Now(),
	}
	if a.completer != nil && a.predict.Load() {
		report.Predictions = a.predictions(ctx, task, report)
	}
	report.Alerts = mergeAlerts(report.Anomalies, report.Predictions)
	return report, nil
}

// DetectAnomalies 按阈值比较指标，没有阈值的指标被忽略，结果按指标名排序
func DetectAnomalies(m SystemMetrics, thresholds map[string]float64) []Anomaly {
	values := m.Values()
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	anomalies := []Anomaly{}
	for _, name := range names {
		value, ok := values[name]
		limit := thresholds[name]
		if !ok || value <= limit {
			continue
		}
		sev := SeverityMedium
		if value > 1.5*limit {
			sev = SeverityHigh
		}
		anomalies = append(anomalies, Anomaly{Metric: name, Value: value, Threshold: limit, Severity: sev})
	}
	return anomalies
}

// predictions 尽力而为：任何失败都不产生预测
func (a *MonitoringAgent) predictions(ctx context.Context, task *workflow.Task, report MonitoringReport) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a systems reliability analyst.\nRequest: %s\nCurrent metrics:\n", task.Description)
	for _, name := range sortedKeys(report.Metrics.Values()) {
		fmt.Fprintf(&b, "- %s: %g\n", name, report.Metrics.Values()[name])
	}
	if len(report.Anomalies) > 0 {
		b.WriteString("Anomalies:\n")
		for _, an := range report.Anomalies {
			fmt.Fprintf(&b, "- %s=%g over threshold %g (%s)\n", an.Metric, an.Value, an.Threshold, an.Severity)
		}
	}
	b.WriteString(`Predict likely issues in the next hour. Respond with a JSON array of short strings.`)

	text, err := a.completer.GenerateText(ctx, b.String(), llm.GenerateOptions{
		Provider:    a.cfg.Provider,
		Temperature: 0.2,
		Tag:         "monitoring_predictions",
	})
	if err != nil {
		a.Logger().Warn("prediction generation failed", zap.String("task_id", task.ID), zap.Error(err))
		return []string{}
	}
	return parsePredictions(text)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func parsePredictions(text string) []string {
	var list []string
	if extractJSON(text, &list) {
		out := []string{}
		for _, p := range list {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func mergeAlerts(anomalies []Anomaly, predictions []string) []Alert {
	alerts := make([]Alert, 0, len(anomalies)+len(predictions))
	for _, an := range anomalies {
		alerts = append(alerts, Alert{
			Kind:     AlertAnomaly,
			Metric:   an.Metric,
			Severity: an.Severity,
			Message:  fmt.Sprintf("%s is %g, above threshold %g", an.Metric, an.Value, an.Threshold),
		})
	}
	for _, p := range predictions {
		alerts = append(alerts, Alert{Kind: AlertPrediction, Severity: SeverityMedium, Message: p})
	}
	return alerts
}

// Optimize 实现 agent.TaskExecutor
// 近期任务成功率低于一半时暂停预测
func (a *MonitoringAgent) Optimize(_ context.Context, recent []agent.Outcome) error {
	enabled := agent.SuccessRatio(recent) >= 0.5
	a.predict.Store(enabled)
	a.Logger().Debug("monitoring agent retuned",
		zap.Int("recent_outcomes", len(recent)),
		zap.Bool("predictions_enabled", enabled))
	return nil
}

// PredictionsEnabled 当前是否请求预测
func (a *MonitoringAgent) PredictionsEnabled() bool {
	return a.predict.Load()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
