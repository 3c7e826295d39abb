package specialist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/testutil/mocks"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

func monitoringTask(id string) *workflow.Task {
	return workflow.NewTask(workflow.TaskSpec{ID: id, Type: workflow.TaskMonitoring, Description: "check system health"})
}

func newMonitor(t *testing.T, source MetricsSource, c llm.Completer, cfg MonitoringConfig) *MonitoringAgent {
	t.Helper()
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = "monitor-1"
	}
	a, err := NewMonitoringAgent(cfg, source, c, nil, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestDetectAnomalies(t *testing.T) {
	tests := []struct {
		name    string
		metrics SystemMetrics
		want    []Anomaly
	}{
		{
			name:    "all healthy",
			metrics: SystemMetrics{CPUUsage: 0.3, MemoryUsage: 0.5, ErrorRate: 0.01, ResponseTimeMs: 120},
			want:    []Anomaly{},
		},
		{
			name:    "equal to threshold is not anomalous",
			metrics: SystemMetrics{CPUUsage: 0.8},
			want:    []Anomaly{},
		},
		{
			name:    "medium and high",
			metrics: SystemMetrics{CPUUsage: 0.85, ErrorRate: 0.2, ResponseTimeMs: 7500},
			want: []Anomaly{
				{Metric: MetricCPUUsage, Value: 0.85, Threshold: 0.8, Severity: SeverityMedium},
				{Metric: MetricErrorRate, Value: 0.2, Threshold: 0.05, Severity: SeverityHigh},
				{Metric: MetricResponseTime, Value: 7500, Threshold: 5000, Severity: SeverityMedium},
			},
		},
		{
			name:    "just above 1.5x is high",
			metrics: SystemMetrics{ResponseTimeMs: 7500.0001},
			want: []Anomaly{
				{Metric: MetricResponseTime, Value: 7500.0001, Threshold: 5000, Severity: SeverityHigh},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectAnomalies(tt.metrics, DefaultThresholds()))
		})
	}
}

func TestMonitoringAgent_HealthyReportHasEmptyAlerts(t *testing.T) {
	a := newMonitor(t, StaticMetrics(SystemMetrics{CPUUsage: 0.2}), nil, MonitoringConfig{})
	task := monitoringTask("t1")
	require.True(t, a.AssignTask(context.Background(), task))

	report, ok := task.Result().(MonitoringReport)
	require.True(t, ok)
	assert.NotNil(t, report.Alerts)
	assert.Empty(t, report.Alerts)
	assert.NotNil(t, report.Predictions)
	assert.Equal(t, types.RoleMonitor, a.Descriptor().Role)
}

func TestMonitoringAgent_AnomaliesAndPredictionsMerged(t *testing.T) {
	mock := mocks.NewMockCompleter().WithResponse(`["memory pressure within 30 minutes", " "]`)
	source := StaticMetrics(SystemMetrics{MemoryUsage: 0.95, ErrorRate: 0.09})
	a := newMonitor(t, source, mock, MonitoringConfig{Provider: "anthropic"})

	task := monitoringTask("t1")
	require.True(t, a.AssignTask(context.Background(), task))
	report := task.Result().(MonitoringReport)

	require.Len(t, report.Anomalies, 2)
	assert.Equal(t, []string{"memory pressure within 30 minutes"}, report.Predictions)
	require.Len(t, report.Alerts, 3)
	assert.Equal(t, AlertAnomaly, report.Alerts[0].Kind)
	assert.Equal(t, AlertPrediction, report.Alerts[2].Kind)

	call, _ := mock.LastCall()
	assert.Equal(t, "anthropic", call.Options.Provider)
	assert.Contains(t, call.Prompt, "memory_usage")
	assert.Contains(t, call.Prompt, "Anomalies")
}

func TestMonitoringAgent_PredictionFailureIsBestEffort(t *testing.T) {
	mock := mocks.NewMockCompleter().WithError(llm.ErrProviderUnavailable)
	a := newMonitor(t, StaticMetrics(SystemMetrics{CPUUsage: 0.99}), mock, MonitoringConfig{})

	task := monitoringTask("t1")
	require.True(t, a.AssignTask(context.Background(), task))
	report := task.Result().(MonitoringReport)
	assert.Empty(t, report.Predictions)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, SeverityMedium, report.Alerts[0].Severity)
}

func TestMonitoringAgent_PlainTextPredictions(t *testing.T) {
	assert.Equal(t, []string{"disk fills up", "5xx spike after deploy"},
		parsePredictions("1. disk fills up\n\n- 5xx spike after deploy\n"))
}

func TestMonitoringAgent_ThresholdOverrides(t *testing.T) {
	a := newMonitor(t, StaticMetrics(SystemMetrics{CPUUsage: 0.7}), nil, MonitoringConfig{
		Thresholds: map[string]float64{MetricCPUUsage: 0.6, MetricThroughput: 1000},
	})
	th := a.Thresholds()
	assert.Equal(t, 0.6, th[MetricCPUUsage])
	assert.Equal(t, 0.05, th[MetricErrorRate])
	assert.Equal(t, 1000.0, th[MetricThroughput])

	task := monitoringTask("t1")
	require.True(t, a.AssignTask(context.Background(), task))
	require.Len(t, task.Result().(MonitoringReport).Anomalies, 1)
}

func TestMonitoringAgent_TelemetryFailureFailsTask(t *testing.T) {
	source := MetricsSourceFunc(func(context.Context) (SystemMetrics, error) {
		return SystemMetrics{}, errors.New("scrape failed")
	})
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{Threshold: 2}, nil)
	a, err := NewMonitoringAgent(MonitoringConfig{Agent: agent.Config{ID: "m"}}, source, nil, breakers, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		task := monitoringTask(string(rune('a' + i)))
		assert.False(t, a.AssignTask(context.Background(), task))
	}
	assert.Equal(t, circuitbreaker.StateOpen, breakers.Get("telemetry").State())
}

func TestMonitoringAgent_OptimizeTogglesPredictions(t *testing.T) {
	a := newMonitor(t, StaticMetrics(SystemMetrics{}), mocks.NewMockCompleter(), MonitoringConfig{})
	require.True(t, a.PredictionsEnabled())

	failing := []agent.Outcome{{Success: false}, {Success: false}, {Success: true}}
	require.NoError(t, a.Optimize(context.Background(), failing))
	assert.False(t, a.PredictionsEnabled())
	require.NoError(t, a.Optimize(context.Background(), failing))
	assert.False(t, a.PredictionsEnabled())

	require.NoError(t, a.Optimize(context.Background(), nil))
	assert.True(t, a.PredictionsEnabled())
}

func TestNewMonitoringAgent_Validation(t *testing.T) {
	_, err := NewMonitoringAgent(MonitoringConfig{}, StaticMetrics(SystemMetrics{}), nil, nil, nil)
	assert.Error(t, err)
	_, err = NewMonitoringAgent(MonitoringConfig{Agent: agent.Config{ID: "m"}}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestMonitoringAgent_PanickingSourceFailsTask(t *testing.T) {
	source := MetricsSourceFunc(func(context.Context) (SystemMetrics, error) {
		panic("scraper crashed")
	})
	a := newMonitor(t, source, nil, MonitoringConfig{})

	task := monitoringTask("t1")
	assert.False(t, a.AssignTask(context.Background(), task))
	assert.Equal(t, workflow.TaskFailed, task.Status())
	assert.Contains(t, task.Error(), "scraper crashed")
}

func TestMonitoringAgent_PanickingPredictionIsBestEffort(t *testing.T) {
	c := mocks.NewMockCompleter().WithHandler(func(context.Context, string, llm.GenerateOptions) (string, error) {
		panic("completion client crashed")
	})
	a := newMonitor(t, StaticMetrics(SystemMetrics{CPUUsage: 0.1}), c, MonitoringConfig{})

	task := monitoringTask("t1")
	require.True(t, a.AssignTask(context.Background(), task), task.Error())
	report := task.Result().(MonitoringReport)
	assert.Empty(t, report.Predictions)
	assert.NotNil(t, report.Alerts)
}
