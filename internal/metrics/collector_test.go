package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/coordinator"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/specialist"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	coretest "github.com/toobutta/auterity-workflow-studio-sub004/testutil"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// 编译期接口检查
var (
	_ llm.CallObserver             = (*Collector)(nil)
	_ agent.TaskObserver           = (*Collector)(nil)
	_ coordinator.WorkflowObserver = (*Collector)(nil)
	_ specialist.MetricsSource     = (*RuntimeSampler)(nil)
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector("", zap.NewNop())
	require.NotNil(t, collector)
	assert.NotNil(t, collector.Registry())

	// 独立 Registry：两个收集器可以同时存在
	other := NewCollector("", nil)
	assert.NotSame(t, collector.Registry(), other.Registry())
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordHTTPRequest("GET", "/status", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/status", 204, 50*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/workflows", 503, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/status", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/workflows", "5xx")))
}

func TestCollector_ObserveCompletion(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ObserveCompletion("openai", "workflow_plan", 200*time.Millisecond, nil)
	collector.ObserveCompletion("openai", "workflow_plan", time.Second, types.NewError(types.ErrTimeout, "slow"))
	collector.ObserveCompletion("openai", "", time.Second, errors.New("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.completionsTotal.WithLabelValues("openai", "workflow_plan", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.completionsTotal.WithLabelValues("openai", "workflow_plan", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.completionsTotal.WithLabelValues("openai", "untagged", "error")))
}

func TestCollector_ObserveTask(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ObserveTask("exec-1", "execution", true, 10*time.Millisecond, 1.0)
	collector.ObserveTask("exec-1", "execution", false, 30*time.Millisecond, 0.9)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("exec-1", "execution", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("exec-1", "execution", "failed")))
	assert.Equal(t, 0.9, testutil.ToFloat64(collector.agentSuccessRate.WithLabelValues("exec-1")))
	assert.Equal(t, int64(2), collector.taskCount.Load())
	assert.Equal(t, int64(1), collector.taskFailures.Load())
}

func TestCollector_BreakerTransitions(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())
	cfg := circuitbreaker.DefaultConfig()
	cfg.Threshold = 1
	cfg.OnStateChange = collector.ObserveBreakerTransition
	breakers := circuitbreaker.NewRegistry(cfg, nil)

	err := breakers.Get("telemetry").Call(context.Background(), func(context.Context) error {
		return errors.New("down")
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.breakerTransitions.WithLabelValues("telemetry", "closed", "open")))
	assert.Equal(t, float64(circuitbreaker.StateOpen), testutil.ToFloat64(collector.breakerState.WithLabelValues("telemetry")))
}

func TestCollector_ObserveWorkflow(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())
	collector.ObserveWorkflow(string(workflow.StatusCompleted), workflow.Performance{TotalTasks: 1}, time.Second)
	collector.ObserveWorkflow(string(workflow.StatusPaused), workflow.Performance{}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowsTotal.WithLabelValues("paused")))
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())
	collector.ObserveTask("exec-1", "execution", true, time.Millisecond, 1)
	require.NoError(t, collector.RegisterGaugeFunc("test_bus_dropped_events", "dropped", func() float64 { return 3 }))
	assert.Error(t, collector.RegisterGaugeFunc("test_bus_dropped_events", "dropped", func() float64 { return 3 }))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `test_tasks_total{agent_id="exec-1",status="completed",task_type="execution"} 1`)
	assert.Contains(t, string(body), "test_bus_dropped_events 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {301, "3xx"}, {404, "4xx"}, {500, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}

// =============================================================================
// 🩺 RuntimeSampler 测试
// =============================================================================

func TestRuntimeSampler_TaskRates(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())
	sampler := NewRuntimeSampler(collector)
	base := time.Now()
	sampler.now = func() time.Time { return base.Add(2 * time.Second) }

	collector.ObserveTask("a", "execution", true, 100*time.Millisecond, 1)
	collector.ObserveTask("a", "execution", true, 300*time.Millisecond, 1)
	collector.ObserveTask("a", "execution", false, 200*time.Millisecond, 0.9)
	collector.ObserveTask("a", "execution", false, 200*time.Millisecond, 0.8)
	collector.ConnectionOpened()
	collector.ConnectionOpened()
	collector.ConnectionClosed()

	sampler.last.at = base
	m, err := sampler.Sample(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.InDelta(t, 200.0, m.ResponseTimeMs, 1e-6)
	assert.InDelta(t, 2.0, m.Throughput, 1e-9)
	assert.Equal(t, 1.0, m.ActiveConnections)
	assert.GreaterOrEqual(t, m.CPUUsage, 0.0)
	assert.LessOrEqual(t, m.CPUUsage, 1.0)
	assert.Greater(t, m.MemoryUsage, 0.0)
	assert.LessOrEqual(t, m.MemoryUsage, 1.0)

	// 没有新任务：速率归零
	sampler.now = func() time.Time { return base.Add(4 * time.Second) }
	m, err = sampler.Sample(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.ErrorRate)
	assert.Zero(t, m.Throughput)
}

func TestRuntimeSampler_CancelledContext(t *testing.T) {
	sampler := NewRuntimeSampler(NewCollector("test", nil))
	_, err := sampler.Sample(coretest.CancelledContext())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuntimeSampler_FeedsMonitoringAgent(t *testing.T) {
	collector := NewCollector("test", nil)
	sampler := NewRuntimeSampler(collector)
	monitor, err := specialist.NewMonitoringAgent(specialist.MonitoringConfig{
		Agent: agent.Config{ID: "monitor"},
	}, sampler, nil, nil, nil, agent.WithTaskObserver(collector))
	require.NoError(t, err)

	task := workflow.NewTask(workflow.TaskSpec{Type: workflow.TaskMonitoring})
	require.True(t, monitor.AssignTask(context.Background(), task), task.Error())
	_, ok := task.Result().(specialist.MonitoringReport)
	assert.True(t, ok)
	assert.Equal(t, int64(1), collector.taskCount.Load())
}
