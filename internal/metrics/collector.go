package metrics

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	registry *prometheus.Registry

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge

	// 补全调用指标
	completionsTotal   *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	// 任务指标
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	agentSuccessRate *prometheus.GaugeVec

	// 熔断器指标
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec

	// 工作流指标
	workflowsTotal   *prometheus.CounterVec
	workflowDuration prometheus.Histogram

	// 采样器使用的累计值
	taskCount    atomic.Int64
	taskFailures atomic.Int64
	taskNanos    atomic.Int64
	connections  atomic.Int64

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到独立的 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = "orchestrator"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.activeConnections = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of open streaming connections",
	})

	// 补全调用指标
	c.completionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Total number of text-completion calls",
		},
		[]string{"provider", "tag", "status"},
	)
	c.completionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_call_duration_seconds",
			Help:      "Text-completion call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "tag"},
	)

	// 任务指标
	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of terminal tasks",
		},
		[]string{"agent_id", "task_type", "status"},
	)
	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent_id", "task_type"},
	)
	c.agentSuccessRate = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_success_rate",
			Help:      "Agent success rate (exponential moving average)",
		},
		[]string{"agent_id"},
	)

	// 熔断器指标
	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
	c.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	// 工作流指标
	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished or paused workflows",
		},
		[]string{"status"},
	)
	c.workflowDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_duration_seconds",
		Help:      "Workflow duration in seconds",
		Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 300, 900},
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Registry 返回收集器的 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RegisterGaugeFunc 注册一个按需求值的 Gauge（例如事件总线丢弃数）
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ConnectionOpened 记录一个流式连接建立
func (c *Collector) ConnectionOpened() {
	c.connections.Add(1)
	c.activeConnections.Inc()
}

// ConnectionClosed 记录一个流式连接关闭
func (c *Collector) ConnectionClosed() {
	c.connections.Add(-1)
	c.activeConnections.Dec()
}

// =============================================================================
// 🤖 补全调用
// =============================================================================

// ObserveCompletion 实现 llm.CallObserver
func (c *Collector) ObserveCompletion(provider, tag string, duration time.Duration, err error) {
	if tag == "" {
		tag = "untagged"
	}
	c.completionsTotal.WithLabelValues(provider, tag, completionStatus(err)).Inc()
	c.completionDuration.WithLabelValues(provider, tag).Observe(duration.Seconds())
}

func completionStatus(err error) string {
	if err == nil {
		return "success"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

// =============================================================================
// 🎭 任务
// =============================================================================

// ObserveTask 实现 agent.TaskObserver
func (c *Collector) ObserveTask(agentID, taskType string, success bool, duration time.Duration, successRate float64) {
	status := "completed"
	if !success {
		status = "failed"
		c.taskFailures.Add(1)
	}
	c.taskCount.Add(1)
	c.taskNanos.Add(int64(duration))

	c.tasksTotal.WithLabelValues(agentID, taskType, status).Inc()
	c.taskDuration.WithLabelValues(agentID, taskType).Observe(duration.Seconds())
	c.agentSuccessRate.WithLabelValues(agentID).Set(successRate)
}

// =============================================================================
// 🔌 熔断器
// =============================================================================

// ObserveBreakerTransition 与 circuitbreaker.Config.OnStateChange 签名一致
func (c *Collector) ObserveBreakerTransition(name string, from, to circuitbreaker.State) {
	c.breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	c.breakerState.WithLabelValues(name).Set(float64(to))
	c.logger.Info("circuit breaker transition",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// =============================================================================
// 🧭 工作流
// =============================================================================

// ObserveWorkflow 实现 coordinator.WorkflowObserver
func (c *Collector) ObserveWorkflow(status string, _ workflow.Performance, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(status).Inc()
	c.workflowDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
