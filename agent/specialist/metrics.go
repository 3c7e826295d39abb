package specialist

import "context"

// SystemMetrics 某一时刻的遥测快照
type SystemMetrics struct {
	CPUUsage          float64 `json:"cpu_usage"`
	MemoryUsage       float64 `json:"memory_usage"`
	ErrorRate         float64 `json:"error_rate"`
	ResponseTimeMs    float64 `json:"response_time_ms"`
	ActiveConnections float64 `json:"active_connections"`
	Throughput        float64 `json:"throughput"`
}

// Values 以阈值表中的指标名为键返回快照
func (m SystemMetrics) Values() map[string]float64 {
	return map[string]float64{
		MetricCPUUsage:          m.CPUUsage,
		MetricMemoryUsage:       m.MemoryUsage,
		MetricErrorRate:         m.ErrorRate,
		MetricResponseTime:      m.ResponseTimeMs,
		MetricActiveConnections: m.ActiveConnections,
		MetricThroughput:        m.Throughput,
	}
}

// 阈值表与异常中使用的指标名
const (
	MetricCPUUsage          = "cpu_usage"
	MetricMemoryUsage       = "memory_usage"
	MetricErrorRate         = "error_rate"
	MetricResponseTime      = "response_time"
	MetricActiveConnections = "active_connections"
	MetricThroughput        = "throughput"
)

// DefaultThresholds 返回默认阈值表
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		MetricErrorRate:    0.05,
		MetricResponseTime: 5000,
		MetricCPUUsage:     0.8,
		MetricMemoryUsage:  0.9,
	}
}

// MetricsSource 遥测协作方
type MetricsSource interface {
	Sample(ctx context.Context) (SystemMetrics, error)
}

// MetricsSourceFunc 函数适配器
type MetricsSourceFunc func(ctx context.Context) (SystemMetrics, error)

// Sample 实现 MetricsSource
func (f MetricsSourceFunc) Sample(ctx context.Context) (SystemMetrics, error) {
	return f(ctx)
}

// StaticMetrics 返回始终报告 m 的数据源
func StaticMetrics(m SystemMetrics) MetricsSource {
	return MetricsSourceFunc(func(context.Context) (SystemMetrics, error) { return m, nil })
}
