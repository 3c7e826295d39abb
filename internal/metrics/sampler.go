package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/specialist"
)

// RuntimeSampler 基于收集器自身的 registry 实现 specialist.MetricsSource，
// 速率按与上一次采样之间的间隔计算
type RuntimeSampler struct {
	c      *Collector
	numCPU int
	now    func() time.Time

	mu   sync.Mutex
	last samplePoint
}

type samplePoint struct {
	at         time.Time
	cpuSeconds float64
	tasks      int64
	failures   int64
	nanos      int64
}

// NewRuntimeSampler 基于 c 创建采样器
func NewRuntimeSampler(c *Collector) *RuntimeSampler {
	s := &RuntimeSampler{c: c, numCPU: runtime.NumCPU(), now: time.Now}
	families, _ := c.registry.Gather()
	s.last = s.point(families)
	return s
}

func (s *RuntimeSampler) point(families []*dto.MetricFamily) samplePoint {
	return samplePoint{
		at:         s.now(),
		cpuSeconds: metricValue(families, "process_cpu_seconds_total"),
		tasks:      s.c.taskCount.Load(),
		failures:   s.c.taskFailures.Load(),
		nanos:      s.c.taskNanos.Load(),
	}
}

// Sample 实现 specialist.MetricsSource
func (s *RuntimeSampler) Sample(ctx context.Context) (specialist.SystemMetrics, error) {
	if err := ctx.Err(); err != nil {
		return specialist.SystemMetrics{}, err
	}
	families, err := s.c.registry.Gather()
	if err != nil {
		return specialist.SystemMetrics{}, fmt.Errorf("gather runtime metrics: %w", err)
	}

	s.mu.Lock()
	prev := s.last
	cur := s.point(families)
	s.last = cur
	s.mu.Unlock()

	m := specialist.SystemMetrics{
		ActiveConnections: float64(s.c.connections.Load()),
	}

	wall := cur.at.Sub(prev.at).Seconds()
	if wall > 0 {
		m.CPUUsage = clamp01((cur.cpuSeconds - prev.cpuSeconds) / (wall * float64(s.numCPU)))
	}
	if sys := metricValue(families, "go_memstats_sys_bytes"); sys > 0 {
		m.MemoryUsage = clamp01(metricValue(families, "go_memstats_heap_inuse_bytes") / sys)
	}

	if tasks := cur.tasks - prev.tasks; tasks > 0 {
		m.ErrorRate = float64(cur.failures-prev.failures) / float64(tasks)
		m.ResponseTimeMs = float64(cur.nanos-prev.nanos) / float64(tasks) / float64(time.Millisecond)
		if wall > 0 {
			m.Throughput = float64(tasks) / wall
		}
	}
	return m, nil
}

// metricValue 返回 counter 或 gauge 指标族的第一个样本值，不存在时为 0
func metricValue(families []*dto.MetricFamily, name string) float64 {
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		metric := mf.GetMetric()[0]
		switch {
		case metric.GetCounter() != nil:
			return metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			return metric.GetGauge().GetValue()
		case metric.GetUntyped() != nil:
			return metric.GetUntyped().GetValue()
		}
	}
	return 0
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
