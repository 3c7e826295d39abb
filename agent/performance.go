package agent

import (
	"sync"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/types"
)

// Outcome 单个任务的终态结果
type Outcome struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// TrackerConfig 绩效跟踪器配置
type TrackerConfig struct {
	// Alpha EMA 平滑系数，取值 (0,1]，默认 0.1
	Alpha float64
	// InitialSuccessRate EMA 初始值，默认 1.0
	InitialSuccessRate float64
	// HistorySize 结果历史容量，默认 256
	HistorySize int
	// Now 时钟，默认 time.Now
	Now func() time.Time
}

// DefaultTrackerConfig 返回默认配置
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Alpha:              0.1,
		InitialSuccessRate: 1.0,
		HistorySize:        256,
		Now:                time.Now,
	}
}

// Tracker 维护单个 Agent 的绩效记录
// 写入只来自所属 Agent，锁用于保护并发读取
type Tracker struct {
	cfg TrackerConfig

	mu      sync.RWMutex
	perf    types.AgentPerformance
	samples int64
	history []Outcome // 环形缓冲
	next    int
}

// NewTracker 创建跟踪器，零值字段使用默认值
// InitialSuccessRate 无法显式设为 0，需要时请使用极小的正数
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.InitialSuccessRate <= 0 || cfg.InitialSuccessRate > 1 {
		cfg.InitialSuccessRate = def.InitialSuccessRate
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Tracker{
		cfg:     cfg,
		perf:    types.AgentPerformance{SuccessRate: cfg.InitialSuccessRate},
		history: make([]Outcome, 0, cfg.HistorySize),
	}
}

// Record 记录一次终态结果
func (t *Tracker) Record(success bool, d time.Duration) {
	now := t.cfg.Now()
	o := 0.0
	if success {
		o = 1.0
	}
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.cfg.Alpha
	t.perf.SuccessRate = a*o + (1-a)*t.perf.SuccessRate
	if t.samples == 0 {
		t.perf.AverageResponseTimeMs = ms
	} else {
		t.perf.AverageResponseTimeMs = a*ms + (1-a)*t.perf.AverageResponseTimeMs
	}
	t.samples++
	t.perf.TasksCompleted++
	t.perf.LastActiveAt = now

	entry := Outcome{Success: success, Duration: d, At: now}
	if len(t.history) < t.cfg.HistorySize {
		t.history = append(t.history, entry)
	} else {
		t.history[t.next] = entry
	}
	t.next = (t.next + 1) % t.cfg.HistorySize
}

// Snapshot 返回当前绩效记录
func (t *Tracker) Snapshot() types.AgentPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perf
}

// OutcomesSince 返回 since 及之后的结果，按时间升序
func (t *Tracker) OutcomesSince(since time.Time) []Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Outcome, 0, len(t.history))
	n := len(t.history)
	start := 0
	if n == t.cfg.HistorySize {
		start = t.next
	}
	for i := 0; i < n; i++ {
		o := t.history[(start+i)%n]
		if !o.At.Before(since) {
			out = append(out, o)
		}
	}
	return out
}

// SuccessRatio 成功结果占比，空列表返回 1
func SuccessRatio(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 1
	}
	ok := 0
	for _, o := range outcomes {
		if o.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes))
}
