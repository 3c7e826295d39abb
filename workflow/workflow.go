package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
)

// Status 工作流生命周期状态
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// IsTerminal 是否为 completed 或 failed，paused 不是终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CompletionPolicy 所有任务进入终态后决定工作流的最终状态
type CompletionPolicy int

const (
	// PartialSuccess 即使部分任务失败也标记为完成，
	// 失败只体现在 Performance 中
	PartialSuccess CompletionPolicy = iota
	// AllOrNothing 任一任务失败则工作流失败
	AllOrNothing
)

func (p CompletionPolicy) String() string {
	if p == AllOrNothing {
		return "all_or_nothing"
	}
	return "partial_success"
}

// ParseCompletionPolicy 解析 "partial_success" 或 "all_or_nothing"
func ParseCompletionPolicy(s string) (CompletionPolicy, error) {
	switch s {
	case "", "partial_success":
		return PartialSuccess, nil
	case "all_or_nothing":
		return AllOrNothing, nil
	}
	return PartialSuccess, fmt.Errorf("unknown completion policy %q", s)
}

// Performance 工作流任务结果的汇总
type Performance struct {
	TotalTasks             int     `json:"total_tasks"`
	CompletedTasks         int     `json:"completed_tasks"`
	FailedTasks            int     `json:"failed_tasks"`
	AverageExecutionTimeMs float64 `json:"average_execution_time_ms"`
}

// Workflow 围绕单一目标的任务图，只有创建它的协调器会修改它
type Workflow struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time

	mu          sync.RWMutex
	agents      []types.AgentDescriptor
	tasks       []*Task
	status      Status
	perf        Performance
	recorded    map[string]bool
	totalExecMs float64
	plan        string
	completedAt time.Time
}

// New 创建 planning 状态的工作流，并保存 Agent 快照
func New(name, description string, agents []types.AgentDescriptor) *Workflow {
	snap := make([]types.AgentDescriptor, len(agents))
	for i, a := range agents {
		snap[i] = a.Clone()
	}
	return &Workflow{
		ID:          "wf_" + uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
		agents:      snap,
		status:      StatusPlanning,
		recorded:    make(map[string]bool),
	}
}

// AddTask 追加任务，仅在 planning 状态下允许
func (w *Workflow) AddTask(t *Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPlanning {
		return fmt.Errorf("%w: add task to %s workflow", ErrInvalidTransition, w.status)
	}
	w.tasks = append(w.tasks, t)
	w.perf.TotalTasks = len(w.tasks)
	return nil
}

// SetPlan 保存建议方案文本
func (w *Workflow) SetPlan(plan string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.plan = plan
}

// Plan 返回建议方案文本
func (w *Workflow) Plan() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.plan
}

// Begin planning -> executing
func (w *Workflow) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPlanning {
		return fmt.Errorf("%w: workflow %s %s -> %s", ErrInvalidTransition, w.ID, w.status, StatusExecuting)
	}
	w.status = StatusExecuting
	return nil
}

// Pause 把执行中的工作流标记为 paused，剩余任务保持 pending
func (w *Workflow) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusExecuting {
		return fmt.Errorf("%w: workflow %s %s -> %s", ErrInvalidTransition, w.ID, w.status, StatusPaused)
	}
	w.status = StatusPaused
	return nil
}

// RecordOutcome 把终态任务计入汇总计数，同一任务重复记录不生效
func (w *Workflow) RecordOutcome(t *Task) {
	snap := t.Snapshot()
	if !snap.Status.IsTerminal() {
		types.Invariant("workflow %s: recording non-terminal task %s (%s)", w.ID, t.ID, snap.Status)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recorded[t.ID] {
		return
	}
	w.recorded[t.ID] = true

	if snap.Status == TaskCompleted {
		w.perf.CompletedTasks++
		w.totalExecMs += float64(t.Duration()) / float64(time.Millisecond)
		w.perf.AverageExecutionTimeMs = w.totalExecMs / float64(w.perf.CompletedTasks)
	} else {
		w.perf.FailedTasks++
	}
	if w.perf.CompletedTasks+w.perf.FailedTasks > w.perf.TotalTasks {
		types.Invariant("workflow %s: completed(%d)+failed(%d) > total(%d)",
			w.ID, w.perf.CompletedTasks, w.perf.FailedTasks, w.perf.TotalTasks)
	}
}

// Finalize 按 policy 把执行中的工作流转入终态
// 所有任务必须已进入终态并已记录
func (w *Workflow) Finalize(policy CompletionPolicy) Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusExecuting {
		types.Invariant("workflow %s: finalize from %s", w.ID, w.status)
	}
	if w.perf.CompletedTasks+w.perf.FailedTasks != w.perf.TotalTasks {
		types.Invariant("workflow %s: finalize with %d/%d tasks recorded",
			w.ID, w.perf.CompletedTasks+w.perf.FailedTasks, w.perf.TotalTasks)
	}

	w.status = StatusCompleted
	if policy == AllOrNothing && w.perf.FailedTasks > 0 {
		w.status = StatusFailed
	}
	w.completedAt = time.Now()
	return w.status
}

// Status 返回当前状态
func (w *Workflow) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Performance 返回汇总计数
func (w *Workflow) Performance() Performance {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.perf
}

// Tasks 按分派顺序返回任务列表
func (w *Workflow) Tasks() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*Task(nil), w.tasks...)
}

// TaskByID 按 ID 查找任务
func (w *Workflow) TaskByID(id string) (*Task, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, t := range w.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Agents 返回创建时的 Agent 描述快照
func (w *Workflow) Agents() []types.AgentDescriptor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.AgentDescriptor, len(w.agents))
	for i, a := range w.agents {
		out[i] = a.Clone()
	}
	return out
}

// Snapshot 工作流的时间点副本
type Snapshot struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Agents      []types.AgentDescriptor `json:"agents"`
	Tasks       []TaskSnapshot          `json:"tasks"`
	Status      Status                  `json:"status"`
	Performance Performance             `json:"performance"`
	Plan        string                  `json:"plan,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt time.Time               `json:"completed_at,omitempty"`
}

// Snapshot 返回工作流及其任务的副本
func (w *Workflow) Snapshot() Snapshot {
	agents := w.Agents()
	tasks := w.Tasks()

	w.mu.RLock()
	defer w.mu.RUnlock()
	snap := Snapshot{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Agents:      agents,
		Tasks:       make([]TaskSnapshot, len(tasks)),
		Status:      w.status,
		Performance: w.perf,
		Plan:        w.plan,
		CreatedAt:   w.CreatedAt,
		CompletedAt: w.completedAt,
	}
	for i, t := range tasks {
		snap.Tasks[i] = t.Snapshot()
	}
	return snap
}
