package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
)

// TaskType 任务所代表的工作类型
type TaskType string

const (
	TaskOptimization TaskType = "optimization"
	TaskMonitoring   TaskType = "monitoring"
	TaskExecution    TaskType = "execution"
	TaskAnalysis     TaskType = "analysis"
	TaskCoordination TaskType = "coordination"
)

// Valid 是否为已知任务类型
func (t TaskType) Valid() bool {
	switch t {
	case TaskOptimization, TaskMonitoring, TaskExecution, TaskAnalysis, TaskCoordination:
		return true
	}
	return false
}

// RequiredCapability 任务类型到 Agent 必须声明的能力的映射
func RequiredCapability(t TaskType) types.Capability {
	switch t {
	case TaskOptimization:
		return types.CapabilityOptimization
	case TaskMonitoring:
		return types.CapabilityMonitoring
	case TaskExecution:
		return types.CapabilityExecution
	case TaskAnalysis:
		return types.CapabilityAnalysis
	case TaskCoordination:
		return types.CapabilityCoordination
	}
	return ""
}

// Priority 任务优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// TaskStatus 任务生命周期状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal 是否为 completed 或 failed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ErrInvalidTransition 不允许的状态转换
var ErrInvalidTransition = errors.New("invalid state transition")

// TaskSpec 待创建任务的描述，是调用方传入的线上格式
// （context["tasks"]、HTTP、CLI）
type TaskSpec struct {
	ID           string         `json:"id,omitempty" yaml:"id"`
	Type         TaskType       `json:"type" yaml:"type"`
	Description  string         `json:"description" yaml:"description"`
	Priority     Priority       `json:"priority,omitempty" yaml:"priority"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies"`
	Context      map[string]any `json:"context,omitempty" yaml:"context"`
}

// Task 工作单元。身份字段在构造时确定，
// 生命周期字段只通过 Claim、Start、Complete、Fail 改变
type Task struct {
	ID           string
	Type         TaskType
	Description  string
	Priority     Priority
	Dependencies []string
	Context      map[string]any

	mu          sync.RWMutex
	assignedTo  string
	status      TaskStatus
	result      any
	err         string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewTask 根据 spec 构造 pending 任务，缺少 ID 时自动生成，
// 缺少优先级时默认 medium
func NewTask(spec TaskSpec) *Task {
	id := spec.ID
	if id == "" {
		id = "task_" + uuid.NewString()
	}
	prio := spec.Priority
	if prio == "" {
		prio = PriorityMedium
	}
	ctx := spec.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &Task{
		ID:           id,
		Type:         spec.Type,
		Description:  spec.Description,
		Priority:     prio,
		Dependencies: append([]string(nil), spec.Dependencies...),
		Context:      ctx,
		status:       TaskPending,
		createdAt:    time.Now(),
	}
}

// Claim 把任务分配给 agentID，仅对未分配的 pending 任务成功
func (t *Task) Claim(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.assignedTo != "" || t.status != TaskPending {
		return false
	}
	t.assignedTo = agentID
	return true
}

// Start pending -> in_progress
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskPending {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.ID, t.status, TaskInProgress)
	}
	t.status = TaskInProgress
	t.startedAt = time.Now()
	return nil
}

// Complete 记录成功结果
func (t *Task) Complete(result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskInProgress {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.ID, t.status, TaskCompleted)
	}
	t.status = TaskCompleted
	t.result = result
	t.completedAt = time.Now()
	return nil
}

// Fail 记录失败。pending 任务可直接失败
// （分派失败与依赖失败都不会开始执行）
func (t *Task) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.ID, t.status, TaskFailed)
	}
	t.status = TaskFailed
	t.err = reason
	t.completedAt = time.Now()
	return nil
}

// Status 返回当前状态
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// AssignedTo 返回认领的 Agent ID，未认领时为 ""
func (t *Task) AssignedTo() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.assignedTo
}

// Result 返回成功结果
func (t *Task) Result() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Error 返回失败原因
func (t *Task) Error() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Duration 从 Start 到进入终态的时长，未执行过的任务为 0
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() || t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}

// TaskSnapshot 任务的时间点副本
type TaskSnapshot struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"type"`
	Description  string         `json:"description"`
	Priority     Priority       `json:"priority"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       TaskStatus     `json:"status"`
	Context      map[string]any `json:"context,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
}

// Snapshot 返回任务副本
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskSnapshot{
		ID:           t.ID,
		Type:         t.Type,
		Description:  t.Description,
		Priority:     t.Priority,
		AssignedTo:   t.assignedTo,
		Dependencies: append([]string(nil), t.Dependencies...),
		Status:       t.status,
		Context:      t.Context,
		Result:       t.result,
		Error:        t.err,
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		CompletedAt:  t.completedAt,
	}
}

var inferenceRules = []struct {
	taskType TaskType
	keywords []string
}{
	{TaskMonitoring, []string{"monitor", "health", "status", "metric", "alert", "anomal", "watch"}},
	{TaskOptimization, []string{"optimiz", "optimis", "improve", "tune", "speed up", "reduce cost", "efficien"}},
	{TaskAnalysis, []string{"analy", "report", "insight", "investigat", "assess", "evaluat"}},
	{TaskExecution, []string{"execute", "run", "deploy", "apply", "process", "send"}},
}

// InferTaskType 根据自由文本描述推断任务类型
// 规则按顺序检查，首个命中的关键词生效，无法识别的描述按 execution 处理
func InferTaskType(description string) TaskType {
	lower := strings.ToLower(description)
	for _, rule := range inferenceRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.taskType
			}
		}
	}
	return TaskExecution
}

// ValidateDependencies 检查任务列表中对未知 ID 的依赖以及依赖环，
// 返回每个无法分派的任务 ID 及原因
func ValidateDependencies(tasks []*Task) map[string]string {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	bad := make(map[string]string)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				bad[t.ID] = "unknown dependency: " + dep
				break
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}
		recStack[id] = false
		return false
	}
	for _, t := range tasks {
		if !visited[t.ID] && hasCycle(t.ID) {
			for id, onStack := range recStack {
				if onStack {
					bad[id] = "dependency cycle detected involving task: " + t.ID
				}
			}
			// 重置栈，保证后续根节点从干净状态开始遍历
			for id := range recStack {
				recStack[id] = false
			}
		}
	}
	return bad
}
