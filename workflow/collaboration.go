package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Strategy 协作组的决策方式
type Strategy string

const (
	StrategyHierarchical Strategy = "hierarchical"
	StrategyDemocratic   Strategy = "democratic"
	StrategyMarketBased  Strategy = "market_based"
	StrategyConsensus    Strategy = "consensus"
)

// Protocol 协作组的消息交换方式
type Protocol string

const (
	ProtocolDirect      Protocol = "direct"
	ProtocolBroadcast   Protocol = "broadcast"
	ProtocolAuction     Protocol = "auction"
	ProtocolNegotiation Protocol = "negotiation"
)

// CollaborationStatus 协作组生命周期状态
type CollaborationStatus string

const (
	CollaborationForming   CollaborationStatus = "forming"
	CollaborationActive    CollaborationStatus = "active"
	CollaborationCompleted CollaborationStatus = "completed"
	CollaborationDissolved CollaborationStatus = "dissolved"
)

// Outcome 协作组只追加日志中的一条记录
type Outcome struct {
	At      time.Time      `json:"at"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// Collaboration 追求共同目标的具名 Agent 组，独立于任何单个工作流
type Collaboration struct {
	ID        string
	Name      string
	Objective string
	AgentIDs  []string
	Strategy  Strategy
	Protocol  Protocol
	CreatedAt time.Time

	mu             sync.RWMutex
	status         CollaborationStatus
	recommendation string
	outcomes       []Outcome
}

// NewCollaboration 创建 forming 状态的协作组
func NewCollaboration(name, objective string, agentIDs []string, strategy Strategy, protocol Protocol) *Collaboration {
	return &Collaboration{
		ID:        "collab_" + uuid.NewString(),
		Name:      name,
		Objective: objective,
		AgentIDs:  append([]string(nil), agentIDs...),
		Strategy:  strategy,
		Protocol:  protocol,
		CreatedAt: time.Now(),
		status:    CollaborationForming,
	}
}

// Activate 保存策略建议并执行 forming -> active
func (c *Collaboration) Activate(recommendation string) error {
	return c.transition(CollaborationForming, CollaborationActive, func() {
		c.recommendation = recommendation
	})
}

// Complete active -> completed
func (c *Collaboration) Complete() error {
	return c.transition(CollaborationActive, CollaborationCompleted, nil)
}

// Dissolve 结束 forming 或 active 状态的协作组
func (c *Collaboration) Dissolve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != CollaborationForming && c.status != CollaborationActive {
		return fmt.Errorf("%w: collaboration %s %s -> %s", ErrInvalidTransition, c.ID, c.status, CollaborationDissolved)
	}
	c.status = CollaborationDissolved
	return nil
}

func (c *Collaboration) transition(from, to CollaborationStatus, apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != from {
		return fmt.Errorf("%w: collaboration %s %s -> %s", ErrInvalidTransition, c.ID, c.status, to)
	}
	if apply != nil {
		apply()
	}
	c.status = to
	return nil
}

// AppendOutcome 向日志追加记录，只有 active 协作组接受
func (c *Collaboration) AppendOutcome(summary string, data map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != CollaborationActive {
		return fmt.Errorf("%w: record outcome on %s collaboration", ErrInvalidTransition, c.status)
	}
	c.outcomes = append(c.outcomes, Outcome{At: time.Now(), Summary: summary, Data: data})
	return nil
}

// Status 返回当前状态
func (c *Collaboration) Status() CollaborationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// CollaborationSnapshot 协作组的时间点副本
type CollaborationSnapshot struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Objective      string              `json:"objective"`
	AgentIDs       []string            `json:"agent_ids"`
	Strategy       Strategy            `json:"strategy"`
	Protocol       Protocol            `json:"communication_protocol"`
	Status         CollaborationStatus `json:"status"`
	Recommendation string              `json:"recommendation,omitempty"`
	Outcomes       []Outcome           `json:"outcomes"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Snapshot 返回协作组副本
func (c *Collaboration) Snapshot() CollaborationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CollaborationSnapshot{
		ID:             c.ID,
		Name:           c.Name,
		Objective:      c.Objective,
		AgentIDs:       append([]string(nil), c.AgentIDs...),
		Strategy:       c.Strategy,
		Protocol:       c.Protocol,
		Status:         c.status,
		Recommendation: c.recommendation,
		Outcomes:       append([]Outcome{}, c.outcomes...),
		CreatedAt:      c.CreatedAt,
	}
}
