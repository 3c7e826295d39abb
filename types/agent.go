package types

import (
	"slices"
	"time"
)

// Role is the specialization of an agent.
type Role string

const (
	RoleOptimizer   Role = "optimizer"
	RoleMonitor     Role = "monitor"
	RoleExecutor    Role = "executor"
	RoleCoordinator Role = "coordinator"
	RoleSpecialist  Role = "specialist"
)

// Capability is a tag declaring which task types an agent may accept.
type Capability string

const (
	CapabilityOptimization Capability = "optimization"
	CapabilityMonitoring   Capability = "monitoring"
	CapabilityExecution    Capability = "execution"
	CapabilityAnalysis     Capability = "analysis"
	CapabilityCoordination Capability = "coordination"
)

// Autonomy governs whether a human-approval gate is consulted before a task runs.
type Autonomy string

const (
	AutonomySupervised      Autonomy = "supervised"
	AutonomySemiAutonomous  Autonomy = "semi_autonomous"
	AutonomyFullyAutonomous Autonomy = "fully_autonomous"
)

// AgentPerformance is the mutable part of a descriptor, written only by the
// owning agent after each terminal task.
type AgentPerformance struct {
	SuccessRate           float64   `json:"success_rate"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	TasksCompleted        int64     `json:"tasks_completed"`
	LastActiveAt          time.Time `json:"last_active_at,omitempty"`
}

// AgentDescriptor is an agent's identity and capability declaration.
type AgentDescriptor struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Role           Role             `json:"role"`
	Capabilities   []Capability     `json:"capabilities"`
	Specialization string           `json:"specialization,omitempty"`
	Priority       int              `json:"priority"`
	Autonomy       Autonomy         `json:"autonomy"`
	Performance    AgentPerformance `json:"performance"`
}

// HasCapability reports whether the descriptor declares c.
func (d AgentDescriptor) HasCapability(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// Clone returns a copy that shares no slices with d.
func (d AgentDescriptor) Clone() AgentDescriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}
