package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/collaboration"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// Orchestrator 是 HTTP 层依赖的协作管理器操作集合，*collaboration.Manager 实现该接口
type Orchestrator interface {
	GetSystemStatus() collaboration.SystemStatus
	ExecuteAutonomousWorkflow(ctx context.Context, description string, taskContext map[string]any) collaboration.WorkflowResult
	EmergencyStop(reason string)
	Resume()
	Collaborations() []workflow.CollaborationSnapshot
	ReportViolation(agentID, description, severity string) error
}

// RecentEvents 提供事件回放，通常由 eventstream.Stream 实现
type RecentEvents interface {
	Recent(ctx context.Context, n int) ([]agent.Event, error)
}

// ConnectionTracker 统计 WebSocket 连接数
type ConnectionTracker interface {
	ConnectionOpened()
	ConnectionClosed()
}

// HandlerOption 定制路由
type HandlerOption func(*handler)

// WithMetricsHandler 挂载 /metrics
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(s *handler) { s.metrics = h }
}

// WithRequestRecorder 记录每个请求的指标
func WithRequestRecorder(rec RequestRecorder) HandlerOption {
	return func(s *handler) { s.recorder = rec }
}

// WithEventBus 启用 /events WebSocket 事件流
func WithEventBus(bus agent.EventBus) HandlerOption {
	return func(s *handler) { s.bus = bus }
}

// WithRecentEvents 启用 /events?replay=N 回放
func WithRecentEvents(r RecentEvents) HandlerOption {
	return func(s *handler) { s.recent = r }
}

// WithConnectionTracker 统计事件流连接
func WithConnectionTracker(t ConnectionTracker) HandlerOption {
	return func(s *handler) { s.conns = t }
}

// WithWorkflowTimeout 限制单次 POST /workflows 的执行时长，0 表示仅受请求上下文约束
func WithWorkflowTimeout(d time.Duration) HandlerOption {
	return func(s *handler) { s.workflowTimeout = d }
}

type handler struct {
	orch            Orchestrator
	metrics         http.Handler
	recorder        RequestRecorder
	bus             agent.EventBus
	recent          RecentEvents
	conns           ConnectionTracker
	workflowTimeout time.Duration
	logger          *zap.Logger
}

// NewHandler 构建完整路由并包裹中间件
func NewHandler(orch Orchestrator, logger *zap.Logger, opts ...HandlerOption) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		orch:   orch,
		logger: logger.With(zap.String("component", "http_api")),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("POST /workflows", h.executeWorkflow)
	mux.HandleFunc("POST /emergency-stop", h.emergencyStop)
	mux.HandleFunc("POST /resume", h.resume)
	mux.HandleFunc("GET /collaborations", h.collaborations)
	mux.HandleFunc("POST /violations", h.reportViolation)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	if h.bus != nil {
		mux.HandleFunc("GET /events", h.events)
	}

	return Chain(mux,
		Recovery(h.logger),
		RequestLogger(h.logger),
		Metrics(h.recorder),
	)
}

// =============================================================================
// 🏥 健康与状态
// =============================================================================

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, h.orch.GetSystemStatus())
}

func (h *handler) collaborations(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, h.orch.Collaborations())
}

// =============================================================================
// 🚀 工作流
// =============================================================================

// WorkflowRequest POST /workflows 请求体
type WorkflowRequest struct {
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
}

func (h *handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, types.NewError(types.ErrInvalidRequest, "description is required"), h.logger)
		return
	}

	ctx := r.Context()
	if h.workflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.workflowTimeout)
		defer cancel()
	}

	result := h.orch.ExecuteAutonomousWorkflow(ctx, req.Description, req.Context)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, Response{Success: result.Success, Data: result, Timestamp: time.Now()})
}

// =============================================================================
// 🛑 控制面
// =============================================================================

// EmergencyStopRequest POST /emergency-stop 请求体，可省略
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (h *handler) emergencyStop(w http.ResponseWriter, r *http.Request) {
	var req EmergencyStopRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err, h.logger)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "requested via API"
	}
	h.logger.Warn("emergency stop requested", zap.String("reason", req.Reason), zap.String("remote", r.RemoteAddr))
	h.orch.EmergencyStop(req.Reason)
	writeSuccess(w, map[string]string{"status": "stopped", "reason": req.Reason})
}

func (h *handler) resume(w http.ResponseWriter, _ *http.Request) {
	h.orch.Resume()
	writeSuccess(w, map[string]string{"status": "resumed"})
}

// ViolationRequest POST /violations 请求体
type ViolationRequest struct {
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

func (h *handler) reportViolation(w http.ResponseWriter, r *http.Request) {
	var req ViolationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	if req.AgentID == "" || req.Description == "" {
		writeError(w, types.NewError(types.ErrInvalidRequest, "agent_id and description are required"), h.logger)
		return
	}
	if err := h.orch.ReportViolation(req.AgentID, req.Description, req.Severity); err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Success: true, Data: req, Timestamp: time.Now()})
}
