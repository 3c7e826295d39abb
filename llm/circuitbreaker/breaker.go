package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Name 被保护依赖的名称，仅用于日志与回调
	Name string

	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int

	// Timeout 单次调用超时时间，超时视同依赖失败
	Timeout time.Duration

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开状态下允许的试探请求数
	HalfOpenMaxCalls int

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from State, to State)

	// Now 时钟，测试时可替换
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Snapshot 熔断器的只读视图，用于健康报告
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误且不执行 fn
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// CallWithResult 执行调用并返回结果
	CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// State 获取当前状态
	State() State

	// Snapshot 获取状态快照
	Snapshot() Snapshot

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// 错误定义
var (
	ErrCircuitOpen            = types.NewError(types.ErrCircuitOpen, "circuit breaker is open")
	ErrTooManyCallsInHalfOpen = types.NewError(types.ErrCircuitOpen, "too many calls in half-open state")
	ErrCallTimeout            = types.NewError(types.ErrTimeout, "call timed out")
	ErrCallPanicked           = types.NewError(types.ErrExecutionFailed, "protected call panicked")
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeNeutral 调用方主动取消或客户端错误，不计入成功或失败
	outcomeNeutral
)

type transition struct {
	from, to State
}

// breaker 熔断器实现
type breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int       // 连续失败次数
	lastFailureTime   time.Time // 最后失败时间
	halfOpenCallCount int       // 半开状态下的调用次数
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &breaker{
		config: &cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("dependency", cfg.Name)),
		state:  StateClosed,
	}
}

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// CallWithResult 实现 CircuitBreaker.CallWithResult
// 核心逻辑：状态机转换 + 失败计数 + 超时控制
func (b *breaker) CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	go func() {
		// fn 在独立 goroutine 中运行，panic 必须在这里捕获，否则会终止进程
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{panicked: true, recovered: r, stack: debug.Stack()}
			}
		}()
		result, err := fn(callCtx)
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		if callerCancelled(ctx) {
			b.afterCall(outcomeNeutral)
			return nil, ctx.Err()
		}
		b.afterCall(outcomeFailure)
		return nil, ErrCallTimeout.WithCause(callCtx.Err())

	case res := <-resultCh:
		if res.panicked {
			return nil, b.onPanic(res)
		}
		switch {
		case res.err == nil:
			b.afterCall(outcomeSuccess)
		// 客户端错误（如无效请求）既不证明依赖健康，也不计入熔断失败
		case types.IsClientError(res.err):
			b.afterCall(outcomeNeutral)
		case callerCancelled(ctx):
			b.afterCall(outcomeNeutral)
		default:
			b.afterCall(outcomeFailure)
		}
		if res.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !types.IsErrorCode(res.err, types.ErrTimeout) {
				return nil, ErrCallTimeout.WithCause(res.err)
			}
			return nil, res.err
		}
		return res.result, nil
	}
}

// callerCancelled 调用方主动取消（而非超时）时返回 true
func callerCancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

type callResult struct {
	result any
	err    error

	panicked  bool
	recovered any
	stack     []byte
}

// onPanic 把受保护调用中的 panic 记为一次依赖失败并转换为错误。
// 不变量违反属于核心自身缺陷，在调用方 goroutine 上重新 panic。
func (b *breaker) onPanic(res callResult) error {
	if e, ok := res.recovered.(*types.Error); ok && e.Code == types.ErrInvariantViolation {
		b.afterCall(outcomeNeutral)
		panic(e)
	}
	b.afterCall(outcomeFailure)
	b.logger.Error("protected call panicked",
		zap.Any("recover", res.recovered),
		zap.ByteString("stack", res.stack))
	return ErrCallPanicked.WithCause(fmt.Errorf("%v", res.recovered))
}

// beforeCall 调用前检查
func (b *breaker) beforeCall() error {
	b.mu.Lock()
	var fired []transition
	defer func() {
		b.mu.Unlock()
		b.notify(fired)
	}()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.config.Now().Sub(b.lastFailureTime) >= b.config.ResetTimeout {
			fired = append(fired, b.setState(StateHalfOpen))
			// 本次调用即为试探请求
			b.halfOpenCallCount = 1
			b.logger.Info("circuit breaker half-open, allowing trial call")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	}
	return ErrCircuitOpen
}

// afterCall 调用后处理
func (b *breaker) afterCall(o outcome) {
	b.mu.Lock()
	var fired []transition
	defer func() {
		b.mu.Unlock()
		b.notify(fired)
	}()

	switch o {
	case outcomeSuccess:
		fired = b.onSuccess()
	case outcomeFailure:
		fired = b.onFailure()
	case outcomeNeutral:
		if b.state == StateHalfOpen && b.halfOpenCallCount > 0 {
			b.halfOpenCallCount--
		}
	}
}

// onSuccess 处理成功调用：任何成功都回到 closed 并清零计数
func (b *breaker) onSuccess() []transition {
	var fired []transition
	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker recovered")
	}
	if b.state != StateClosed {
		fired = append(fired, b.setState(StateClosed))
	}
	b.failureCount = 0
	b.halfOpenCallCount = 0
	return fired
}

// onFailure 处理失败调用
func (b *breaker) onFailure() []transition {
	b.failureCount++
	b.lastFailureTime = b.config.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			return []transition{b.setState(StateOpen)}
		}

	case StateHalfOpen:
		b.logger.Warn("circuit breaker trial call failed, reopening")
		b.halfOpenCallCount = 0
		return []transition{b.setState(StateOpen)}
	}
	return nil
}

// setState 设置状态，回调由调用方在释放锁后触发
func (b *breaker) setState(newState State) transition {
	t := transition{from: b.state, to: newState}
	b.state = newState
	return t
}

func (b *breaker) notify(fired []transition) {
	if b.config.OnStateChange == nil {
		return
	}
	for _, t := range fired {
		b.config.OnStateChange(b.config.Name, t.from, t.to)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 实现 CircuitBreaker.Snapshot
func (b *breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:          b.config.Name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureTime,
	}
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	var fired []transition
	if b.state != StateClosed {
		fired = append(fired, b.setState(StateClosed))
	}
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset")
	b.notify(fired)
}
