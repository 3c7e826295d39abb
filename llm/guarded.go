package llm

import (
	"context"
	"sync"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CallObserver 每次补全尝试通知一次，包括被打开的熔断器拒绝的尝试
type CallObserver interface {
	ObserveCompletion(provider, tag string, duration time.Duration, err error)
}

// GuardedConfig 受保护 completer 的配置
type GuardedConfig struct {
	// DefaultProvider 调用未指定 provider 时使用
	DefaultProvider string
	// DefaultMaxTokens 调用的 MaxTokens 为 0 时使用
	DefaultMaxTokens int
	// RateLimit 每个 provider 的稳定速率（次/秒），为 0 时不限流
	RateLimit float64
	// Burst 每个 provider 的突发容量
	Burst int
}

// Guarded 包装 Completer，每次调用都经过该 provider 对应的熔断器
type Guarded struct {
	inner    Completer
	breakers *circuitbreaker.Registry
	config   GuardedConfig
	observer CallObserver
	tracer   trace.Tracer
	logger   *zap.Logger

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// GuardedOption 受保护 completer 的可选项
type GuardedOption func(*Guarded)

// WithObserver 挂载调用观察者（通常是指标收集器）
func WithObserver(o CallObserver) GuardedOption {
	return func(g *Guarded) { g.observer = o }
}

// NewGuarded 创建受熔断器保护的 completer
func NewGuarded(inner Completer, breakers *circuitbreaker.Registry, config GuardedConfig, logger *zap.Logger, opts ...GuardedOption) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil, logger)
	}
	if config.DefaultProvider == "" {
		config.DefaultProvider = "default"
	}
	if config.RateLimit > 0 && config.Burst <= 0 {
		config.Burst = 1
	}
	g := &Guarded{
		inner:    inner,
		breakers: breakers,
		config:   config,
		tracer:   otel.Tracer("orchestrator/llm"),
		logger:   logger.With(zap.String("component", "guarded_completer")),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Breakers 暴露 registry 供健康报告使用
func (g *Guarded) Breakers() *circuitbreaker.Registry {
	return g.breakers
}

// GenerateText 实现 Completer
func (g *Guarded) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if opts.Provider == "" {
		opts.Provider = g.config.DefaultProvider
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = g.config.DefaultMaxTokens
	}

	ctx, span := g.tracer.Start(ctx, "llm.generate_text", trace.WithAttributes(
		attribute.String("llm.provider", opts.Provider),
		attribute.String("llm.tag", opts.Tag),
	))
	defer span.End()

	if lim := g.limiter(opts.Provider); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limit wait")
			return "", err
		}
	}

	start := time.Now()
	text, err := circuitbreaker.CallWithResultTyped(g.breakers.Get(opts.Provider), ctx,
		func(ctx context.Context) (string, error) {
			return g.inner.GenerateText(ctx, prompt, opts)
		})
	elapsed := time.Since(start)

	if g.observer != nil {
		g.observer.ObserveCompletion(opts.Provider, opts.Tag, elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("text completion failed",
			zap.String("provider", opts.Provider),
			zap.String("tag", opts.Tag),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", err
	}
	return text, nil
}

func (g *Guarded) limiter(provider string) *rate.Limiter {
	if g.config.RateLimit <= 0 {
		return nil
	}
	g.limMu.Lock()
	defer g.limMu.Unlock()
	lim, ok := g.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.config.RateLimit), g.config.Burst)
		g.limiters[provider] = lim
	}
	return lim
}

// EnsureGuarded 已是 *Guarded 时原样返回，否则用 breakers 包装 c。
// 同一依赖只能有一个熔断器：多个组件共享 provider 时应传入同一个 registry，
// 或者直接共享同一个 *Guarded。breakers 为 nil 时创建私有 registry。
// c 为 nil 时返回 nil。
func EnsureGuarded(c Completer, breakers *circuitbreaker.Registry, logger *zap.Logger) *Guarded {
	if c == nil {
		return nil
	}
	if g, ok := c.(*Guarded); ok {
		return g
	}
	return NewGuarded(c, breakers, GuardedConfig{}, logger)
}
