package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/collaboration"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/coordinator"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent/specialist"
	"github.com/toobutta/auterity-workflow-studio-sub004/config"
	"github.com/toobutta/auterity-workflow-studio-sub004/internal/eventstream"
	"github.com/toobutta/auterity-workflow-studio-sub004/internal/metrics"
	"github.com/toobutta/auterity-workflow-studio-sub004/internal/natsbus"
	"github.com/toobutta/auterity-workflow-studio-sub004/internal/telemetry"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/circuitbreaker"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm/providers/openaicompat"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
	"go.uber.org/zap"
)

// 内置 Agent ID
const (
	monitorID   = "monitor"
	optimizerID = "optimizer"
	executorID  = "executor"
)

// system 持有一次进程运行期间装配好的全部组件
type system struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	collector *metrics.Collector
	breakers  *circuitbreaker.Registry
	bus       *agent.ChannelBus
	manager   *collaboration.Manager
	nats      *natsbus.Bridge
	stream    *eventstream.Stream
}

// buildSystem 装配编排核心。任何一步失败都会释放已创建的组件。
func buildSystem(cfg *config.Config, logger *zap.Logger) (_ *system, err error) {
	s := &system{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	if s.telemetry, err = telemetry.Init(cfg.Telemetry, logger); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s.collector = metrics.NewCollector("orchestrator", logger)
	s.breakers = circuitbreaker.NewRegistry(&circuitbreaker.Config{
		Threshold:        cfg.Breaker.FailureThreshold,
		Timeout:          cfg.Breaker.CallTimeout,
		ResetTimeout:     cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: 1,
		OnStateChange:    s.collector.ObserveBreakerTransition,
	}, logger)

	s.bus = agent.NewEventBus(cfg.Bus.SubscriberBuffer, logger)
	if err = s.collector.RegisterGaugeFunc("orchestrator_event_bus_dropped_events",
		"Events dropped because a subscriber queue was full.",
		func() float64 { return float64(s.bus.Dropped()) }); err != nil {
		return nil, err
	}

	completer := newCompleter(cfg, s.breakers, s.collector, logger)
	opts := []agent.Option{agent.WithEventBus(s.bus), agent.WithTaskObserver(s.collector)}

	coord, err := coordinator.New(coordinator.Config{
		Agent:       agentConfig(cfg, "coordinator"),
		Provider:    cfg.LLM.DefaultProvider,
		Breakers:    s.breakers,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Observer:    s.collector,
	}, completer, logger, opts...)
	if err != nil {
		return nil, err
	}

	schedule := ""
	if cfg.Optimization.Enabled {
		schedule = cfg.Optimization.Schedule
	}
	managerOpts := []collaboration.Option{
		collaboration.WithEventBus(s.bus),
		collaboration.WithBreakers(s.breakers),
	}
	if completer != nil {
		managerOpts = append(managerOpts, collaboration.WithCompleter(completer))
	}
	s.manager, err = collaboration.NewManager(collaboration.Config{
		Provider:             cfg.LLM.DefaultProvider,
		MaxTokens:            cfg.LLM.MaxTokens,
		OptimizationSchedule: schedule,
	}, coord, logger, managerOpts...)
	if err != nil {
		return nil, err
	}

	if err = s.registerSpecialists(completer, opts); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		if s.nats, err = natsbus.Connect(cfg.NATS, logger); err != nil {
			return nil, err
		}
		s.nats.Attach(s.bus)
		if err = s.nats.ServeViolations(s.manager); err != nil {
			return nil, err
		}
	}
	if cfg.Redis.Enabled {
		if s.stream, err = eventstream.New(cfg.Redis, logger); err != nil {
			return nil, err
		}
		s.stream.Attach(s.bus)
	}
	return s, nil
}

// newCompleter 在配置了 API Key 时返回受熔断保护的 completer，否则返回 nil，
// 此时规划与预测等建议性调用被跳过。
func newCompleter(cfg *config.Config, breakers *circuitbreaker.Registry, observer llm.CallObserver, logger *zap.Logger) llm.Completer {
	if cfg.LLM.APIKey == "" {
		logger.Info("no LLM API key configured, advisory completions disabled")
		return nil
	}
	provider := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.DefaultProvider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
	}, logger)
	return llm.NewGuarded(provider, breakers, llm.GuardedConfig{
		DefaultProvider:  cfg.LLM.DefaultProvider,
		DefaultMaxTokens: cfg.LLM.MaxTokens,
		RateLimit:        cfg.LLM.RateLimitRPS,
		Burst:            cfg.LLM.RateLimitBurst,
	}, logger, llm.WithObserver(observer))
}

func agentConfig(cfg *config.Config, id string) agent.Config {
	return agent.Config{
		ID: id,
		Tracker: agent.TrackerConfig{
			Alpha:              cfg.Performance.Alpha,
			InitialSuccessRate: cfg.Performance.InitialSuccessRate,
			HistorySize:        cfg.Performance.HistorySize,
		},
		Lookback: cfg.Performance.LookbackWindow,
	}
}

func (s *system) registerSpecialists(completer llm.Completer, opts []agent.Option) error {
	sampler := metrics.NewRuntimeSampler(s.collector)

	monitor, err := specialist.NewMonitoringAgent(specialist.MonitoringConfig{
		Agent:      agentConfig(s.cfg, monitorID),
		Thresholds: s.cfg.Monitoring.Thresholds(),
		Provider:   s.cfg.LLM.DefaultProvider,
	}, sampler, completer, s.breakers, s.logger, opts...)
	if err != nil {
		return err
	}
	if err := s.manager.RegisterAgent(monitor); err != nil {
		return err
	}

	executor, err := specialist.NewExecutorAgent(specialist.ExecutorConfig{
		Agent:            agentConfig(s.cfg, executorID),
		DefaultOperation: "sample_metrics",
		Timeout:          s.cfg.Breaker.CallTimeout,
	}, builtinOperations(sampler), s.breakers, s.logger, opts...)
	if err != nil {
		return err
	}
	if err := s.manager.RegisterAgent(executor); err != nil {
		return err
	}

	if completer == nil {
		return nil
	}
	optimizer, err := specialist.NewOptimizationAgent(specialist.OptimizationConfig{
		Agent:       agentConfig(s.cfg, optimizerID),
		Provider:    s.cfg.LLM.DefaultProvider,
		Breakers:    s.breakers,
		Temperature: s.cfg.LLM.Temperature,
		MaxTokens:   s.cfg.LLM.MaxTokens,
	}, completer, s.logger, opts...)
	if err != nil {
		return err
	}
	return s.manager.RegisterAgent(optimizer)
}

// builtinOperations 执行 Agent 的内置操作
func builtinOperations(source specialist.MetricsSource) map[string]specialist.Operation {
	return map[string]specialist.Operation{
		"sample_metrics": specialist.OperationFunc(func(ctx context.Context, _ *workflow.Task) (any, error) {
			return source.Sample(ctx)
		}),
		"collect_garbage": specialist.OperationFunc(func(context.Context, *workflow.Task) (any, error) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			runtime.GC()
			runtime.ReadMemStats(&after)
			return map[string]uint64{
				"heap_inuse_before": before.HeapInuse,
				"heap_inuse_after":  after.HeapInuse,
			}, nil
		}),
	}
}

// Start 启动后台优化调度
func (s *system) Start(ctx context.Context) error {
	return s.manager.Start(ctx)
}

// Close 按依赖逆序释放组件
func (s *system) Close(ctx context.Context) error {
	var errs []error
	if s.manager != nil {
		errs = append(errs, s.manager.Close(ctx))
	}
	// 先关闭总线，确保已入队事件投递到桥接端
	if s.bus != nil {
		s.bus.Close()
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
