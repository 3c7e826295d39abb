package config

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是编排核心的完整启动配置
type Config struct {
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	LLM          LLMConfig          `yaml:"llm" env:"LLM"`
	Breaker      BreakerConfig      `yaml:"breaker" env:"BREAKER"`
	Performance  PerformanceConfig  `yaml:"performance" env:"PERFORMANCE"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" env:"MONITORING"`
	Bus          BusConfig          `yaml:"bus" env:"BUS"`
	Optimization OptimizationConfig `yaml:"optimization" env:"OPTIMIZATION"`
	NATS         NATSConfig         `yaml:"nats" env:"NATS"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// ServerConfig HTTP 服务配置（健康检查、指标、事件流）
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LLMConfig Text-Completion 协作方配置
type LLMConfig struct {
	// 默认 Provider，熔断器按 provider 分组
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	BaseURL         string `yaml:"base_url" env:"BASE_URL"`
	APIKey          string `yaml:"api_key" env:"API_KEY"`
	Model           string `yaml:"model" env:"MODEL"`
	// 单次调用超时
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 每个 provider 的限流，0 表示不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// PerformanceConfig Agent 绩效追踪配置
type PerformanceConfig struct {
	// EMA 平滑系数 α
	Alpha              float64       `yaml:"alpha" env:"ALPHA"`
	InitialSuccessRate float64       `yaml:"initial_success_rate" env:"INITIAL_SUCCESS_RATE"`
	HistorySize        int           `yaml:"history_size" env:"HISTORY_SIZE"`
	LookbackWindow     time.Duration `yaml:"lookback_window" env:"LOOKBACK_WINDOW"`
}

// MonitoringConfig 监控 Agent 阈值表
type MonitoringConfig struct {
	ErrorRate      float64 `yaml:"error_rate" env:"ERROR_RATE"`
	ResponseTimeMs float64 `yaml:"response_time_ms" env:"RESPONSE_TIME_MS"`
	CPUUsage       float64 `yaml:"cpu_usage" env:"CPU_USAGE"`
	MemoryUsage    float64 `yaml:"memory_usage" env:"MEMORY_USAGE"`
}

// Thresholds 返回以指标名为键的阈值表
func (m MonitoringConfig) Thresholds() map[string]float64 {
	return map[string]float64{
		"error_rate":    m.ErrorRate,
		"response_time": m.ResponseTimeMs,
		"cpu_usage":     m.CPUUsage,
		"memory_usage":  m.MemoryUsage,
	}
}

// BusConfig 通知总线配置
type BusConfig struct {
	// 每个订阅者的队列长度
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`
}

// OptimizationConfig 自优化后台任务配置
type OptimizationConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// cron 表达式，支持 @every 语法
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

// NATSConfig NATS 事件桥配置
type NATSConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 为空时启动内嵌 nats-server
	URL           string `yaml:"url" env:"URL"`
	Port          int    `yaml:"port" env:"PORT"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// RedisConfig Redis 事件桥配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Channel  string `yaml:"channel" env:"CHANNEL"`
	// 最近事件列表长度
	History int `yaml:"history" env:"HISTORY"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be positive")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		errs = append(errs, "breaker.recovery_timeout must be positive")
	}
	if c.Performance.Alpha <= 0 || c.Performance.Alpha > 1 {
		errs = append(errs, "performance.alpha must be in (0, 1]")
	}
	if c.Performance.InitialSuccessRate < 0 || c.Performance.InitialSuccessRate > 1 {
		errs = append(errs, "performance.initial_success_rate must be in [0, 1]")
	}
	for name, v := range c.Monitoring.Thresholds() {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("monitoring threshold %s must be positive", name))
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.Optimization.Enabled && strings.TrimSpace(c.Optimization.Schedule) == "" {
		errs = append(errs, "optimization.schedule is required when optimization is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
