package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			BaseURL:         "https://api.openai.com",
			Model:           "gpt-4o-mini",
			Timeout:         30 * time.Second,
			Temperature:     0.3,
			MaxTokens:       1024,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			CallTimeout:      30 * time.Second,
		},
		Performance: PerformanceConfig{
			Alpha:              0.1,
			InitialSuccessRate: 1.0,
			HistorySize:        256,
			LookbackWindow:     time.Hour,
		},
		Monitoring: MonitoringConfig{
			ErrorRate:      0.05,
			ResponseTimeMs: 5000,
			CPUUsage:       0.8,
			MemoryUsage:    0.9,
		},
		Bus: BusConfig{
			SubscriberBuffer: 256,
		},
		Optimization: OptimizationConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
		NATS: NATSConfig{
			Enabled:       false,
			Port:          4222,
			SubjectPrefix: "orchestrator.events",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "orchestrator:events",
			History: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "workflow-orchestrator",
			SampleRate:   0.1,
		},
	}
}
