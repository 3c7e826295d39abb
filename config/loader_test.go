// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 0.1, cfg.Performance.Alpha)
	assert.Equal(t, time.Hour, cfg.Performance.LookbackWindow)

	th := cfg.Monitoring.Thresholds()
	assert.Equal(t, 0.05, th["error_rate"])
	assert.Equal(t, 5000.0, th["response_time"])
	assert.Equal(t, 0.8, th["cpu_usage"])
	assert.Equal(t, 0.9, th["memory_usage"])

	assert.Equal(t, "@every 1h", cfg.Optimization.Schedule)
	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := `
breaker:
  failure_threshold: 3
  recovery_timeout: 10s
performance:
  alpha: 0.2
monitoring:
  cpu_usage: 0.7
llm:
  default_provider: deepseek
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := newTestLoader(nil).WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 0.2, cfg.Performance.Alpha)
	assert.Equal(t, 0.7, cfg.Monitoring.CPUUsage)
	assert.Equal(t, "deepseek", cfg.LLM.DefaultProvider)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 0.9, cfg.Monitoring.MemoryUsage)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker: [unclosed"), 0o600))

	_, err := newTestLoader(nil).WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker:\n  failure_threshold: 3\n"), 0o600))

	cfg, err := newTestLoader(map[string]string{
		"ORCHESTRATOR_BREAKER_FAILURE_THRESHOLD": "7",
		"ORCHESTRATOR_BREAKER_RECOVERY_TIMEOUT":  "2m",
		"ORCHESTRATOR_PERFORMANCE_ALPHA":         "0.25",
		"ORCHESTRATOR_NATS_ENABLED":              "true",
		"ORCHESTRATOR_LOG_OUTPUT_PATHS":          "stdout, /tmp/orchestrator.log",
	}).WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 0.25, cfg.Performance.Alpha)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"stdout", "/tmp/orchestrator.log"}, cfg.Log.OutputPaths)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	_, err := newTestLoader(map[string]string{
		"ORCHESTRATOR_BREAKER_FAILURE_THRESHOLD": "many",
	}).Load()
	assert.Error(t, err)
}

func TestLoader_Validators(t *testing.T) {
	_, err := newTestLoader(map[string]string{
		"ORCHESTRATOR_PERFORMANCE_ALPHA": "1.5",
	}).WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "failure_threshold"},
		{"negative monitoring threshold", func(c *Config) { c.Monitoring.CPUUsage = -1 }, "cpu_usage"},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"empty schedule", func(c *Config) { c.Optimization.Schedule = " " }, "schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
