package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 按依赖名称分配熔断器，首次使用时创建，
// 与 registry 同生命周期
type Registry struct {
	template Config
	logger   *zap.Logger

	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
}

// NewRegistry 创建 registry，所有熔断器共用模板配置
// Template.Name 被忽略，每个熔断器以依赖名称命名
func NewRegistry(template *Config, logger *zap.Logger) *Registry {
	if template == nil {
		template = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		template: *template,
		logger:   logger,
		breakers: make(map[string]CircuitBreaker),
	}
}

// Get 返回 name 对应的熔断器，不存在时创建
func (r *Registry) Get(name string) CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := r.template
	cfg.Name = name
	cb = NewCircuitBreaker(&cfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// Snapshots 返回所有已知熔断器的状态，按名称排序
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
