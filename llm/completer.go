package llm

import (
	"context"

	"github.com/toobutta/auterity-workflow-studio-sub004/types"
)

// GenerateOptions 单次文本补全的调用选项
type GenerateOptions struct {
	// Provider 选择后端模型服务，同时作为熔断器的键
	Provider string `json:"provider,omitempty"`
	// Temperature 采样温度
	Temperature float64 `json:"temperature,omitempty"`
	// MaxTokens 补全长度上限，0 表示使用 provider 默认值
	MaxTokens int `json:"max_tokens,omitempty"`
	// Tag 标记调用点，用于指标与日志（如 "optimization_plan"）
	Tag string `json:"tag,omitempty"`
}

// Completer 文本补全协作方
type Completer interface {
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// CompleterFunc 函数适配器
type CompleterFunc func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

// GenerateText 实现 Completer
func (f CompleterFunc) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return f(ctx, prompt, opts)
}

// Completer 可能返回的错误，两者都计为依赖失败
var (
	ErrProviderUnavailable = types.NewError(types.ErrProviderUnavailable, "text completion provider unavailable")
	ErrTimeout             = types.NewError(types.ErrTimeout, "text completion timed out")
)
