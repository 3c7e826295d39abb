// MockCompleter 的文本补全协作方测试模拟实现。
//
// 支持固定响应、按调用编排、延迟与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
)

// MockCompleterCall 记录单次调用
type MockCompleterCall struct {
	Prompt  string
	Options llm.GenerateOptions
}

// MockCompleter 是 llm.Completer 的模拟实现
type MockCompleter struct {
	mu sync.Mutex

	response   string
	err        error
	responses  []string
	delay      time.Duration
	failAfter  int
	handleFunc func(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)

	calls []MockCompleterCall
}

var _ llm.Completer = (*MockCompleter)(nil)

// NewMockCompleter 创建新的 MockCompleter
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{response: "Mock response"}
}

// WithResponse 设置固定响应
func (m *MockCompleter) WithResponse(response string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithResponses 按调用顺序返回响应，用尽后回退到固定响应
func (m *MockCompleter) WithResponses(responses ...string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]string(nil), responses...)
	return m
}

// WithError 设置每次调用返回的错误
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟（尊重 ctx 取消）
func (m *MockCompleter) WithDelay(d time.Duration) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 在前 n 次调用成功后返回 WithError 设置的错误
func (m *MockCompleter) WithFailAfter(n int) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithHandler 使用自定义处理函数，优先于其他配置
func (m *MockCompleter) WithHandler(fn func(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleFunc = fn
	return m
}

// GenerateText 实现 llm.Completer
func (m *MockCompleter) GenerateText(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCompleterCall{Prompt: prompt, Options: opts})
	n := len(m.calls)
	handler, delay, err, failAfter := m.handleFunc, m.delay, m.err, m.failAfter
	response := m.response
	if len(m.responses) > 0 {
		response = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, prompt, opts)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil && n > failAfter {
		return "", err
	}
	return response, nil
}

// CallCount 返回调用次数
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回调用记录副本
func (m *MockCompleter) Calls() []MockCompleterCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCompleterCall(nil), m.calls...)
}

// LastCall 返回最后一次调用
func (m *MockCompleter) LastCall() (MockCompleterCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockCompleterCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
