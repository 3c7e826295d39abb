package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible completer.
type Config struct {
	// ProviderName identifies the provider in errors and logs.
	ProviderName string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// BaseURL is the API root, e.g. "https://api.openai.com".
	BaseURL string
	// Model is the model name sent with every request.
	Model string
	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
}

// Provider implements llm.Completer over HTTP.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ llm.Completer = (*Provider)(nil)

// New creates a completer with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends prompt as a single user message and returns the first choice.
func (p *Provider) GenerateText(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", llm.ErrTimeout.WithCause(err).WithProvider(p.Name())
		}
		return "", llm.ErrProviderUnavailable.WithCause(err).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", MapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", llm.ErrProviderUnavailable.WithCause(err).WithProvider(p.Name())
	}
	if len(out.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "empty choices in completion response").WithProvider(p.Name())
	}
	return out.Choices[0].Message.Content, nil
}

// MapHTTPError converts an HTTP status into a coded error.
func MapHTTPError(status int, msg, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false
	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code, retryable = types.ErrRateLimited, true
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "quota"), strings.Contains(lower, "credit"):
			code = types.ErrQuotaExceeded
		case strings.Contains(lower, "context length"), strings.Contains(lower, "maximum context"):
			code = types.ErrContextTooLong
		default:
			code = types.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code, retryable = types.ErrTimeout, true
	default:
		if status >= 500 {
			code, retryable = types.ErrProviderUnavailable, true
		} else {
			code = types.ErrUpstreamError
		}
	}
	return types.NewError(code, msg).WithRetryable(retryable).WithProvider(provider)
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error body"
	}
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(data))
}
