package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/llm"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"go.uber.org/zap"
)

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "/v1/chat/completions", p.cfg.EndpointPath)
	assert.Equal(t, 30*time.Second, p.cfg.Timeout)
}

func TestGenerateText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		assert.Equal(t, 64, req.MaxTokens)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-test"}, zap.NewNop())
	text, err := p.GenerateText(context.Background(), "hello", llm.GenerateOptions{Temperature: 0.3, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestGenerateText_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   types.ErrorCode
		client bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, types.ErrUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, types.ErrRateLimited, false},
		{"quota", http.StatusBadRequest, `{"error":{"message":"insufficient quota"}}`, types.ErrQuotaExceeded, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad field"}}`, types.ErrInvalidRequest, true},
		{"server error", http.StatusInternalServerError, `boom`, types.ErrProviderUnavailable, false},
		{"gateway timeout", http.StatusGatewayTimeout, ``, types.ErrTimeout, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New(Config{ProviderName: "compat", BaseURL: srv.URL}, nil)
			_, err := p.GenerateText(context.Background(), "x", llm.GenerateOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.want, types.GetErrorCode(err))
			assert.Equal(t, tt.client, types.IsClientError(err))

			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, "compat", e.Provider)
		})
	}
}

func TestGenerateText_ErrorMessageExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"model not allowed"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}, nil).GenerateText(context.Background(), "x", llm.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not allowed")
}

func TestGenerateText_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}, nil).GenerateText(context.Background(), "x", llm.GenerateOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
}

func TestGenerateText_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}, nil).GenerateText(context.Background(), "x", llm.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))
}

func TestGenerateText_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := p.GenerateText(context.Background(), "x", llm.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
}
