package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashScopeBuildRequestSetsStreamFlag(t *testing.T) {
	adapter := NewDashScopeAdapter()

	platform := config.Platform{
		Type:    config.PlatformDashScope,
		APIKey:  "test-key",
		BaseURL: "https://dashscope.example.com/compatible-mode/v1",
	}

	req, err := adapter.BuildRequest(context.Background(), platform, "qwen-plus", []byte(`{"model":"qwen-plus","messages":[]}`), true)
	require.NoError(t, err)

	assert.Equal(t, "https://dashscope.example.com/compatible-mode/v1/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
}

func TestDashScopeListModelsFallsBackToDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewDashScopeAdapter()
	platform := config.Platform{BaseURL: server.URL}

	models, err := adapter.ListModels(context.Background(), platform)
	require.NoError(t, err)
	assert.Equal(t, defaultDashScopeModels, models)
}

func TestDashScopeRequestOptionsClampsMaxTokens(t *testing.T) {
	adapter := NewDashScopeAdapter()
	assert.Equal(t, 8192, adapter.RequestOptions().MaxTokensClamp)
}

func TestDashScopeRequestOptionsDropsMetadata(t *testing.T) {
	adapter := NewDashScopeAdapter()
	assert.Contains(t, adapter.RequestOptions().DropFields, "metadata")
}
