package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/handlers"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/store"
)

// TestProxyIntegration exercises the full global_direct pipeline end to end:
// admission, routing, request transcoding, a real (httptest) upstream call,
// and response transcoding back into an Anthropic-shaped payload.
func TestProxyIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-provider-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "Hello there!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3}
		}`)
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DatabasePath: ":memory:",
		Platforms: []config.Platform{
			{Type: config.PlatformOpenAICompat, APIKey: "test-provider-key", BaseURL: upstream.URL, Enabled: true},
		},
		Models: []config.Model{
			{Platform: config.PlatformOpenAICompat, ModelID: "test-model", Enabled: true, Priority: 1},
		},
		Routing: config.RoutingConfig{
			Mode:          config.ModeGlobalDirect,
			ModelPriority: []string{"openai_compatible:test-model"},
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.Open(tmpDir + "/gateway_test.db")
	require.NoError(t, err)
	defer st.Close()

	key, err := st.CreateKey(t.Context(), "integration-test", 0, nil)
	require.NoError(t, err)

	registry := providers.NewRegistry()
	registry.Initialize()

	handler := handlers.NewProxyHandler(cfgMgr, st, registry, logger)

	requestBody := map[string]any{
		"model": "test-model",
		"messages": []map[string]any{
			{"role": "user", "content": "Hello, world!"},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key.APIKey)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "assistant", resp["role"])
}

// TestProxyIntegration_RejectsUnadmittedKey confirms a request bearing an
// unrecognized API key never reaches the upstream platform.
func TestProxyIntegration_RejectsUnadmittedKey(t *testing.T) {
	cfg := &config.Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DatabasePath: ":memory:",
		Platforms: []config.Platform{
			{Type: config.PlatformOpenAICompat, BaseURL: "http://127.0.0.1:0", Enabled: true},
		},
		Routing: config.RoutingConfig{
			Mode:          config.ModeGlobalDirect,
			ModelPriority: []string{"openai_compatible:test-model"},
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.Open(tmpDir + "/gateway_test.db")
	require.NoError(t, err)
	defer st.Close()

	registry := providers.NewRegistry()
	registry.Initialize()

	handler := handlers.NewProxyHandler(cfgMgr, st, registry, logger)

	jsonBody, err := json.Marshal(map[string]any{
		"model":    "test-model",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer not-a-real-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
