package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// defaultOllamaModels is reported when the local instance's own /api/tags
// listing fails, e.g. it hasn't pulled anything yet.
var defaultOllamaModels = []string{"llama3", "qwen2.5", "mistral"}

// OllamaAdapter talks to a local Ollama instance. Ollama's chat endpoint
// differs from the OpenAI shape: it lives at /api/chat (not
// /v1/chat/completions), and non-streaming/streaming responses are both
// newline-delimited JSON objects rather than SSE frames, so BuildRequest
// bypasses the shared OpenAI-compatible builder entirely.
type OllamaAdapter struct{}

func NewOllamaAdapter() *OllamaAdapter {
	return &OllamaAdapter{}
}

func (a *OllamaAdapter) Platform() config.PlatformType {
	return config.PlatformOllama
}

func (a *OllamaAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorOllama
}

func (a *OllamaAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{}
}

func (a *OllamaAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal ollama chat body: %w", err)
	}

	payload["model"] = modelID
	payload["stream"] = stream

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama chat body: %w", err)
	}

	url := strings.TrimRight(platform.BaseURL, "/") + "/api/chat"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build ollama chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (a *OllamaAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	url := strings.TrimRight(platform.BaseURL, "/") + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ollama tags request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return defaultOllamaModels, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return defaultOllamaModels, nil
	}

	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return defaultOllamaModels, nil
	}

	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}

	if len(names) == 0 {
		return defaultOllamaModels, nil
	}

	return names, nil
}

func (a *OllamaAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
