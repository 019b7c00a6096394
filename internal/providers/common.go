package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmgateway/gateway/internal/config"
)

// buildChatRequest constructs a standard OpenAI-compatible chat completions
// POST request. Every adapter except Ollama (which uses its own /api/chat
// shape) and the Anthropic-passthrough legacy path shares this builder.
func buildChatRequest(ctx context.Context, baseURL, apiKey string, body []byte, stream bool) (*http.Request, error) {
	url := strings.TrimRight(baseURL, "/") + "/chat/completions"

	payload, err := setStreamFlag(body, stream)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return req, nil
}

func setStreamFlag(body []byte, stream bool) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal chat body: %w", err)
	}

	payload["stream"] = stream

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat body: %w", err)
	}

	return out, nil
}

type modelsListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// fetchModelList calls the platform's /models endpoint and extracts model
// IDs from the standard OpenAI-shaped {"data": [{"id": ...}]} response.
func fetchModelList(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: unexpected status %d", resp.StatusCode)
	}

	var parsed modelsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}

	return ids, nil
}

// testConnectionViaModelList is the default TestConnection behavior shared
// by every adapter that can enumerate models: reachable and authenticated
// iff ListModels succeeds and returns at least one entry.
func testConnectionViaModelList(ctx context.Context, platform config.Platform, list func(context.Context, config.Platform) ([]string, error)) error {
	models, err := list(ctx, platform)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}

	if len(models) == 0 {
		return fmt.Errorf("test connection: platform reported no models")
	}

	return nil
}
