package providers

import (
	"context"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// OpenRouterAdapter talks to OpenRouter's OpenAI-compatible chat endpoint.
// OpenRouter rejects a tool_choice field when no tools are present, so the
// request transcoder drops it in that case; tool schemas are otherwise
// folded into the inline XML grammar rather than forwarded natively, since
// the gateway's streaming transcoder expects that convention regardless of
// upstream.
type OpenRouterAdapter struct{}

func NewOpenRouterAdapter() *OpenRouterAdapter {
	return &OpenRouterAdapter{}
}

func (a *OpenRouterAdapter) Platform() config.PlatformType {
	return config.PlatformOpenRouter
}

func (a *OpenRouterAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorOpenRouter
}

func (a *OpenRouterAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{DropToolChoiceIfNoTools: true}
}

func (a *OpenRouterAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	req, err := buildChatRequest(ctx, platform.BaseURL, platform.APIKey, body, stream)
	if err != nil {
		return nil, err
	}

	// OpenRouter uses these headers for its own usage attribution; harmless
	// to omit but nice citizenship when present.
	req.Header.Set("HTTP-Referer", "https://github.com/llmgateway/gateway")
	req.Header.Set("X-Title", "llmgateway")

	return req, nil
}

func (a *OpenRouterAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	return fetchModelList(ctx, platform.BaseURL, platform.APIKey)
}

func (a *OpenRouterAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
