package providers

import (
	"context"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// OpenAICompatAdapter is the generic fallback adapter for any endpoint that
// speaks the OpenAI chat completions wire format but isn't one of the other
// five named platforms — self-hosted vLLM/TGI deployments, proxies, and the
// like. Operators supply base_url directly.
type OpenAICompatAdapter struct{}

func NewOpenAICompatAdapter() *OpenAICompatAdapter {
	return &OpenAICompatAdapter{}
}

func (a *OpenAICompatAdapter) Platform() config.PlatformType {
	return config.PlatformOpenAICompat
}

func (a *OpenAICompatAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorOpenAI
}

func (a *OpenAICompatAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{}
}

func (a *OpenAICompatAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	return buildChatRequest(ctx, platform.BaseURL, platform.APIKey, body, stream)
}

func (a *OpenAICompatAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	return fetchModelList(ctx, platform.BaseURL, platform.APIKey)
}

func (a *OpenAICompatAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
