package providers

import (
	"context"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// defaultLMStudioModels covers the common case of a fresh LM Studio install
// with nothing loaded yet.
var defaultLMStudioModels = []string{"local-model"}

// LMStudioAdapter talks to a local LM Studio server, which exposes an
// OpenAI-compatible /v1 surface. API keys are typically unset for local
// installs; BuildRequest omits the Authorization header when the
// configured key is empty.
type LMStudioAdapter struct{}

func NewLMStudioAdapter() *LMStudioAdapter {
	return &LMStudioAdapter{}
}

func (a *LMStudioAdapter) Platform() config.PlatformType {
	return config.PlatformLMStudio
}

func (a *LMStudioAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorLMStudio
}

func (a *LMStudioAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{}
}

func (a *LMStudioAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	return buildChatRequest(ctx, platform.BaseURL, platform.APIKey, body, stream)
}

func (a *LMStudioAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	models, err := fetchModelList(ctx, platform.BaseURL, platform.APIKey)
	if err != nil || len(models) == 0 {
		return defaultLMStudioModels, nil
	}

	return models, nil
}

func (a *LMStudioAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
