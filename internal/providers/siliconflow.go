package providers

import (
	"context"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// defaultSiliconFlowModels mirrors SiliconFlow's commonly-offered hosted
// catalog, used when live discovery fails.
var defaultSiliconFlowModels = []string{
	"Qwen/Qwen2.5-72B-Instruct",
	"deepseek-ai/DeepSeek-V2.5",
	"meta-llama/Meta-Llama-3.1-70B-Instruct",
}

// SiliconFlowAdapter talks to SiliconFlow's OpenAI-compatible chat endpoint.
type SiliconFlowAdapter struct{}

func NewSiliconFlowAdapter() *SiliconFlowAdapter {
	return &SiliconFlowAdapter{}
}

func (a *SiliconFlowAdapter) Platform() config.PlatformType {
	return config.PlatformSiliconFlow
}

func (a *SiliconFlowAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorOpenAI
}

func (a *SiliconFlowAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{}
}

func (a *SiliconFlowAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	return buildChatRequest(ctx, platform.BaseURL, platform.APIKey, body, stream)
}

func (a *SiliconFlowAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	models, err := fetchModelList(ctx, platform.BaseURL, platform.APIKey)
	if err != nil || len(models) == 0 {
		return defaultSiliconFlowModels, nil
	}

	return models, nil
}

func (a *SiliconFlowAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
