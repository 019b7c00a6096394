package providers

import (
	"context"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// defaultDashScopeModels is used when the platform's own model listing call
// fails or the operator hasn't configured discovery; kept in sync with
// DashScope's published Qwen lineup.
var defaultDashScopeModels = []string{
	"qwen-max",
	"qwen-plus",
	"qwen-turbo",
	"qwen-long",
}

// DashScopeAdapter talks to Alibaba Cloud's DashScope OpenAI-compatible
// endpoint. DashScope does not accept native tool/tool_choice fields on this
// compatibility path, so the request transcoder is configured to drop them
// and fold tool schemas into the system prompt instead, and max_tokens is
// clamped into DashScope's accepted [1, 8192] range.
type DashScopeAdapter struct{}

func NewDashScopeAdapter() *DashScopeAdapter {
	return &DashScopeAdapter{}
}

func (a *DashScopeAdapter) Platform() config.PlatformType {
	return config.PlatformDashScope
}

func (a *DashScopeAdapter) Flavor() transcode.Flavor {
	return transcode.FlavorQwen
}

func (a *DashScopeAdapter) RequestOptions() transcode.RequestOptions {
	return transcode.RequestOptions{MaxTokensClamp: 8192, DropFields: []string{"metadata"}, DropToolChoiceIfNoTools: true}
}

func (a *DashScopeAdapter) BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error) {
	return buildChatRequest(ctx, platform.BaseURL, platform.APIKey, body, stream)
}

func (a *DashScopeAdapter) ListModels(ctx context.Context, platform config.Platform) ([]string, error) {
	models, err := fetchModelList(ctx, platform.BaseURL, platform.APIKey)
	if err != nil || len(models) == 0 {
		return defaultDashScopeModels, nil
	}

	return models, nil
}

func (a *DashScopeAdapter) TestConnection(ctx context.Context, platform config.Platform) error {
	return testConnectionViaModelList(ctx, platform, a.ListModels)
}
