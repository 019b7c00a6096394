package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	responses map[string]string
	err       error
}

func (f *fakeCompleter) Complete(ctx context.Context, platformType config.PlatformType, modelID string, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	key := fmt.Sprintf("%s:%s", platformType, modelID)
	return f.responses[key], nil
}

func scenesFixture() []config.Scene {
	return []config.Scene{
		{Name: "default", Description: "general chit-chat", Models: []string{"openrouter:openai/gpt-4o-mini"}},
		{Name: "coding", Description: "programming questions", Models: []string{"dashscope:qwen-max"}},
	}
}

// allLoaded treats every platform as having a loaded adapter, for tests
// that aren't exercising fallback behavior.
func allLoaded(config.PlatformType) bool { return true }

func TestSmartRouterClassifiesAndResolvesScene(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		"openrouter:judge-model": "2",
	}}

	r := NewSmartRouter(completer, []string{"openrouter:judge-model"}, scenesFixture(), allLoaded)

	result := r.Route(context.Background(), "how do I reverse a linked list in Go?")

	require.True(t, result.Success)
	assert.Equal(t, config.PlatformDashScope, result.PlatformType)
	assert.Equal(t, "qwen-max", result.ModelID)
	assert.Equal(t, "coding", result.SceneName)
}

func TestSmartRouterFallsBackToFirstSceneWhenClassificationFails(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("upstream unreachable")}

	r := NewSmartRouter(completer, []string{"openrouter:judge-model"}, scenesFixture(), allLoaded)

	result := r.Route(context.Background(), "anything")

	require.True(t, result.Success)
	assert.Equal(t, "default", result.SceneName)
}

func TestSmartRouterNoScenesConfigured(t *testing.T) {
	r := NewSmartRouter(&fakeCompleter{}, nil, nil, allLoaded)

	result := r.Route(context.Background(), "anything")

	assert.False(t, result.Success)
}

func TestSmartRouterSkipsSceneModelsWithoutLoadedAdapter(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		"openrouter:judge-model": "2",
	}}
	scenes := []config.Scene{
		{Name: "default", Description: "general chit-chat", Models: []string{"openrouter:openai/gpt-4o-mini"}},
		{Name: "coding", Description: "programming questions", Models: []string{"dashscope:qwen-max", "ollama:llama3"}},
	}
	onlyOllama := func(platformType config.PlatformType) bool { return platformType == config.PlatformOllama }

	r := NewSmartRouter(completer, []string{"openrouter:judge-model"}, scenes, onlyOllama)

	result := r.Route(context.Background(), "how do I reverse a linked list in Go?")

	require.True(t, result.Success)
	assert.Equal(t, config.PlatformOllama, result.PlatformType)
	assert.Equal(t, "llama3", result.ModelID)
}

func TestGlobalDirectRouterReturnsFirstLoadedEntry(t *testing.T) {
	r := NewGlobalDirectRouter([]string{"openrouter:openai/gpt-4o-mini", "dashscope:qwen-max"}, allLoaded)

	result := r.Route(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, config.PlatformOpenRouter, result.PlatformType)
	assert.Equal(t, "openai/gpt-4o-mini", result.ModelID)
}

func TestGlobalDirectRouterSkipsEntriesWithoutLoadedAdapter(t *testing.T) {
	onlyDashscope := func(platformType config.PlatformType) bool { return platformType == config.PlatformDashScope }

	r := NewGlobalDirectRouter([]string{"openrouter:openai/gpt-4o-mini", "dashscope:qwen-max"}, onlyDashscope)

	result := r.Route(context.Background())

	require.True(t, result.Success, "should fall through to the second entry when the first has no loaded adapter")
	assert.Equal(t, config.PlatformDashScope, result.PlatformType)
	assert.Equal(t, "qwen-max", result.ModelID)
}

func TestGlobalDirectRouterFailsWhenNoEntryHasALoadedAdapter(t *testing.T) {
	noneLoaded := func(config.PlatformType) bool { return false }

	r := NewGlobalDirectRouter([]string{"openrouter:openai/gpt-4o-mini", "dashscope:qwen-max"}, noneLoaded)

	result := r.Route(context.Background())

	assert.False(t, result.Success)
}

func TestGlobalDirectRouterEmptyPriorityList(t *testing.T) {
	r := NewGlobalDirectRouter(nil, allLoaded)

	result := r.Route(context.Background())

	assert.False(t, result.Success)
}

func TestManagerDispatchesByMode(t *testing.T) {
	manager := NewManager(config.RoutingConfig{
		Mode:          config.ModeGlobalDirect,
		ModelPriority: []string{"ollama:llama3"},
	}, nil, allLoaded)

	result := manager.Route(context.Background(), "")

	require.True(t, result.Success)
	assert.Equal(t, config.PlatformOllama, result.PlatformType)
}

func TestManagerClaudeCodeModeIsNotRoutable(t *testing.T) {
	manager := NewManager(config.RoutingConfig{Mode: config.ModeClaudeCode}, nil, allLoaded)

	result := manager.Route(context.Background(), "")

	assert.False(t, result.Success)
}

func TestParseSceneNumberExtractsFirstDigitSequence(t *testing.T) {
	n, ok := parseSceneNumber("  2\n")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = parseSceneNumber("no digits here")
	assert.False(t, ok)
}
