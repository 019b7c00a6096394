// Package providers contains thin per-platform adapters. An adapter's only
// job is to know how to list a platform's models, build the outbound HTTP
// request for a chat call, and declare which streaming flavor its chunks
// use — format and streaming transcoding itself lives in
// internal/transcode, shared across every adapter.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/transcode"
)

// Adapter is the contract every platform integration implements. Adapters
// must forward streamed content verbatim; they never reinterpret or
// reshape it themselves.
type Adapter interface {
	// Platform identifies which config.PlatformType this adapter serves.
	Platform() config.PlatformType

	// Flavor reports the streaming chunk shape this platform emits, used by
	// transcode.Convert to pick the right chunk dispatcher.
	Flavor() transcode.Flavor

	// BuildRequest constructs the outbound HTTP request for a chat call
	// against the given platform configuration. body is the already
	// platform-shaped request produced by transcode.ToOpenAIChat.
	BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error)

	// ListModels returns the model IDs currently available on the
	// platform. Adapters that cannot discover this at runtime fall back to
	// a curated default list.
	ListModels(ctx context.Context, platform config.Platform) ([]string, error)

	// TestConnection reports whether the platform is reachable and the
	// credentials are valid. The default implementation is "ListModels
	// returns a non-empty list without error".
	TestConnection(ctx context.Context, platform config.Platform) error
}

// Registry maps a config.PlatformType to its adapter.
type Registry struct {
	adapters map[config.PlatformType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[config.PlatformType]Adapter),
	}
}

// Register adds an adapter to the registry, keyed by its own Platform().
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Platform()] = adapter
}

// Get retrieves the adapter registered for a platform type.
func (r *Registry) Get(platformType config.PlatformType) (Adapter, bool) {
	adapter, exists := r.adapters[platformType]
	return adapter, exists
}

// List returns every registered platform type.
func (r *Registry) List() []config.PlatformType {
	names := make([]config.PlatformType, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}

	return names
}

// Initialize registers the six built-in platform adapters.
func (r *Registry) Initialize() {
	r.Register(NewDashScopeAdapter())
	r.Register(NewOpenRouterAdapter())
	r.Register(NewOllamaAdapter())
	r.Register(NewLMStudioAdapter())
	r.Register(NewSiliconFlowAdapter())
	r.Register(NewOpenAICompatAdapter())
}

// ErrNoAdapterAvailable is returned when a platform type has no registered
// adapter, e.g. a routing config references a platform that was never
// registered.
var ErrNoAdapterAvailable = fmt.Errorf("no adapter available for platform")
