// Package router selects which configured platform/model a chat request is
// dispatched to. Three strategies are supported: claude_code passthrough
// (the caller handles forwarding itself), global_direct (a fixed priority
// list), and smart_routing (scene classification performed by a small
// judge model before falling back to a default scene).
package router

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/llmgateway/gateway/internal/config"
)

// Result is the outcome of routing one request.
type Result struct {
	Success      bool
	PlatformType config.PlatformType
	ModelID      string
	SceneName    string
	ErrorMessage string
}

// ChatCompleter performs a single non-streaming chat completion against a
// platform/model, returning the raw assistant message text. It is the only
// capability the router needs from the rest of the gateway, kept narrow so
// scene classification can be tested against a fake without depending on
// internal/providers.
type ChatCompleter interface {
	Complete(ctx context.Context, platformType config.PlatformType, modelID string, prompt string) (string, error)
}

// ErrRoutingNotConfigured is returned when a routing mode is selected but
// its supporting configuration (scenes, priority list) is empty.
var ErrRoutingNotConfigured = fmt.Errorf("routing not configured")

// AdapterLoaded reports whether a usable, enabled adapter is available for
// a platform type. Priority lists and scene model lists are walked in
// order and any entry that fails this check is skipped, so a request only
// fails once every configured fallback has been exhausted rather than
// failing outright on the first entry with no loaded adapter.
type AdapterLoaded func(platformType config.PlatformType) bool

var sceneNumberPattern = regexp.MustCompile(`\d+`)

// SmartRouter classifies a user prompt into one of the configured scenes
// using a cascade of routing models, then resolves the scene's own model
// list in priority order.
type SmartRouter struct {
	completer     ChatCompleter
	routingModels []string
	scenes        []config.Scene
	isLoaded      AdapterLoaded
}

func NewSmartRouter(completer ChatCompleter, routingModels []string, scenes []config.Scene, isLoaded AdapterLoaded) *SmartRouter {
	return &SmartRouter{
		completer:     completer,
		routingModels: routingModels,
		scenes:        scenes,
		isLoaded:      isLoaded,
	}
}

// Route classifies userPrompt into a scene, then walks that scene's model
// list in priority order, skipping any entry whose platform has no loaded
// adapter, until one resolves to a usable platform.
func (r *SmartRouter) Route(ctx context.Context, userPrompt string) Result {
	if len(r.scenes) == 0 {
		return Result{Success: false, ErrorMessage: ErrRoutingNotConfigured.Error()}
	}

	scene := r.detectScene(ctx, userPrompt)

	for _, spec := range scene.Models {
		platformType, modelID, err := parseModelSpec(spec)
		if err != nil {
			continue
		}

		if r.isLoaded != nil && !r.isLoaded(platformType) {
			continue
		}

		return Result{
			Success:      true,
			PlatformType: platformType,
			ModelID:      modelID,
			SceneName:    scene.Name,
		}
	}

	return Result{
		Success:      false,
		ErrorMessage: fmt.Sprintf("no available model for scene %q", scene.Name),
	}
}

// detectScene asks each routing model in turn to classify the prompt,
// falling back to the first scene (conventionally "default") if every
// routing model fails or returns an unparseable answer.
func (r *SmartRouter) detectScene(ctx context.Context, userPrompt string) config.Scene {
	judgment := buildJudgmentPrompt(userPrompt, r.scenes)

	for _, spec := range r.routingModels {
		platformType, modelID, err := parseModelSpec(spec)
		if err != nil {
			continue
		}

		response, err := r.completer.Complete(ctx, platformType, modelID, judgment)
		if err != nil {
			continue
		}

		if idx, ok := parseSceneNumber(response); ok && idx >= 1 && idx <= len(r.scenes) {
			return r.scenes[idx-1]
		}
	}

	return r.scenes[0]
}

func buildJudgmentPrompt(userPrompt string, scenes []config.Scene) string {
	var descriptions strings.Builder

	for i, scene := range scenes {
		fmt.Fprintf(&descriptions, "%d. %s: %s\n", i+1, scene.Name, scene.Description)
	}

	return fmt.Sprintf(`Classify the following user request into exactly one of the scenes below. Reply with only the scene number (1-%d) and nothing else.

User request: %s

Scenes:
%s`, len(scenes), userPrompt, descriptions.String())
}

func parseSceneNumber(response string) (int, bool) {
	match := sceneNumberPattern.FindString(strings.TrimSpace(response))
	if match == "" {
		return 0, false
	}

	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}

	return n, true
}

// GlobalDirectRouter walks a fixed "platform:model" priority list, in
// order, returning the first entry whose platform has a loaded adapter.
// Entries referencing a platform with no registered adapter are skipped
// rather than failing the request outright, so the list doubles as a
// fallback chain.
type GlobalDirectRouter struct {
	modelPriority []string
	isLoaded      AdapterLoaded
}

func NewGlobalDirectRouter(modelPriority []string, isLoaded AdapterLoaded) *GlobalDirectRouter {
	return &GlobalDirectRouter{modelPriority: modelPriority, isLoaded: isLoaded}
}

func (r *GlobalDirectRouter) Route(ctx context.Context) Result {
	for _, spec := range r.modelPriority {
		platformType, modelID, err := parseModelSpec(spec)
		if err != nil {
			continue
		}

		if r.isLoaded != nil && !r.isLoaded(platformType) {
			continue
		}

		return Result{Success: true, PlatformType: platformType, ModelID: modelID}
	}

	return Result{Success: false, ErrorMessage: "no configured model is available"}
}

func parseModelSpec(spec string) (config.PlatformType, string, error) {
	platformStr, modelID, found := strings.Cut(spec, ":")
	if !found {
		return "", "", fmt.Errorf("invalid model spec %q: expected \"platform:model_id\"", spec)
	}

	return config.PlatformType(platformStr), modelID, nil
}

// Manager dispatches to the active routing strategy for the current config
// snapshot. It holds no state of its own beyond what's constructed fresh
// from each Config via NewManager — callers rebuild it whenever the config
// reloads, matching the rest of the gateway's atomic-snapshot discipline.
type Manager struct {
	mode         config.RoutingMode
	smartRouter  *SmartRouter
	globalRouter *GlobalDirectRouter
}

// NewManager builds a routing manager for one config snapshot. completer is
// only required when routing.Mode is smart_routing. isLoaded reports
// whether a platform type has a usable adapter registered; both routers
// use it to skip priority-list/scene entries that can't actually be
// served, rather than returning an entry the pipeline can't reach.
func NewManager(routing config.RoutingConfig, completer ChatCompleter, isLoaded AdapterLoaded) *Manager {
	m := &Manager{mode: routing.Mode}

	switch routing.Mode {
	case config.ModeSmartRouting:
		m.smartRouter = NewSmartRouter(completer, routing.RoutingModels, routing.Scenes, isLoaded)
	case config.ModeGlobalDirect:
		m.globalRouter = NewGlobalDirectRouter(routing.ModelPriority, isLoaded)
	}

	return m
}

func (m *Manager) Mode() config.RoutingMode {
	return m.mode
}

// Route dispatches a chat request to the active strategy. Under
// claude_code mode, routing is a no-op: the caller is expected to forward
// the request to a configured legacy server instead of calling Route.
func (m *Manager) Route(ctx context.Context, userPrompt string) Result {
	switch m.mode {
	case config.ModeSmartRouting:
		if m.smartRouter == nil {
			return Result{Success: false, ErrorMessage: ErrRoutingNotConfigured.Error()}
		}

		return m.smartRouter.Route(ctx, userPrompt)
	case config.ModeGlobalDirect:
		if m.globalRouter == nil {
			return Result{Success: false, ErrorMessage: ErrRoutingNotConfigured.Error()}
		}

		return m.globalRouter.Route(ctx)
	default:
		return Result{Success: false, ErrorMessage: "routing not applicable in claude_code mode"}
	}
}
