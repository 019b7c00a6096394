package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/store"
	"github.com/llmgateway/gateway/internal/transcode"
)

// hopByHopHeaders must never be forwarded verbatim between the client and
// an upstream server; each hop is responsible for setting its own.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// ProxyHandler implements the gateway's request pipeline: admit the caller's
// key, route to a platform/model, transcode the request, issue the
// upstream call, transcode the response, and record the interaction.
type ProxyHandler struct {
	config   *config.Manager
	store    *store.Store
	registry *providers.Registry
	logger   *slog.Logger
	client   *http.Client
}

func NewProxyHandler(cfgManager *config.Manager, st *store.Store, registry *providers.Registry, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   cfgManager,
		store:    st,
		registry: registry,
		logger:   logger,
		client:   &http.Client{},
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := h.config.Get()

	// Step 1: mode check. claude_code mode forwards verbatim to a
	// configured legacy server; it never touches admission, routing, or
	// transcoding, matching the gateway's original passthrough behavior.
	if cfg.Routing.Mode == config.ModeClaudeCode {
		h.serveLegacyPassthrough(w, r, cfg)
		return
	}

	if r.Method != http.MethodPost {
		h.httpError(w, http.StatusBadRequest, "bad_request: unsupported method %s", r.Method)
		return
	}

	// Step 3 (before step 2): the body has to be in hand before admission can
	// apply its pre-estimate heuristic, so it's read first.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "bad_request: failed to read request body: %v", err)
		return
	}

	// Step 2: admission. A cl100k_base pre-estimate of the whole request
	// body is checked against the key's remaining budget before a model is
	// even selected, so an obviously over-budget request is rejected
	// without ever reaching routing or an upstream call.
	apiKey := extractAPIKey(r)
	estimatedTokens := transcode.PreEstimateCl100k(string(body))

	userKey, err := h.store.Admit(r.Context(), apiKey, estimatedTokens)
	if err != nil {
		msg := fmt.Sprintf("authentication_error: %v", err)
		h.httpError(w, http.StatusUnauthorized, "%s", msg)

		if _, saveErr := h.store.SaveRecord(context.Background(), &store.InteractionRecord{
			Method:         r.Method,
			Path:           r.URL.Path,
			Body:           string(body),
			ResponseStatus: http.StatusUnauthorized,
			ResponseBody:   msg,
			Timestamp:      start.UTC(),
			DurationMS:     time.Since(start).Milliseconds(),
		}); saveErr != nil {
			h.logger.Warn("failed to save interaction record", "error", saveErr)
		}

		return
	}

	userPrompt := extractLastUserMessage(body)

	// Step 4: route.
	routingResult := h.routeRequest(r.Context(), cfg, userPrompt)
	if !routingResult.Success {
		h.httpError(w, http.StatusBadGateway, "routing_error: %v", routingResult.ErrorMessage)
		return
	}

	platform, ok := cfg.PlatformsByType()[routingResult.PlatformType]
	if !ok || !platform.Enabled {
		h.httpError(w, http.StatusBadGateway, "routing_error: platform %s not configured", routingResult.PlatformType)
		return
	}

	adapter, ok := h.registry.Get(routingResult.PlatformType)
	if !ok {
		h.httpError(w, http.StatusBadGateway, "routing_error: %v", providers.ErrNoAdapterAvailable)
		return
	}

	// Step 5: transcode request.
	requestOpts := transcode.RequestOptions{}
	if withOpts, ok := adapter.(interface{ RequestOptions() transcode.RequestOptions }); ok {
		requestOpts = withOpts.RequestOptions()
	}

	transcoded, err := transcode.ToOpenAIChat(body, requestOpts)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "bad_request: request transcoding failed: %v", err)
		return
	}

	stream := requestWantsStream(body)

	// Step 6+7: build request and issue upstream call.
	upstreamReq, err := adapter.BuildRequest(r.Context(), platform, routingResult.ModelID, transcoded, stream)
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "internal_error: failed to build upstream request: %v", err)
		return
	}

	h.logger.Info("proxying request",
		"platform", routingResult.PlatformType,
		"model", routingResult.ModelID,
		"scene", routingResult.SceneName,
		"stream", stream,
	)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: %v", err)
		return
	}
	defer resp.Body.Close()

	recordBase := &store.InteractionRecord{
		Method:          r.Method,
		Path:            r.URL.Path,
		Body:            string(body),
		ProcessedPrompt: string(transcoded),
		Timestamp:       start.UTC(),
		TargetPlatform:  string(routingResult.PlatformType),
		TargetModel:     routingResult.ModelID,
		PlatformBaseURL: platform.BaseURL,
		RoutingScene:    routingResult.SceneName,
		UserKeyID:       &userKey.ID,
		ResponseStatus:  resp.StatusCode,
	}

	if stream {
		h.handleStreamingResponse(w, resp, adapter, userKey, recordBase, start, userPrompt)
	} else {
		h.handleResponse(w, resp, adapter, userKey, recordBase, start, userPrompt)
	}
}

func (h *ProxyHandler) routeRequest(ctx context.Context, cfg *config.Config, userPrompt string) router.Result {
	completer := &registryCompleter{registry: h.registry, cfg: cfg}
	isLoaded := func(platformType config.PlatformType) bool {
		platform, ok := cfg.PlatformsByType()[platformType]
		if !ok || !platform.Enabled {
			return false
		}

		_, ok = h.registry.Get(platformType)

		return ok
	}
	manager := router.NewManager(cfg.Routing, completer, isLoaded)

	return manager.Route(ctx, userPrompt)
}

// registryCompleter adapts the providers.Registry into router.ChatCompleter
// for smart-routing scene classification: a small, non-streaming call
// against a routing model.
type registryCompleter struct {
	registry *providers.Registry
	cfg      *config.Config
}

func (c *registryCompleter) Complete(ctx context.Context, platformType config.PlatformType, modelID string, prompt string) (string, error) {
	adapter, ok := c.registry.Get(platformType)
	if !ok {
		return "", providers.ErrNoAdapterAvailable
	}

	platform, ok := c.cfg.PlatformsByType()[platformType]
	if !ok {
		return "", fmt.Errorf("platform %s not configured", platformType)
	}

	body, err := json.Marshal(map[string]any{
		"model":    modelID,
		"messages": []map[string]any{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal classification request: %w", err)
	}

	req, err := adapter.BuildRequest(ctx, platform, modelID, body, false)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode classification response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("classification response had no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, adapter providers.Adapter, userKey *store.UserKey, rec *store.InteractionRecord, start time.Time, userPrompt string) {
	bodyReader, err := decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: decompression failed: %v", err)
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	state := transcode.NewStreamState(adapter.Flavor(), "", rec.TargetModel)

	var rawResponse bytes.Buffer

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		rawResponse.WriteString(line)
		rawResponse.WriteByte('\n')

		payload, isData := strings.CutPrefix(line, "data:")
		if !isData {
			// Ollama streams newline-delimited JSON with no SSE framing.
			if adapter.Flavor() != transcode.FlavorOllama {
				continue
			}

			payload = line
		}

		payload = strings.TrimSpace(payload)
		if payload == "" || payload == "[DONE]" {
			continue
		}

		events, err := transcode.Convert(state, []byte(payload))
		if err != nil {
			h.logger.Warn("stream chunk conversion failed", "error", err)
			continue
		}

		for _, ev := range events {
			io.WriteString(w, ev)
		}

		flushResponse(w)
	}

	finishEvents, err := transcode.Finish(state, state.InputTokens, state.OutputTokens, userPrompt)
	if err == nil {
		for _, ev := range finishEvents {
			io.WriteString(w, ev)
		}

		flushResponse(w)
	}

	rec.DurationMS = time.Since(start).Milliseconds()
	rec.ModelRawResponse = rawResponse.String()
	rec.InputTokens = state.InputTokens
	rec.OutputTokens = state.OutputTokens
	rec.TotalTokens = state.InputTokens + state.OutputTokens

	h.recordInteraction(userKey, rec)
}

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, resp *http.Response, adapter providers.Adapter, userKey *store.UserKey, rec *store.InteractionRecord, start time.Time, userPrompt string) {
	bodyReader, err := decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: decompression failed: %v", err)
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: failed to read upstream body: %v", err)
		return
	}

	state := transcode.NewStreamState(adapter.Flavor(), "", rec.TargetModel)

	chunk, err := asStreamingShapedChunk(adapter.Flavor(), raw)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: response parsing failed: %v", err)
		return
	}

	events, err := transcode.Convert(state, chunk)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: response conversion failed: %v", err)
		return
	}

	finishEvents, err := transcode.Finish(state, state.InputTokens, state.OutputTokens, userPrompt)
	if err == nil {
		events = append(events, finishEvents...)
	}

	anthropicMessage := assembleNonStreamingResponse(state, events)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(anthropicMessage)

	rec.DurationMS = time.Since(start).Milliseconds()
	rec.ModelRawResponse = string(raw)
	rec.InputTokens = state.InputTokens
	rec.OutputTokens = state.OutputTokens
	rec.TotalTokens = state.InputTokens + state.OutputTokens

	h.recordInteraction(userKey, rec)
}

// recordInteraction saves the interaction and, when the upstream status is
// below 400, its token usage. Per the gateway's error-handling rules, this
// must never block or fail the client's already-sent response, so it runs
// after the response is written and only logs on failure.
func (h *ProxyHandler) recordInteraction(userKey *store.UserKey, rec *store.InteractionRecord) {
	ctx := context.Background()

	recordID, err := h.store.SaveRecord(ctx, rec)
	if err != nil {
		h.logger.Warn("failed to save interaction record", "error", err)
		return
	}

	if rec.ResponseStatus >= http.StatusBadRequest {
		return
	}

	if err := h.store.RecordUsage(ctx, userKey.ID, &recordID, rec.TargetPlatform, rec.TargetModel, rec.InputTokens, rec.OutputTokens); err != nil {
		h.logger.Warn("failed to record key usage", "error", err)
	}
}

// serveLegacyPassthrough forwards the request verbatim to the
// highest-priority enabled legacy server, stripping hop-by-hop headers.
func (h *ProxyHandler) serveLegacyPassthrough(w http.ResponseWriter, r *http.Request, cfg *config.Config) {
	server, ok := firstEnabledLegacyServer(cfg.LegacyServers)
	if !ok {
		h.httpError(w, http.StatusServiceUnavailable, "routing_error: no legacy server configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "bad_request: failed to read request body: %v", err)
		return
	}

	targetURL := strings.TrimRight(server.URL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "internal_error: failed to build legacy request: %v", err)
		return
	}

	req.Header = stripHopByHop(r.Header.Clone())

	if server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+server.APIKey)
	}

	client := &http.Client{Timeout: time.Duration(server.Timeout()) * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream_error: legacy server unreachable: %v", err)
		return
	}
	defer resp.Body.Close()

	for key, values := range stripHopByHop(resp.Header.Clone()) {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func firstEnabledLegacyServer(servers []config.LegacyServer) (config.LegacyServer, bool) {
	var best config.LegacyServer

	found := false

	for _, s := range servers {
		if !s.Enabled {
			continue
		}

		if !found || s.Priority < best.Priority {
			best = s
			found = true
		}
	}

	return best, found
}

func stripHopByHop(h http.Header) http.Header {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}

	return h
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if key := r.Header.Get("api-key"); key != "" {
		return key
	}

	return r.Header.Get("X-API-Key")
}

func requestWantsStream(body []byte) bool {
	var parsed struct {
		Stream bool `json:"stream"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}

	return parsed.Stream
}

func extractLastUserMessage(body []byte) string {
	var parsed struct {
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	for i := len(parsed.Messages) - 1; i >= 0; i-- {
		msg := parsed.Messages[i]
		if msg.Role != "user" {
			continue
		}

		switch content := msg.Content.(type) {
		case string:
			return content
		case []any:
			var parts []string

			for _, item := range content {
				block, ok := item.(map[string]any)
				if !ok {
					continue
				}

				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}

			return strings.Join(parts, " ")
		}
	}

	return ""
}

// assembleNonStreamingResponse collapses the SSE event sequence produced
// for a non-streaming upstream call into a single Anthropic Messages API
// JSON response, since clients that didn't ask for a stream expect one
// JSON body rather than an event sequence.
func assembleNonStreamingResponse(state *transcode.StreamState, events []string) []byte {
	var (
		textContent strings.Builder
		toolBlocks  []map[string]any
	)

	for _, ev := range events {
		lines := strings.Split(ev, "\n")

		var data string

		for _, line := range lines {
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				data = rest
				break
			}
		}

		if data == "" {
			continue
		}

		var parsed map[string]any
		if json.Unmarshal([]byte(data), &parsed) != nil {
			continue
		}

		switch parsed["type"] {
		case "content_block_delta":
			if delta, ok := parsed["delta"].(map[string]any); ok {
				if text, ok := delta["text"].(string); ok {
					textContent.WriteString(text)
				}
			}
		case "content_block_start":
			if block, ok := parsed["content_block"].(map[string]any); ok {
				if block["type"] == "tool_use" {
					toolBlocks = append(toolBlocks, block)
				}
			}
		}
	}

	content := []map[string]any{}
	if textContent.Len() > 0 {
		content = append(content, map[string]any{"type": "text", "text": textContent.String()})
	}

	for _, block := range toolBlocks {
		content = append(content, block)
	}

	stopReason := state.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	response := map[string]any{
		"id":            state.MessageID,
		"type":          "message",
		"role":          "assistant",
		"content":       content,
		"model":         state.Model,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  state.InputTokens,
			"output_tokens": state.OutputTokens,
		},
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return []byte(`{"type":"error","error":{"message":"failed to encode response"}}`)
	}

	return encoded
}

// asStreamingShapedChunk reshapes a non-streaming upstream response into the
// delta-shaped chunk transcode.Convert expects, so a single code path
// handles both streaming and non-streaming upstream calls. Ollama's
// non-streaming response already matches its streaming chunk shape
// (message.content + done), so it passes through unchanged.
func asStreamingShapedChunk(flavor transcode.Flavor, raw []byte) ([]byte, error) {
	if flavor == transcode.FlavorOllama {
		return raw, nil
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse non-streaming upstream response: %w", err)
	}

	var content, finishReason string
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		finishReason = parsed.Choices[0].FinishReason
	}

	if finishReason == "" {
		finishReason = "stop"
	}

	shaped := map[string]any{
		"choices": []map[string]any{{
			"delta":         map[string]any{"content": content},
			"finish_reason": finishReason,
		}},
	}

	if parsed.Usage != nil {
		shaped["usage"] = map[string]any{
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
		}
	}

	return json.Marshal(shaped)
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("gateway error", "code", code, "message", msg)
	http.Error(w, msg, code)
}

