/*
Package providers implements the platform adapter layer for the gateway.

Unlike a router that ships one struct per provider with its own copy of the
Anthropic<->OpenAI conversion logic, this package keeps adapters thin: an
adapter knows how to reach one platform (build the HTTP request, list its
models, test connectivity) and declares which transcode.Flavor its chunks
arrive in. All format and streaming transcoding lives in
internal/transcode, shared by every adapter, because the conversion rules
(tool schema flattening, SSE event grammar, inline tool-call XML scanning)
are the same regardless of which platform originated the chunk.

# Adapter contract

All adapters implement the Adapter interface:

	type Adapter interface {
		Platform() config.PlatformType
		Flavor() transcode.Flavor
		BuildRequest(ctx context.Context, platform config.Platform, modelID string, body []byte, stream bool) (*http.Request, error)
		ListModels(ctx context.Context, platform config.Platform) ([]string, error)
		TestConnection(ctx context.Context, platform config.Platform) error
	}

# Adding a platform

1. Create a new file for the adapter, following the shape of dashscope.go
   or openai.go (the simplest, since they reuse the shared buildChatRequest
   and fetchModelList helpers in common.go).
2. Decide the chunk flavor: if the platform speaks plain OpenAI-shaped SSE
   chunks, use transcode.FlavorOpenAI. Platforms with their own quirks (see
   ollama.go for a non-SSE, non-/v1 example) get their own transcode.Flavor
   and a parser function in internal/transcode/stream.go.
3. Register the adapter in registry.go's Initialize().

# What adapters must NOT do

Adapters never reinterpret streamed content: chunks are forwarded to
transcode.Convert verbatim. An adapter that tries to pre-parse tool calls or
rewrite text before handing it to the transcoder duplicates logic that
belongs in exactly one place.

# Curated model lists

Several platforms (DashScope, SiliconFlow, LM Studio, Ollama) don't reliably
expose a live catalog, either because the key lacks listing scope or
because a bare local install hasn't pulled anything yet. Their ListModels
implementations fall back to a curated default list rather than returning
an empty result, since an empty model list is indistinguishable from "the
platform is unreachable" to callers deciding what to route to.
*/
package providers
