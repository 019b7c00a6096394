package transcode

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Flavor identifies the shape of upstream streaming chunks a platform emits.
// Adapters declare which flavor their chunks use; this package owns every
// flavor's conversion into the Anthropic SSE event grammar.
type Flavor string

const (
	FlavorOpenAI     Flavor = "openai"
	FlavorQwen       Flavor = "qwen"
	FlavorOpenRouter Flavor = "openrouter"
	FlavorOllama     Flavor = "ollama"
	FlavorLMStudio   Flavor = "lmstudio"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// scannerState tracks progress through the inline <use_tool> XML grammar as
// text deltas arrive piecemeal across chunks.
type scannerState int

const (
	scanOutside scannerState = iota
	scanSeenOpen
	scanInside
)

const (
	tagOpen  = "<use_tool>"
	tagClose = "</use_tool>"
)

// StreamState is per-request mutable state threaded through every chunk of a
// single streaming response. It must not be shared across concurrent
// requests.
type StreamState struct {
	Flavor Flavor

	MessageID   string
	Model       string
	Started     bool
	NextEventID int

	// Text content block bookkeeping. Only one text block is open at a time;
	// it is implicitly closed when a tool call block opens or the stream ends.
	TextBlockOpen  bool
	TextBlockIndex int

	// NextIndex assigns the Anthropic content-block index to the next
	// block opened, whether text or tool_use.
	NextIndex int

	// Inline XML tool-call scanner state, carried across chunk boundaries.
	scan        scannerState
	scanBuf     strings.Builder
	toolCounter int

	InputTokens  int
	OutputTokens int
	StopReason   string

	accumulatedText strings.Builder
}

// NewStreamState initializes per-request state. messageID, if empty, is
// generated fresh; flavor selects the chunk dispatcher used by Convert.
func NewStreamState(flavor Flavor, messageID, model string) *StreamState {
	return &StreamState{
		Flavor:      flavor,
		MessageID:   normalizeMessageID(messageID),
		Model:       model,
		NextEventID: 1,
	}
}

func normalizeMessageID(id string) string {
	if strings.HasPrefix(id, "msg_") {
		return id
	}

	if strings.HasPrefix(id, "chatcmpl-") {
		suffix := strings.TrimPrefix(id, "chatcmpl-")
		return "msg_" + suffix
	}

	return "msg_" + randomBase62(20)
}

func randomBase62(n int) string {
	var b strings.Builder

	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Alphabet))))
		if err != nil {
			b.WriteByte(base62Alphabet[0])
			continue
		}

		b.WriteByte(base62Alphabet[idx.Int64()])
	}

	return b.String()
}

// sseEvent renders one SSE frame using the four-line framing the gateway's
// clients expect: id, event, a status comment, and data.
func sseEvent(state *StreamState, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sse payload: %w", err)
	}

	id := state.NextEventID
	state.NextEventID++

	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", id)
	fmt.Fprintf(&b, "event: %s\n", event)
	b.WriteString(":HTTP_STATUS/200\n")
	fmt.Fprintf(&b, "data: %s\n\n", data)

	return b.String(), nil
}

// Convert ingests one raw upstream chunk (the "data: " payload for SSE
// flavors, one JSON line for Ollama) and returns zero or more fully-framed
// Anthropic SSE events. The first call also emits the opening
// message_start/content_block_start/ping/empty-delta group. An empty chunk
// ("[DONE]" sentinels included) adds no content events; callers detect the
// sentinel themselves and call Finish.
func Convert(state *StreamState, rawChunk []byte) ([]string, error) {
	var events []string

	if !state.Started {
		state.Started = true

		start, err := sseEvent(state, "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            state.MessageID,
				"type":          "message",
				"role":          "assistant",
				"content":       []any{},
				"model":         state.Model,
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})
		if err != nil {
			return nil, err
		}

		events = append(events, start)

		// The text block opens immediately (every response starts with text,
		// tool calls only ever follow), before ping and before any real
		// content arrives, matching how the Anthropic Messages API frames a
		// streaming turn: message_start, content_block_start, ping, then an
		// empty content_block_delta priming the block before real deltas.
		state.TextBlockOpen = true
		state.TextBlockIndex = state.NextIndex
		state.NextIndex++

		blockStart, err := sseEvent(state, "content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.TextBlockIndex,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})
		if err != nil {
			return nil, err
		}

		events = append(events, blockStart)

		ping, err := sseEvent(state, "ping", map[string]any{"type": "ping"})
		if err != nil {
			return nil, err
		}

		events = append(events, ping)

		primer, err := sseEvent(state, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": state.TextBlockIndex,
			"delta": map[string]any{"type": "text_delta", "text": ""},
		})
		if err != nil {
			return nil, err
		}

		events = append(events, primer)
	}

	var (
		textDelta  string
		isDone     bool
		finishStop string
		err        error
	)

	switch state.Flavor {
	case FlavorQwen:
		textDelta, isDone, finishStop, err = parseQwenChunk(rawChunk, state)
	case FlavorOpenRouter:
		textDelta, isDone, finishStop, err = parseOpenRouterChunk(rawChunk, state)
	case FlavorOllama:
		textDelta, isDone, finishStop, err = parseOllamaChunk(rawChunk, state)
	case FlavorLMStudio:
		textDelta, isDone, finishStop, err = parseOpenAIChunk(rawChunk, state)
	default:
		textDelta, isDone, finishStop, err = parseOpenAIChunk(rawChunk, state)
	}

	if err != nil {
		return nil, err
	}

	if textDelta != "" {
		textEvents, err := scanAndEmit(state, textDelta)
		if err != nil {
			return nil, err
		}

		events = append(events, textEvents...)
	}

	if isDone {
		if finishStop != "" {
			state.StopReason = finishStop
		}
	}

	return events, nil
}

// scanAndEmit feeds new text through the inline-tool-call XML scanner,
// emitting ordinary content_block_delta events for plain text and
// content_block_start/stop pairs (with a synthesized tool_use block) when a
// complete <use_tool> element is recognized.
func scanAndEmit(state *StreamState, text string) ([]string, error) {
	var events []string

	remaining := text

	for len(remaining) > 0 {
		switch state.scan {
		case scanOutside:
			idx := strings.IndexByte(remaining, '<')
			if idx < 0 {
				ev, err := emitTextDelta(state, remaining)
				if err != nil {
					return nil, err
				}

				events = append(events, ev...)
				remaining = ""

				continue
			}

			if idx > 0 {
				ev, err := emitTextDelta(state, remaining[:idx])
				if err != nil {
					return nil, err
				}

				events = append(events, ev...)
			}

			remaining = remaining[idx:]
			state.scan = scanSeenOpen

		case scanSeenOpen:
			// state.scanBuf accumulates only the candidate "<use_tool>"
			// prefix; once resolved, any leftover remaining text carries
			// on to the next iteration rather than being swallowed.
			available := state.scanBuf.Len()
			need := len(tagOpen) - available

			take := need
			if take > len(remaining) {
				take = len(remaining)
			}

			state.scanBuf.WriteString(remaining[:take])
			remaining = remaining[take:]

			buf := state.scanBuf.String()

			switch {
			case buf == tagOpen:
				state.scanBuf.Reset()
				state.scan = scanInside
			case strings.HasPrefix(tagOpen, buf):
				// still ambiguous, wait for more input
			default:
				ev, err := emitTextDelta(state, buf)
				if err != nil {
					return nil, err
				}

				events = append(events, ev...)
				state.scanBuf.Reset()
				state.scan = scanOutside
			}

		case scanInside:
			idx := strings.Index(remaining, tagClose)
			if idx < 0 {
				state.scanBuf.WriteString(remaining)
				remaining = ""

				continue
			}

			state.scanBuf.WriteString(remaining[:idx])
			remaining = remaining[idx+len(tagClose):]

			inner := state.scanBuf.String()
			state.scanBuf.Reset()
			state.scan = scanOutside

			ev, err := emitToolUse(state, inner)
			if err != nil {
				return nil, err
			}

			events = append(events, ev...)
		}
	}

	return events, nil
}

func emitTextDelta(state *StreamState, text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	var events []string

	if !state.TextBlockOpen {
		state.TextBlockOpen = true
		state.TextBlockIndex = state.NextIndex
		state.NextIndex++

		ev, err := sseEvent(state, "content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.TextBlockIndex,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})
		if err != nil {
			return nil, err
		}

		events = append(events, ev)
	}

	state.accumulatedText.WriteString(text)

	ev, err := sseEvent(state, "content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": state.TextBlockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
	if err != nil {
		return nil, err
	}

	events = append(events, ev)

	return events, nil
}

// emitToolUse closes any open text block and emits a complete tool_use
// content block for an inline <use_tool>...</use_tool> element.
func emitToolUse(state *StreamState, inner string) ([]string, error) {
	var events []string

	if state.TextBlockOpen {
		ev, err := closeTextBlock(state)
		if err != nil {
			return nil, err
		}

		events = append(events, ev...)
	}

	name, args := parseUseToolBody(inner)

	state.toolCounter++
	callID := fmt.Sprintf("call_%012df", state.toolCounter)

	index := state.NextIndex
	state.NextIndex++

	startEv, err := sseEvent(state, "content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    callID,
			"name":  name,
			"input": map[string]any{},
		},
	})
	if err != nil {
		return nil, err
	}

	events = append(events, startEv)

	if args != "" {
		deltaEv, err := sseEvent(state, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
		})
		if err != nil {
			return nil, err
		}

		events = append(events, deltaEv)
	}

	stopEv, err := sseEvent(state, "content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
	if err != nil {
		return nil, err
	}

	events = append(events, stopEv)
	state.StopReason = "tool_use"

	return events, nil
}

func parseUseToolBody(inner string) (name, args string) {
	name = extractTag(inner, "tool_name")
	params := extractTag(inner, "parameters")

	var parsed any
	if params != "" && json.Unmarshal([]byte(params), &parsed) == nil {
		if compact, err := json.Marshal(parsed); err == nil {
			return name, string(compact)
		}
	}

	return name, params
}

func extractTag(s, tag string) string {
	open := "<" + tag + ">"
	close := "</" + tag + ">"

	start := strings.Index(s, open)
	if start < 0 {
		return ""
	}

	start += len(open)

	end := strings.Index(s[start:], close)
	if end < 0 {
		return ""
	}

	return strings.TrimSpace(s[start : start+end])
}

func closeTextBlock(state *StreamState) ([]string, error) {
	ev, err := sseEvent(state, "content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": state.TextBlockIndex,
	})
	if err != nil {
		return nil, err
	}

	state.TextBlockOpen = false

	return []string{ev}, nil
}

// Finish emits the closing event sequence once the upstream stream has
// ended: emits any text still held as a possible "<use_tool>" prefix, closes
// any still-open block, then message_delta and message_stop.
// inputTokens/outputTokens follow the overwrite-when-positive rule: a
// positive upstream value wins, otherwise the accumulated text is
// estimated.
func Finish(state *StreamState, upstreamInputTokens, upstreamOutputTokens int, promptText string) ([]string, error) {
	var events []string

	if state.scan == scanSeenOpen && state.scanBuf.Len() > 0 {
		ev, err := emitTextDelta(state, state.scanBuf.String())
		if err != nil {
			return nil, err
		}

		events = append(events, ev...)
		state.scanBuf.Reset()
		state.scan = scanOutside
	}

	if state.TextBlockOpen {
		ev, err := closeTextBlock(state)
		if err != nil {
			return nil, err
		}

		events = append(events, ev...)
	}

	inputTokens := state.InputTokens
	if upstreamInputTokens > 0 {
		inputTokens = upstreamInputTokens
	} else if inputTokens == 0 {
		inputTokens = EstimateTokens(promptText)
	}

	outputTokens := state.OutputTokens
	if upstreamOutputTokens > 0 {
		outputTokens = upstreamOutputTokens
	} else if outputTokens == 0 {
		outputTokens = EstimateTokens(state.accumulatedText.String())
	}

	stopReason := state.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	deltaEv, err := sseEvent(state, "message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]any{"input_tokens": inputTokens, "output_tokens": outputTokens},
	})
	if err != nil {
		return nil, err
	}

	events = append(events, deltaEv)

	stopEv, err := sseEvent(state, "message_stop", map[string]any{"type": "message_stop"})
	if err != nil {
		return nil, err
	}

	events = append(events, stopEv)

	state.InputTokens = inputTokens
	state.OutputTokens = outputTokens

	return events, nil
}

// --- per-flavor chunk parsing -------------------------------------------------
//
// Each parser extracts (textDelta, done, stopReason) from one raw upstream
// chunk. None of them mutate tool-call state directly: the inline XML
// grammar is flavor-agnostic and handled once, centrally, by scanAndEmit.

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseOpenAIChunk(raw []byte, state *StreamState) (string, bool, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "[DONE]" {
		return "", true, "", nil
	}

	var chunk openAIChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", false, "", fmt.Errorf("parse openai chunk: %w", err)
	}

	if chunk.Usage != nil {
		state.InputTokens = chunk.Usage.PromptTokens
		state.OutputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return "", false, "", nil
	}

	choice := chunk.Choices[0]

	done := false

	stop := ""
	if choice.FinishReason != nil {
		done = true
		stop = mapFinishReason(*choice.FinishReason)
	}

	return choice.Delta.Content, done, stop, nil
}

// parseQwenChunk handles DashScope's OpenAI-compatible chunk shape by
// treating every chunk as a standard OpenAI delta. Neither this parser nor
// the dashscope adapter handles chunks that repeat already-sent content as a
// full running string; such content is emitted again as new text.
func parseQwenChunk(raw []byte, state *StreamState) (string, bool, string, error) {
	return parseOpenAIChunk(raw, state)
}

func parseOpenRouterChunk(raw []byte, state *StreamState) (string, bool, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "[DONE]" {
		return "", true, "", nil
	}

	// OpenRouter interleaves SSE comment keep-alive lines starting with ":"
	// at the transport layer; those never reach here since the caller only
	// forwards "data:" payloads, but a processing comment may still show up
	// as an empty payload.
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err == nil {
		if _, hasError := probe["error"]; hasError {
			return "", true, "error", nil
		}
	}

	return parseOpenAIChunk(raw, state)
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func parseOllamaChunk(raw []byte, state *StreamState) (string, bool, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false, "", nil
	}

	var chunk ollamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", false, "", fmt.Errorf("parse ollama chunk: %w", err)
	}

	if chunk.Done {
		state.InputTokens = chunk.PromptEvalCount
		state.OutputTokens = chunk.EvalCount

		return chunk.Message.Content, true, "end_turn", nil
	}

	return chunk.Message.Content, false, "", nil
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
