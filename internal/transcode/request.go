package transcode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toolUsePreamble is appended to the outgoing system message whenever the
// client supplied tools, instructing the upstream model to emit tool calls
// using the inline XML convention the streaming transcoder scans for.
const toolUsePreamble = `You have access to the following tools. To call a tool, respond with exactly this format and nothing else around it:

<use_tool>
<tool_name>TOOL_NAME</tool_name>
<parameters>{"key": "value"}</parameters>
</use_tool>

Only call one tool per message. Wait for the result before calling another.

Available tools:
`

// RequestOptions carries the per-platform shaping rules §4.2 requires.
type RequestOptions struct {
	// DropFields removes these keys recursively in addition to the
	// universal cache_control removal.
	DropFields []string
	// DropToolFields, when true, strips tools/tool_choice entirely instead
	// of flattening them into the system prompt.
	DropToolFields bool
	// DropToolChoiceIfNoTools removes tool_choice when tools is absent or empty.
	DropToolChoiceIfNoTools bool
	// MaxTokensClamp, when non-zero, clamps max_tokens into [1, MaxTokensClamp].
	MaxTokensClamp int
}

// ToOpenAIChat converts an Anthropic-shaped request body into an
// OpenAI-compatible chat completions body, applying the platform-specific
// options. Tool schemas are flattened into the system prompt using the
// inline XML convention and never passed as native "tools"; with
// DropToolFields set they are removed without being described at all.
func ToOpenAIChat(anthropicBody []byte, opts RequestOptions) ([]byte, error) {
	var request map[string]any
	if err := json.Unmarshal(anthropicBody, &request); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic request: %w", err)
	}

	systemText := extractSystemText(request)

	tools, _ := request["tools"].([]any)
	hasTools := len(tools) > 0

	if hasTools && !opts.DropToolFields {
		systemText = appendToolGrammar(systemText, tools)
	}

	// Rule 3: once tools have been folded into the system prompt, the
	// native tools/tool_choice fields always go. Absent tools, they're only
	// dropped when a platform asks for it specifically (rule 4): dashscope
	// always strips both; openrouter strips a dangling tool_choice it would
	// otherwise reject.
	if hasTools || opts.DropToolFields {
		delete(request, "tools")
		delete(request, "tool_choice")
	} else if opts.DropToolChoiceIfNoTools {
		delete(request, "tool_choice")
	}

	delete(request, "system")

	if messages, ok := request["messages"].([]any); ok {
		request["messages"] = flattenMessages(messages)
	}

	if systemText != "" {
		systemMsg := map[string]any{"role": "system", "content": systemText}
		if messages, ok := request["messages"].([]any); ok {
			request["messages"] = append([]any{systemMsg}, messages...)
		} else {
			request["messages"] = []any{systemMsg}
		}
	}

	dropFields := append([]string{"cache_control"}, opts.DropFields...)
	cleaned := removeFieldsRecursively(request, dropFields).(map[string]any)

	if opts.MaxTokensClamp > 0 {
		if mt, ok := numberValue(cleaned["max_tokens"]); ok {
			clamped := mt
			if clamped < 1 {
				clamped = 1
			}
			if clamped > float64(opts.MaxTokensClamp) {
				clamped = float64(opts.MaxTokensClamp)
			}
			cleaned["max_tokens"] = int(clamped)
		}
	}

	return json.Marshal(cleaned)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// extractSystemText flattens the Anthropic "system" field (string or array
// of {type:"text"} blocks) into plain text.
func extractSystemText(request map[string]any) string {
	system, ok := request["system"]
	if !ok {
		return ""
	}

	switch v := system.(type) {
	case string:
		return v
	case []any:
		var parts []string

		for _, item := range v {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}

		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func appendToolGrammar(systemText string, tools []any) string {
	var b strings.Builder
	if systemText != "" {
		b.WriteString(systemText)
		b.WriteString("\n\n")
	}

	b.WriteString(toolUsePreamble)

	for _, t := range tools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}

		name, _ := tool["name"].(string)
		desc, _ := tool["description"].(string)

		b.WriteString(fmt.Sprintf("\n- %s: %s\n", name, desc))

		if schema, ok := tool["input_schema"]; ok {
			if schemaJSON, err := json.Marshal(schema); err == nil {
				b.WriteString("  parameters schema: ")
				b.Write(schemaJSON)
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// flattenMessages converts Anthropic array-content messages into plain text,
// rendering image blocks as placeholders and tool_use/tool_result blocks as
// readable prose, per §4.2 rule 1.
func flattenMessages(messages []any) []any {
	out := make([]any, 0, len(messages))

	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			out = append(out, m)
			continue
		}

		content, ok := msg["content"].([]any)
		if !ok {
			out = append(out, msg)
			continue
		}

		flattened := make(map[string]any, len(msg))
		for k, v := range msg {
			flattened[k] = v
		}

		flattened["content"] = flattenContentBlocks(content)
		out = append(out, flattened)
	}

	return out
}

func flattenContentBlocks(blocks []any) string {
	var b strings.Builder

	for _, item := range blocks {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}

		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok {
				b.WriteString(text)
			}
		case "image":
			mediaType := "unknown"
			if src, ok := block["source"].(map[string]any); ok {
				if mt, ok := src["media_type"].(string); ok {
					mediaType = mt
				}
			}

			fmt.Fprintf(&b, "[Image: %s]", mediaType)
		case "tool_use":
			name, _ := block["name"].(string)

			var argsJSON string
			if input := block["input"]; input != nil {
				if data, err := json.Marshal(input); err == nil {
					argsJSON = string(data)
				}
			}

			fmt.Fprintf(&b, "\n[called tool %s with args %s]\n", name, argsJSON)
		case "tool_result":
			content := block["content"]

			var text string
			if s, ok := content.(string); ok {
				text = s
			} else if data, err := json.Marshal(content); err == nil {
				text = string(data)
			}

			fmt.Fprintf(&b, "\n[tool result: %s]\n", text)
		}
	}

	return b.String()
}

func removeFieldsRecursively(data any, fields []string) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))

		for key, value := range v {
			remove := false

			for _, f := range fields {
				if key == f {
					remove = true
					break
				}
			}

			if !remove {
				result[key] = removeFieldsRecursively(value, fields)
			}
		}

		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = removeFieldsRecursively(item, fields)
		}

		return result
	default:
		return v
	}
}
