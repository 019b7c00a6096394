package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "msg_abc", normalizeMessageID("msg_abc"))
	assert.Equal(t, "msg_xyz", normalizeMessageID("chatcmpl-xyz"))
	assert.True(t, strings.HasPrefix(normalizeMessageID(""), "msg_"))
}

func TestConvertEmitsMessageStartAndPingOnFirstChunk(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "", "openai/gpt-4o-mini")

	events, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Contains(t, events[0], "event: message_start")
	assert.Contains(t, events[1], "event: content_block_start")
	assert.Contains(t, events[2], "event: ping")
	assert.Contains(t, events[3], "event: content_block_delta")
	assert.Contains(t, events[3], `"text":""`)
	assert.Contains(t, events[4], "event: content_block_delta")
	assert.Contains(t, events[4], `"text":"hi"`)
}

func TestConvertEmitsSSEFourLineFraming(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "msg_test", "m")

	events, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	require.NoError(t, err)

	for _, ev := range events {
		lines := strings.Split(strings.TrimRight(ev, "\n"), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "id: "))
		assert.True(t, strings.HasPrefix(lines[1], "event: "))
		assert.Equal(t, ":HTTP_STATUS/200", lines[2])
		assert.True(t, strings.HasPrefix(lines[3], "data: "))
	}
}

func TestConvertTextDeltaThenFinish(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "msg_test", "m")

	_, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"Hello"}}]}`))
	require.NoError(t, err)

	stopReason := "stop"
	events, err := Convert(state, []byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	_ = stopReason
	_ = events

	finishEvents, err := Finish(state, 10, 5, "prompt")
	require.NoError(t, err)

	joined := strings.Join(finishEvents, "")
	assert.Contains(t, joined, "content_block_stop")
	assert.Contains(t, joined, "message_delta")
	assert.Contains(t, joined, "message_stop")
	assert.Equal(t, 10, state.InputTokens)
	assert.Equal(t, 5, state.OutputTokens)
}

func TestFinishEstimatesTokensWhenUpstreamReportsNone(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "msg_test", "m")

	_, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"hello world"}}]}`))
	require.NoError(t, err)

	_, err = Finish(state, 0, 0, "the prompt text")
	require.NoError(t, err)

	assert.Positive(t, state.InputTokens)
	assert.Positive(t, state.OutputTokens)
}

func TestConvertDetectsInlineToolCall(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "msg_test", "m")

	_, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"Sure, "}}]}`))
	require.NoError(t, err)

	toolText := `<use_tool><tool_name>get_weather</tool_name><parameters>{"location": "NYC"}</parameters></use_tool>`
	events, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"`+escapeJSON(toolText)+`"}}]}`))
	require.NoError(t, err)

	joined := strings.Join(events, "")
	assert.Contains(t, joined, "tool_use")
	assert.Contains(t, joined, "get_weather")
	assert.Contains(t, joined, "NYC")
	assert.Equal(t, "tool_use", state.StopReason)
}

func TestConvertToolCallSplitAcrossChunks(t *testing.T) {
	state := NewStreamState(FlavorOpenAI, "msg_test", "m")

	_, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"<use_tool><tool_name>search"}}]}`))
	require.NoError(t, err)

	events, err := Convert(state, []byte(`{"choices":[{"delta":{"content":"</tool_name><parameters>{}</parameters></use_tool>"}}]}`))
	require.NoError(t, err)

	joined := strings.Join(events, "")
	assert.Contains(t, joined, "search")
}

func TestParseOllamaChunkMapsUsageOnDone(t *testing.T) {
	state := NewStreamState(FlavorOllama, "msg_test", "m")

	text, done, stop, err := parseOllamaChunk([]byte(`{"message":{"content":""},"done":true,"prompt_eval_count":12,"eval_count":34}`), state)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "end_turn", stop)
	assert.Equal(t, "", text)
	assert.Equal(t, 12, state.InputTokens)
	assert.Equal(t, 34, state.OutputTokens)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "end_turn", mapFinishReason("stop"))
	assert.Equal(t, "max_tokens", mapFinishReason("length"))
	assert.Equal(t, "tool_use", mapFinishReason("tool_calls"))
	assert.Equal(t, "end_turn", mapFinishReason("unknown_reason"))
}

func escapeJSON(s string) string {
	replacer := strings.NewReplacer(`"`, `\"`, "\n", `\n`)
	return replacer.Replace(s)
}
