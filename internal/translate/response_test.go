package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatResponseToAnthropicBasic(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3}
	}`)

	out, err := OpenAIChatResponseToAnthropic(body, "claude-3-opus", "msg_abc123")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "msg_abc123", got["id"])
	assert.Equal(t, "assistant", got["role"])
	assert.Equal(t, "end_turn", got["stop_reason"])
	content := got["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "hello there", content["text"])
	usage := got["usage"].(map[string]any)
	assert.Equal(t, float64(5), usage["input_tokens"])
	assert.Equal(t, float64(3), usage["output_tokens"])
}

func TestOpenAIChatResponseToAnthropicNeverLeaksUpstreamID(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-should-not-appear","choices":[{"message":{"content":"x"}}]}`)
	out, err := OpenAIChatResponseToAnthropic(body, "m", "msg_fresh")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "msg_fresh", got["id"])
	assert.NotContains(t, string(out), "chatcmpl-should-not-appear")
}

func TestOpenAIChatResponseToAnthropicMapsLengthFinish(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"x"},"finish_reason":"length"}]}`)
	out, err := OpenAIChatResponseToAnthropic(body, "m", "msg_1")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "max_tokens", got["stop_reason"])
}

func TestOpenAIChatResponseToAnthropicFallsBackToRequestedModel(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"x"}}]}`)
	out, err := OpenAIChatResponseToAnthropic(body, "claude-3-haiku", "msg_1")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "claude-3-haiku", got["model"])
}
