package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicToOpenAIChatRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-opus",
		"max_tokens": 256,
		"temperature": 0.5,
		"system": "be terse",
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi there"}
		]
	}`)

	out, err := AnthropicToOpenAIChatRequest(body, func(m string) string {
		if m == "claude-3-opus" {
			return "gpt-4o"
		}
		return m
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, float64(256), got["max_tokens"])
	assert.Equal(t, 0.5, got["temperature"])

	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "be terse", messages[0].(map[string]any)["content"])
	assert.Equal(t, "hello", messages[1].(map[string]any)["content"])
}

func TestAnthropicToOpenAIChatRequestSystemArrayOfBlocks(t *testing.T) {
	body := []byte(`{
		"model": "claude-3",
		"system": [{"type": "text", "text": "first"}, {"type": "text", "text": "second"}],
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := AnthropicToOpenAIChatRequest(body, nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	messages := got["messages"].([]any)
	assert.Equal(t, "first\nsecond", messages[0].(map[string]any)["content"])
}

func TestAnthropicToOpenAIChatRequestToolResultPrefixed(t *testing.T) {
	body := []byte(`{
		"model": "claude-3",
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "content": "42"},
				{"type": "text", "text": "what is it"}
			]}
		]
	}`)

	out, err := AnthropicToOpenAIChatRequest(body, nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	messages := got["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "Tool result: 42")
	assert.Contains(t, content, "what is it")
}

func TestAnthropicToOpenAIChatRequestMissingModelErrors(t *testing.T) {
	_, err := AnthropicToOpenAIChatRequest([]byte(`{"messages":[]}`), nil)
	assert.Error(t, err)
}

func TestAnthropicToOpenAIChatRequestDefaultsMaxTokensAndTemperature(t *testing.T) {
	out, err := AnthropicToOpenAIChatRequest([]byte(`{"model":"m","messages":[]}`), nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, float64(4096), got["max_tokens"])
	assert.Equal(t, 1.0, got["temperature"])
	assert.Equal(t, false, got["stream"])
}
