package translate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSETranslatorEmitsMessageStartOnFirstContent(t *testing.T) {
	tr := NewSSETranslator("msg_1", "gpt-4o")
	events := tr.TranslateLine(`data: {"choices":[{"delta":{"content":"hi"}}]}`)

	require.GreaterOrEqual(t, len(events), 3)
	assert.Contains(t, events[0], "event: message_start")
	assert.Contains(t, events[1], "event: content_block_start")
	assert.Contains(t, events[2], "event: content_block_delta")
	assert.Contains(t, events[2], `"text":"hi"`)
}

func TestSSETranslatorSkipsNonDataLines(t *testing.T) {
	tr := NewSSETranslator("m", "x")
	assert.Empty(t, tr.TranslateLine(""))
	assert.Empty(t, tr.TranslateLine(": keep-alive comment"))
	assert.Empty(t, tr.TranslateLine("event: ping"))
}

func TestSSETranslatorHandlesFinishReason(t *testing.T) {
	tr := NewSSETranslator("m", "x")
	tr.TranslateLine(`data: {"choices":[{"delta":{"content":"hi"}}]}`)
	events := tr.TranslateLine(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`)

	joined := strings.Join(events, "")
	assert.Contains(t, joined, "event: content_block_stop")
	assert.Contains(t, joined, "event: message_delta")
	assert.Contains(t, joined, `"stop_reason":"end_turn"`)
	assert.Contains(t, joined, "event: message_stop")
	assert.True(t, tr.Done())
}

func TestSSETranslatorHandlesDoneMarkerWithoutPriorContent(t *testing.T) {
	tr := NewSSETranslator("m", "x")
	events := tr.TranslateLine("data: [DONE]")

	joined := strings.Join(events, "")
	assert.Contains(t, joined, "event: message_start")
	assert.NotContains(t, joined, "content_block_stop", "no block was ever opened")
	assert.Contains(t, joined, "event: message_stop")
}

func TestSSETranslatorIgnoresLinesAfterDone(t *testing.T) {
	tr := NewSSETranslator("m", "x")
	tr.TranslateLine("data: [DONE]")
	assert.Empty(t, tr.TranslateLine(`data: {"choices":[{"delta":{"content":"late"}}]}`))
}

func TestSSETranslatorMapsLengthFinishReasonToMaxTokens(t *testing.T) {
	tr := NewSSETranslator("m", "x")
	events := tr.TranslateLine(`data: {"choices":[{"delta":{},"finish_reason":"length"}]}`)
	joined := strings.Join(events, "")
	assert.Contains(t, joined, `"stop_reason":"max_tokens"`)
}
