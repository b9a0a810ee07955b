package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSETranslator turns an OpenAI Chat Completions SSE stream into an
// Anthropic Messages SSE stream, one upstream line at a time.
//
// It is a pure function of (line, internal state) rather than a full SSE
// parser: each call to TranslateLine consumes one upstream line split on
// '\n' and returns zero or more fully formatted Anthropic SSE events.
// Upstreams observed in practice (OpenAI-compatible chat/completions
// endpoints) emit exactly one `data:` line per event with a blank line
// separator, so this simpler line-oriented approach is sufficient and
// avoids buffering partial multi-line SSE fields that this translator
// never needs to handle.
type SSETranslator struct {
	messageID    string
	model        string
	startedMsg   bool
	startedBlock bool
	done         bool
}

// NewSSETranslator creates a translator that will tag every synthesized
// Anthropic event with messageID and model.
func NewSSETranslator(messageID, model string) *SSETranslator {
	return &SSETranslator{messageID: messageID, model: model}
}

type openAIChatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// TranslateLine consumes one line of the upstream SSE body and returns the
// Anthropic SSE events (each a complete "event: ...\ndata: ...\n\n" frame)
// it produces, if any. Once the stream is done (a finish_reason has been
// seen, or [DONE] was received) further calls are no-ops.
func (t *SSETranslator) TranslateLine(line string) []string {
	if t.done {
		return nil
	}

	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return nil
	}
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return nil
	}
	if payload == "[DONE]" {
		return t.finish("end_turn")
	}

	var chunk openAIChatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil
	}

	var events []string
	events = append(events, t.ensureStarted()...)

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, t.ensureBlockStarted()...)
		events = append(events, formatEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": choice.Delta.Content},
		}))
	}

	if choice.FinishReason != nil {
		events = append(events, t.finish(anthropicStopReason(*choice.FinishReason))...)
	}

	return events
}

func (t *SSETranslator) ensureStarted() []string {
	if t.startedMsg {
		return nil
	}
	t.startedMsg = true
	return []string{formatEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})}
}

func (t *SSETranslator) ensureBlockStarted() []string {
	if t.startedBlock {
		return nil
	}
	t.startedBlock = true
	return []string{formatEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})}
}

func (t *SSETranslator) finish(stopReason string) []string {
	if t.done {
		return nil
	}
	t.done = true

	var events []string
	events = append(events, t.ensureStarted()...)
	if t.startedBlock {
		events = append(events, formatEvent("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": 0,
		}))
	}
	events = append(events,
		formatEvent("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": 0},
		}),
		formatEvent("message_stop", map[string]any{"type": "message_stop"}),
	)
	return events
}

// Done reports whether the translator has emitted its terminal events.
func (t *SSETranslator) Done() bool { return t.done }

func anthropicStopReason(openAI string) string {
	switch openAI {
	case "length":
		return "max_tokens"
	case "stop", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

func formatEvent(name string, payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}
