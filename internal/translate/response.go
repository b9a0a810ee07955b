package translate

import (
	"encoding/json"
	"fmt"
)

// OpenAIChatResponseToAnthropic rewrites a non-streaming OpenAI Chat
// Completions response body into an Anthropic Messages response body.
// messageID is used verbatim as the translated message's id: callers pass a
// freshly generated one rather than the upstream OpenAI id, which has its
// own "chatcmpl-..." shape and should never leak into a client expecting
// Anthropic-formatted ids.
func OpenAIChatResponseToAnthropic(body []byte, requestedModel, messageID string) ([]byte, error) {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("translate: parsing openai chat response: %w", err)
	}

	text := ""
	finish := "end_turn"
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finish = mapFinishReason(resp.Choices[0].FinishReason)
	}

	model := resp.Model
	if model == "" {
		model = requestedModel
	}

	out := map[string]any{
		"id":            messageID,
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"stop_reason":   finish,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.PromptTokens,
			"output_tokens": resp.Usage.CompletionTokens,
		},
	}
	return json.Marshal(out)
}

func mapFinishReason(openAI string) string {
	switch openAI {
	case "length":
		return "max_tokens"
	case "content_filter":
		return "end_turn"
	case "":
		return "end_turn"
	default:
		return "end_turn"
	}
}
