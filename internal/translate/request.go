// Package translate converts request and response bodies between the
// Anthropic Messages dialect and OpenAI's Chat Completions dialect, for
// providers marked claude_code_proxy: ones that only speak one dialect but
// must serve clients speaking the other.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnthropicToOpenAIChatRequest rewrites an Anthropic Messages request body
// into an OpenAI Chat Completions request body. modelMap resolves the
// client-requested model to the upstream's model name (pass-through for
// unmapped names).
//
// Content blocks the OpenAI Chat dialect has no equivalent for (images,
// tool_use) are dropped rather than erroring — translation here is
// text-first, matching the scope of clients this gateway targets.
func AnthropicToOpenAIChatRequest(body []byte, modelMap func(string) string) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("translate: parsing anthropic request: %w", err)
	}

	var messages []map[string]any

	if system, ok := req["system"]; ok {
		if text := systemText(system); text != "" {
			messages = append(messages, map[string]any{"role": "system", "content": text})
		}
	}

	if rawMessages, ok := req["messages"].([]any); ok {
		for _, m := range rawMessages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := msg["role"].(string)
			if role != "user" && role != "assistant" {
				role = "user"
			}
			text := messageContentText(msg["content"])
			if text == "" {
				continue
			}
			messages = append(messages, map[string]any{"role": role, "content": text})
		}
	}

	model, ok := req["model"].(string)
	if !ok || model == "" {
		return nil, fmt.Errorf("translate: missing 'model' field in request")
	}
	if modelMap != nil {
		model = modelMap(model)
	}

	maxTokens := 4096
	if v, ok := req["max_tokens"].(float64); ok {
		maxTokens = int(v)
	}
	temperature := 1.0
	if v, ok := req["temperature"].(float64); ok {
		temperature = v
	}
	stream := false
	if v, ok := req["stream"].(bool); ok {
		stream = v
	}

	out := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      stream,
	}
	return json.Marshal(out)
}

// systemText flattens an Anthropic "system" field, which may be either a
// plain string or an array of content blocks, into a single string.
func systemText(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, b := range v {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	default:
		return ""
	}
}

// messageContentText flattens an Anthropic message "content" field (a
// plain string, or an array of text/tool_result blocks) into a single
// string, prefixing tool_result fragments with "Tool result: " so the
// information survives even without a structured tool-call representation
// on the OpenAI Chat side.
func messageContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, b := range v {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if text, ok := block["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			case "tool_result":
				for _, fragment := range toolResultFragments(block["content"]) {
					parts = append(parts, "Tool result: "+fragment)
				}
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	default:
		return ""
	}
}

func toolResultFragments(content any) []string {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, b := range v {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok && text != "" {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}
