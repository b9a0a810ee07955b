// Package gwconfig loads, validates, and migrates the gateway's JSON
// configuration file: the set of upstream providers and the three dialect
// listeners that front them.
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ApiType identifies one of the three client-facing dialects the gateway
// speaks.
type ApiType string

const (
	ApiTypeAnthropic       ApiType = "anthropic"
	ApiTypeOpenAIResponses ApiType = "openai_responses"
	ApiTypeOpenAIChat      ApiType = "openai_chat"
)

// apiTypeWireNames is the documented on-wire spelling for each ApiType:
// "Anthropic", "OpenAIResponses", "OpenAIChat". Internally the gateway
// keeps the shorter lowercase/snake_case constants above; this table is
// the only place the two are bridged.
var apiTypeWireNames = map[ApiType]string{
	ApiTypeAnthropic:       "Anthropic",
	ApiTypeOpenAIResponses: "OpenAIResponses",
	ApiTypeOpenAIChat:      "OpenAIChat",
}

var apiTypeFromWireName = map[string]ApiType{
	"anthropic":        ApiTypeAnthropic,
	"openairesponses":  ApiTypeOpenAIResponses,
	"openaichat":       ApiTypeOpenAIChat,
	"openai_responses": ApiTypeOpenAIResponses,
	"openai_chat":      ApiTypeOpenAIChat,
}

// MarshalJSON emits the documented wire spelling ("Anthropic",
// "OpenAIResponses", "OpenAIChat") rather than the internal constant.
func (a ApiType) MarshalJSON() ([]byte, error) {
	name, ok := apiTypeWireNames[a]
	if !ok {
		return nil, fmt.Errorf("gwconfig: unknown api type %q", string(a))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts the documented wire spelling case-insensitively,
// along with the internal snake_case spelling for configs already written
// in that shape.
func (a *ApiType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	canon, ok := apiTypeFromWireName[strings.ToLower(s)]
	if !ok {
		return fmt.Errorf("gwconfig: unrecognized api_types value %q", s)
	}
	*a = canon
	return nil
}

// Provider describes a single upstream LLM endpoint.
type Provider struct {
	ID              string            `json:"id" validate:"required"`
	Name            string            `json:"name" validate:"required"`
	BaseURL         string            `json:"base_url" validate:"required,url"`
	APIKey          string            `json:"api_key"`
	ModelMapping    map[string]string `json:"model_mapping"`
	Enabled         bool              `json:"enabled"`
	APITypes        []ApiType         `json:"api_types" validate:"dive,oneof=anthropic openai_responses openai_chat"`
	Weight          uint32            `json:"weight"`
	InputPricePer1K float64           `json:"input_price_per_1k"`
	OutputPricePer1K float64          `json:"output_price_per_1k"`
	// ClaudeCodeProxy, when true, marks this provider as one whose
	// Anthropic-dialect traffic should be forwarded untranslated to an
	// OpenAI-shaped upstream via the request/response translator, used for
	// routing Anthropic clients (e.g. the Claude Code CLI) at an
	// OpenAI-Chat-only provider.
	ClaudeCodeProxy bool `json:"claude_code_proxy"`
}

// SupportsAPIType reports whether the provider is enabled for api.
func (p Provider) SupportsAPIType(api ApiType) bool {
	if !p.Enabled {
		return false
	}
	for _, t := range p.APITypes {
		if t == api {
			return true
		}
	}
	return false
}

// MappedModel resolves a client-requested model name through the provider's
// model_mapping table, passing it through unchanged if no mapping exists.
func (p Provider) MappedModel(requested string) string {
	if mapped, ok := p.ModelMapping[requested]; ok && mapped != "" {
		return mapped
	}
	return requested
}

// GatewayConfig is the top-level, on-disk JSON configuration.
type GatewayConfig struct {
	AnthropicPort   int `json:"anthropic_port"`
	ResponsesPort   int `json:"responses_port"`
	ChatPort        int `json:"chat_port"`
	AnthropicEnabled bool `json:"anthropic_enabled"`
	ResponsesEnabled bool `json:"responses_enabled"`
	ChatEnabled      bool `json:"chat_enabled"`

	// Port and Enabled are legacy single-listener fields. On load, a
	// non-zero Port is migrated into AnthropicPort and zeroed.
	Port    int  `json:"port"`
	Enabled bool `json:"enabled"`

	Providers []Provider `json:"providers" validate:"dive"`

	FallbackEnabled bool `json:"fallback_enabled"`

	CacheEnabled    bool `json:"cache_enabled"`
	CacheTTLSeconds int  `json:"cache_ttl_seconds"`
	CacheMaxEntries int  `json:"cache_max_entries"`

	CircuitBreakerCooldownSeconds int `json:"circuit_breaker_cooldown_seconds"`

	// RequestTimeoutSeconds bounds a single forward attempt (§9 design
	// note: upstream should not be allowed to hang a gateway goroutine
	// forever). Zero means no explicit per-attempt deadline beyond the
	// client's own context.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// MaxBodyBytes caps the size of a request body the gateway will buffer.
	// Zero means the default of 10 MiB is used.
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// Default returns a GatewayConfig populated with the original tool's
// documented defaults: three listeners on 12345/12346/12347, fallback and
// the cache both on, a 600s cache TTL, 1000-entry cache cap, and a 60s
// circuit-breaker cooldown.
func Default() GatewayConfig {
	return GatewayConfig{
		AnthropicPort:                 12345,
		ResponsesPort:                 12346,
		ChatPort:                      12347,
		AnthropicEnabled:              true,
		ResponsesEnabled:              true,
		ChatEnabled:                   true,
		Enabled:                       true,
		Providers:                     nil,
		FallbackEnabled:               true,
		CacheEnabled:                  true,
		CacheTTLSeconds:               600,
		CacheMaxEntries:               1000,
		CircuitBreakerCooldownSeconds: 60,
		RequestTimeoutSeconds:         120,
		MaxBodyBytes:                  10 << 20,
	}
}

// Load reads the gateway configuration from path. A missing file is not an
// error: Default() is returned instead, matching the original tool's
// bootstrap-on-first-run behavior. An existing file is parsed, then run
// through the two documented migrations (legacy port, api_types inference)
// before being returned.
func Load(path string) (GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("gwconfig: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("gwconfig: parsing %s: %w", path, err)
	}

	migrated := migrateLegacyPort(&cfg)
	migrateAPITypes(&cfg)

	if migrated {
		if err := Save(path, cfg); err != nil {
			// Migration persistence is best-effort; the in-memory config
			// is already correct for this run.
			return cfg, nil //nolint:nilerr
		}
	}

	return cfg, nil
}

// migrateLegacyPort copies a non-zero legacy Port into AnthropicPort and
// zeroes it out, reporting whether a migration occurred.
func migrateLegacyPort(cfg *GatewayConfig) bool {
	if cfg.Port == 0 {
		return false
	}
	cfg.AnthropicPort = cfg.Port
	cfg.Port = 0
	return true
}

// migrateAPITypes infers api_types for any provider whose list is empty,
// from a case-insensitive substring match against the provider name:
// "claude"/"anthropic" implies Anthropic-only, "openai"/"gpt" implies both
// OpenAI dialects, otherwise all three are assumed.
func migrateAPITypes(cfg *GatewayConfig) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if len(p.APITypes) > 0 {
			continue
		}
		lower := strings.ToLower(p.Name)
		switch {
		case strings.Contains(lower, "claude"), strings.Contains(lower, "anthropic"):
			p.APITypes = []ApiType{ApiTypeAnthropic}
		case strings.Contains(lower, "openai"), strings.Contains(lower, "gpt"):
			p.APITypes = []ApiType{ApiTypeOpenAIResponses, ApiTypeOpenAIChat}
		default:
			p.APITypes = []ApiType{ApiTypeAnthropic, ApiTypeOpenAIResponses, ApiTypeOpenAIChat}
		}
	}
}

// Save writes cfg to path as pretty-printed JSON, creating parent
// directories as needed.
func Save(path string, cfg GatewayConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("gwconfig: creating %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("gwconfig: encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("gwconfig: writing %s: %w", path, err)
	}
	return nil
}

// ProvidersForAPIType returns enabled providers that support api, ordered by
// descending weight with ties broken by original config order (a stable
// sort preserves index order for equal weights).
func (c GatewayConfig) ProvidersForAPIType(api ApiType) []Provider {
	var out []Provider
	for _, p := range c.Providers {
		if p.SupportsAPIType(api) {
			out = append(out, p)
		}
	}
	sortByWeightDesc(out)
	return out
}

func sortByWeightDesc(providers []Provider) {
	// insertion sort: providers slices are small (a handful of entries)
	// and this keeps the sort trivially stable, preserving config order
	// for ties, without pulling in sort.SliceStable for a few elements.
	for i := 1; i < len(providers); i++ {
		j := i
		for j > 0 && providers[j-1].Weight < providers[j].Weight {
			providers[j-1], providers[j] = providers[j], providers[j-1]
			j--
		}
	}
}
