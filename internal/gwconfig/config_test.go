package gwconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMigratesLegacyPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, Save(path, GatewayConfig{Port: 9999, AnthropicEnabled: true}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.AnthropicPort)
	assert.Zero(t, cfg.Port)

	// Migration persists back to disk.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, reloaded.AnthropicPort)
	assert.Zero(t, reloaded.Port)
}

func TestLoadInfersAPITypesFromName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	cfg := Default()
	cfg.Providers = []Provider{
		{ID: "a", Name: "Claude 3.5", BaseURL: "https://api.anthropic.com", Enabled: true},
		{ID: "b", Name: "My OpenAI Proxy", BaseURL: "https://api.openai.com", Enabled: true},
		{ID: "c", Name: "Local Llama", BaseURL: "http://localhost:8000", Enabled: true},
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.Providers, 3)
	assert.Equal(t, []ApiType{ApiTypeAnthropic}, loaded.Providers[0].APITypes)
	assert.Equal(t, []ApiType{ApiTypeOpenAIResponses, ApiTypeOpenAIChat}, loaded.Providers[1].APITypes)
	assert.Equal(t, []ApiType{ApiTypeAnthropic, ApiTypeOpenAIResponses, ApiTypeOpenAIChat}, loaded.Providers[2].APITypes)
}

func TestLoadDoesNotOverrideExplicitAPITypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	cfg := Default()
	cfg.Providers = []Provider{
		{ID: "a", Name: "OpenAI GPT-4", BaseURL: "https://api.openai.com", Enabled: true, APITypes: []ApiType{ApiTypeAnthropic}},
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []ApiType{ApiTypeAnthropic}, loaded.Providers[0].APITypes)
}

func TestLoadAcceptsDocumentedAPITypesCasing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	raw := `{
		"providers": [
			{"id": "a", "name": "primary", "base_url": "https://api.example.com", "enabled": true,
			 "api_types": ["Anthropic", "OpenAIResponses", "OpenAIChat"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, []ApiType{ApiTypeAnthropic, ApiTypeOpenAIResponses, ApiTypeOpenAIChat}, cfg.Providers[0].APITypes)
}

func TestApiTypeRoundTripsThroughDocumentedWireSpelling(t *testing.T) {
	data, err := json.Marshal(ApiTypeOpenAIResponses)
	require.NoError(t, err)
	assert.Equal(t, `"OpenAIResponses"`, string(data))

	var got ApiType
	require.NoError(t, json.Unmarshal([]byte(`"OpenAIResponses"`), &got))
	assert.Equal(t, ApiTypeOpenAIResponses, got)
}

func TestProvidersForAPITypeOrdersByWeightDescendingStable(t *testing.T) {
	cfg := GatewayConfig{Providers: []Provider{
		{ID: "low", Enabled: true, Weight: 10, APITypes: []ApiType{ApiTypeAnthropic}},
		{ID: "high-a", Enabled: true, Weight: 100, APITypes: []ApiType{ApiTypeAnthropic}},
		{ID: "high-b", Enabled: true, Weight: 100, APITypes: []ApiType{ApiTypeAnthropic}},
		{ID: "disabled", Enabled: false, Weight: 1000, APITypes: []ApiType{ApiTypeAnthropic}},
		{ID: "wrong-dialect", Enabled: true, Weight: 1000, APITypes: []ApiType{ApiTypeOpenAIChat}},
	}}

	got := cfg.ProvidersForAPIType(ApiTypeAnthropic)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"high-a", "high-b", "low"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMappedModelFallsThroughWhenUnmapped(t *testing.T) {
	p := Provider{ModelMapping: map[string]string{"gpt-4": "gpt-4o"}}
	assert.Equal(t, "gpt-4o", p.MappedModel("gpt-4"))
	assert.Equal(t, "claude-3", p.MappedModel("claude-3"))
}

func TestPortsValidRejectsCollision(t *testing.T) {
	cfg := Default()
	cfg.ResponsesPort = cfg.AnthropicPort
	err := PortsValid(cfg)
	require.Error(t, err)
}

func TestPortsValidIgnoresDisabledListeners(t *testing.T) {
	cfg := Default()
	cfg.ChatEnabled = false
	cfg.ChatPort = 0
	require.NoError(t, PortsValid(cfg))
}
