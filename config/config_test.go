package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnillm/omnillm/llmerr"
)

func TestLoadFromBytes(t *testing.T) {
	yaml := []byte(`
providers:
  openai:
    api_key: sk-test
    model: gpt-4o-mini
    timeout: 30s
    max_retries: 2
  Anthropic:
    api_key: sk-ant
    model: claude-sonnet-4-5
orchestra:
  max_turns: 5
monitoring:
  log_level: debug
  log_format: console
`)

	cfg, err := LoadFromBytes(yaml)
	require.NoError(t, err)

	pc, ok := cfg.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, "gpt-4o-mini", pc.Model)
	assert.Equal(t, 30*time.Second, pc.Timeout)
	assert.Equal(t, 2, pc.MaxRetries)

	// Tags are normalized at load time and matched case-insensitively.
	_, ok = cfg.Provider("ANTHROPIC")
	assert.True(t, ok)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.Tags())

	assert.Equal(t, 5, cfg.Orchestra.MaxTurns)
	assert.Equal(t, "debug", cfg.Monitoring.LogLevel)
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("providers: [not a map"))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("OMNILLM_TEST_KEY", "sk-from-env")
	t.Setenv("OMNILLM_TEST_EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain variable", "key: ${OMNILLM_TEST_KEY}", "key: sk-from-env"},
		{"set variable wins over default", "${OMNILLM_TEST_KEY:-fallback}", "sk-from-env"},
		{"unset variable takes default", "${OMNILLM_TEST_UNSET:-fallback}", "fallback"},
		{"empty variable takes default", "${OMNILLM_TEST_EMPTY:-fallback}", "fallback"},
		{"unset without default becomes empty", "x${OMNILLM_TEST_UNSET}y", "xy"},
		{"no references pass through", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnv(tt.in))
		})
	}
}

func TestLoadFromBytes_ExpandsEnvInValues(t *testing.T) {
	t.Setenv("OMNILLM_TEST_KEY", "sk-live")

	cfg, err := LoadFromBytes([]byte(`
providers:
  openai:
    api_key: ${OMNILLM_TEST_KEY}
    model: ${OMNILLM_TEST_MODEL:-gpt-4o-mini}
`))
	require.NoError(t, err)

	pc, _ := cfg.Provider("openai")
	assert.Equal(t, "sk-live", pc.APIKey)
	assert.Equal(t, "gpt-4o-mini", pc.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "missing model",
			cfg: Config{Providers: map[string]ProviderConfig{
				"openai": {APIKey: "sk"},
			}},
			wantErr: "model is required",
		},
		{
			name: "negative retries",
			cfg: Config{Providers: map[string]ProviderConfig{
				"openai": {APIKey: "sk", Model: "gpt-4o", MaxRetries: -1},
			}},
			wantErr: "max_retries",
		},
		{
			name: "bedrock needs region",
			cfg: Config{Providers: map[string]ProviderConfig{
				"bedrock": {Model: "anthropic.claude-sonnet"},
			}},
			wantErr: "region is required",
		},
		{
			name:    "negative turn ceiling",
			cfg:     Config{Orchestra: OrchestraConfig{MaxTurns: -1}},
			wantErr: "max_turns",
		},
		{
			name: "valid",
			cfg: Config{Providers: map[string]ProviderConfig{
				"ollama": {Model: "llama3.2"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var cfgErr *llmerr.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestProvider_UnknownTag(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{"openai": {Model: "gpt-4o"}}}
	_, ok := cfg.Provider("mistral")
	assert.False(t, ok)
}
