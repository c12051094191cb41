// Package config loads and validates the engine configuration.
//
// DESIGN: Configuration layers resolve lowest to highest precedence:
//
//	built-in defaults < .env file < process environment < YAML file < per-call overrides
//
// YAML values support ${VAR} and ${VAR:-default} expansion so secrets stay
// out of checked-in files. Per-call overrides are applied by the client, not
// here.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnillm/omnillm/llmerr"
)

// Config is the root configuration for the engine.
type Config struct {
	Providers  map[string]ProviderConfig `yaml:"providers"`  // provider tag → settings
	Orchestra  OrchestraConfig           `yaml:"orchestra"`  // tool-loop settings
	Monitoring MonitoringConfig          `yaml:"monitoring"` // logging and metrics
}

// ProviderConfig holds per-provider connection settings. The map key in
// Config.Providers is the provider tag (openai, anthropic, gemini, ollama,
// bedrock), matched case-insensitively.
type ProviderConfig struct {
	APIKey     string        `yaml:"api_key"`     // credential; ollama and bedrock run without one
	Model      string        `yaml:"model"`       // default model id
	BaseURL    string        `yaml:"base_url"`    // endpoint override, blank for the vendor default
	Region     string        `yaml:"region"`      // bedrock only
	Timeout    time.Duration `yaml:"timeout"`     // per-request budget, 0 for the transport default
	MaxRetries int           `yaml:"max_retries"` // retry budget for retryable failures
}

// OrchestraConfig bounds the tool-calling loop.
type OrchestraConfig struct {
	MaxTurns int `yaml:"max_turns"` // turn ceiling, 0 for the default
}

// MonitoringConfig contains logging and metrics settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // trace/debug/info/warn/error, default info
	LogFormat string `yaml:"log_format"` // json or console, default json
	LogOutput string `yaml:"log_output"` // stdout, stderr or a file path
	Metrics   bool   `yaml:"metrics"`    // enable prometheus collectors
}

// envVarPattern matches ${VAR:-default} or ${VAR}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandEnv expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file. A .env file next to the working
// directory is folded into the environment first, without overriding
// variables the process already has.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &llmerr.ConfigurationError{Reason: "config file path is required"}
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, expanding
// ${VAR:-default} references before unmarshaling.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration purely from the environment, for callers
// that run without a YAML file. Only providers with a credential (or that
// need none) are included.
func FromEnv() *Config {
	_ = godotenv.Load()

	cfg := &Config{Providers: map[string]ProviderConfig{}}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers["openai"] = ProviderConfig{APIKey: key, Model: os.Getenv("OPENAI_MODEL")}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers["anthropic"] = ProviderConfig{APIKey: key, Model: os.Getenv("ANTHROPIC_MODEL")}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Providers["gemini"] = ProviderConfig{APIKey: key, Model: os.Getenv("GEMINI_MODEL")}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Providers["ollama"] = ProviderConfig{BaseURL: host, Model: os.Getenv("OLLAMA_MODEL")}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Providers["bedrock"] = ProviderConfig{Region: region, Model: os.Getenv("BEDROCK_MODEL")}
	}
	cfg.normalize()
	return cfg
}

// normalize lower-cases provider tags so lookups are case-insensitive.
func (c *Config) normalize() {
	if len(c.Providers) == 0 {
		return
	}
	normalized := make(map[string]ProviderConfig, len(c.Providers))
	for tag, pc := range c.Providers {
		normalized[strings.ToLower(strings.TrimSpace(tag))] = pc
	}
	c.Providers = normalized
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	for tag, pc := range c.Providers {
		if pc.Model == "" {
			return &llmerr.ConfigurationError{
				Tag:    tag,
				Reason: fmt.Sprintf("providers.%s.model is required", tag),
			}
		}
		if pc.MaxRetries < 0 {
			return &llmerr.ConfigurationError{
				Tag:    tag,
				Reason: fmt.Sprintf("providers.%s.max_retries must not be negative", tag),
			}
		}
		if tag == "bedrock" && pc.Region == "" {
			return &llmerr.ConfigurationError{
				Tag:    tag,
				Reason: "providers.bedrock.region is required",
			}
		}
	}
	if c.Orchestra.MaxTurns < 0 {
		return &llmerr.ConfigurationError{Reason: "orchestra.max_turns must not be negative"}
	}
	return nil
}

// Provider returns the configuration for a tag, matched case-insensitively.
func (c *Config) Provider(tag string) (ProviderConfig, bool) {
	pc, ok := c.Providers[strings.ToLower(strings.TrimSpace(tag))]
	return pc, ok
}

// Tags returns the configured provider tags, sorted for stable messages.
func (c *Config) Tags() []string {
	tags := make([]string, 0, len(c.Providers))
	for tag := range c.Providers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
