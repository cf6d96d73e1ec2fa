package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// AnthropicConfig represents configuration for Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Anthropic API key
	Model  string `yaml:"model,omitempty"`   // Default model name
	Vision bool   `yaml:"vision,omitempty"`  // Model accepts image input
}

// OllamaConfig represents configuration for Ollama LLM provider.
type OllamaConfig struct {
	Host   string `yaml:"host,omitempty"`   // Ollama host (default: "http://localhost:11434")
	Model  string `yaml:"model,omitempty"`  // Default model name
	Vision bool   `yaml:"vision,omitempty"` // Model accepts image input
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
	Vision       bool   `yaml:"vision,omitempty"`       // Model accepts image input
	Audio        bool   `yaml:"audio,omitempty"`        // Model accepts audio input
}

// ModelDefaults are applied to every model built by NewModel.
type ModelDefaults struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
}

// RetryConfig configures retries of provider calls.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts,omitempty"`
	InitialInterval string  `yaml:"initial_interval,omitempty"` // e.g. "2s"
	MaxInterval     string  `yaml:"max_interval,omitempty"`     // e.g. "1m"
	Multiplier      float64 `yaml:"multiplier,omitempty"`
}

// RateLimitConfig paces provider calls. Zero disables pacing.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
	Burst             int `yaml:"burst,omitempty"`
}

// S3Config holds credentials for s3:// blob locations.
type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Insecure  bool   `yaml:"insecure,omitempty"`
}

// StorageConfig configures how blobs are fetched.
type StorageConfig struct {
	HTTPTimeout int      `yaml:"http_timeout,omitempty"` // seconds
	S3          S3Config `yaml:"s3,omitempty"`
}

// TracingConfig selects the tracers attached to each run.
type TracingConfig struct {
	Database string `yaml:"database,omitempty"` // SQLite path; empty disables the trace store
	Log      bool   `yaml:"log,omitempty"`      // Log every trace event
}

// CapabilitiesConfig configures the non-chat models.
type CapabilitiesConfig struct {
	WhisperModel   string `yaml:"whisper_model,omitempty"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
}

// Config is the bpmai configuration file.
type Config struct {
	// Providers in priority order
	LLMProviders []string `yaml:"llm_providers,omitempty"`

	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	Model        ModelDefaults      `yaml:"model,omitempty"`
	Retry        RetryConfig        `yaml:"retry,omitempty"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit,omitempty"`
	Storage      StorageConfig      `yaml:"storage,omitempty"`
	Tracing      TracingConfig      `yaml:"tracing,omitempty"`
	Capabilities CapabilitiesConfig `yaml:"capabilities,omitempty"`
}

// DefaultPath returns the default config file path.
// Can be overridden via BPMAI_CONFIG_PATH environment variable.
func DefaultPath() string {
	if envPath := os.Getenv("BPMAI_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.bpmai/config.yaml"
	}
	return filepath.Join(homeDir, ".bpmai", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		LLMProviders: []string{llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderOllama},
		Anthropic: AnthropicConfig{
			Model: llm.DefaultAnthropicModel,
		},
		Ollama: OllamaConfig{
			Host: llm.DefaultOllamaHost,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   llm.DefaultOpenAIModel,
		},
		Model: ModelDefaults{
			MaxTokens: llm.DefaultMaxTokens,
		},
		Retry: RetryConfig{
			MaxAttempts:     llm.DefaultMaxAttempts,
			InitialInterval: llm.DefaultInitialInterval.String(),
			MaxInterval:     llm.DefaultMaxInterval.String(),
			Multiplier:      llm.DefaultMultiplier,
		},
		Storage: StorageConfig{
			HTTPTimeout: int(blob.DefaultHTTPTimeout / time.Second),
		},
		Tracing: TracingConfig{
			Database: "~/.bpmai/traces.db",
		},
	}
}

// Load reads the config file at path and merges it over Defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		if err := mergeYAML(cfg, data); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.Tracing.Database = expandPath(cfg.Tracing.Database)
	return cfg, nil
}

// mergeYAML merges the YAML document data onto cfg, file values taking precedence.
func mergeYAML(cfg *Config, data []byte) error {
	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := mergo.Merge(cfg, fileConfig, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Save writes the configuration to path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ProviderConfig returns the settings the provider registry needs.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		AnthropicAPIKey: c.Anthropic.APIKey,
		OllamaHost:      c.Ollama.Host,
		OllamaModel:     c.Ollama.Model,
		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIModel:     c.OpenAI.Model,
		OpenAIOrg:       c.OpenAI.Organization,
	}
}

// RetryPolicy converts the retry section. Unparseable durations fall back to the defaults.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.Retry.MaxAttempts
	}
	if d, err := time.ParseDuration(c.Retry.InitialInterval); err == nil && d > 0 {
		policy.InitialInterval = d
	}
	if d, err := time.ParseDuration(c.Retry.MaxInterval); err == nil && d > 0 {
		policy.MaxInterval = d
	}
	if c.Retry.Multiplier > 0 {
		policy.Multiplier = c.Retry.Multiplier
	}
	return policy
}

// S3 returns the blob S3 settings, or nil when no S3 access is configured.
func (c *Config) S3() *blob.S3Config {
	s3 := c.Storage.S3
	if s3.Endpoint == "" && s3.AccessKey == "" {
		return nil
	}
	return &blob.S3Config{
		Endpoint:  s3.Endpoint,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Region:    s3.Region,
		Insecure:  s3.Insecure,
	}
}
