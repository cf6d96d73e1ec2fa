package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
	llmanthropic "github.com/aschepis/bpmai/llm/anthropic"
	llmollama "github.com/aschepis/bpmai/llm/ollama"
	llmopenai "github.com/aschepis/bpmai/llm/openai"
)

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")

	setFromEnv(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setFromEnv(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setFromEnv(&cfg.OpenAI.Model, "OPENAI_MODEL")
	setFromEnv(&cfg.OpenAI.Organization, "OPENAI_ORG_ID")

	setFromEnv(&cfg.Ollama.Host, "OLLAMA_HOST")
	setFromEnv(&cfg.Ollama.Model, "OLLAMA_MODEL")

	setFromEnv(&cfg.Storage.S3.Endpoint, "S3_ENDPOINT")
	setFromEnv(&cfg.Storage.S3.AccessKey, "S3_ACCESS_KEY")
	setFromEnv(&cfg.Storage.S3.SecretKey, "S3_SECRET_KEY")
	setFromEnv(&cfg.Storage.S3.Region, "S3_REGION")
}

// setFromEnv replaces *dst with the value of key when it is set and non-empty.
func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// NewClientFactory returns a factory building provider clients that share storage for
// loading attachments.
func NewClientFactory(storage *blob.Storage, logger zerolog.Logger) llm.ClientFactory {
	return func(key llm.ClientKey) (llm.Client, error) {
		switch key.Provider {
		case llm.ProviderAnthropic:
			return llmanthropic.NewAnthropicClient(key.APIKey, storage, logger)
		case llm.ProviderOpenAI:
			return llmopenai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization, storage, logger)
		case llm.ProviderOllama:
			return llmollama.NewOllamaClient(key.Host, key.Model, storage, logger)
		default:
			return nil, fmt.Errorf("unknown provider: %s", key.Provider)
		}
	}
}

// capabilitiesOf reports the configured input modalities of provider.
func (c *Config) capabilitiesOf(provider string) (images, audio bool) {
	switch provider {
	case llm.ProviderAnthropic:
		return c.Anthropic.Vision, false
	case llm.ProviderOpenAI:
		return c.OpenAI.Vision, c.OpenAI.Audio
	case llm.ProviderOllama:
		return c.Ollama.Vision, false
	}
	return false, false
}

// defaultModelOf returns the configured model of provider.
func (c *Config) defaultModelOf(provider string) string {
	switch provider {
	case llm.ProviderAnthropic:
		return c.Anthropic.Model
	case llm.ProviderOpenAI:
		return c.OpenAI.Model
	case llm.ProviderOllama:
		return c.Ollama.Model
	}
	return ""
}
