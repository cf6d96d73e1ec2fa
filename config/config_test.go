package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/llm/llmtest"
	"github.com/aschepis/bpmai/tracing"
)

// clearEnv unsets every variable applyEnv reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_ORG_ID",
		"OLLAMA_HOST", "OLLAMA_MODEL", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_REGION",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAI.Model != llm.DefaultOpenAIModel {
		t.Errorf("Expected OpenAI model %q, got %q", llm.DefaultOpenAIModel, cfg.OpenAI.Model)
	}
	if cfg.Ollama.Host != llm.DefaultOllamaHost {
		t.Errorf("Expected Ollama host %q, got %q", llm.DefaultOllamaHost, cfg.Ollama.Host)
	}
	if len(cfg.LLMProviders) != 3 {
		t.Errorf("Expected 3 providers, got %v", cfg.LLMProviders)
	}
	if cfg.Storage.HTTPTimeout != 60 {
		t.Errorf("Expected HTTP timeout 60, got %d", cfg.Storage.HTTPTimeout)
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
llm_providers: [ollama]
ollama:
  model: llava
  vision: true
retry:
  max_attempts: 3
  initial_interval: 10ms
rate_limit:
  requests_per_minute: 30
tracing:
  log: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.LLMProviders) != 1 || cfg.LLMProviders[0] != llm.ProviderOllama {
		t.Errorf("Expected providers [ollama], got %v", cfg.LLMProviders)
	}
	if cfg.Ollama.Model != "llava" || !cfg.Ollama.Vision {
		t.Errorf("Unexpected ollama section: %+v", cfg.Ollama)
	}
	if cfg.Ollama.Host != llm.DefaultOllamaHost {
		t.Errorf("Expected default host to survive the merge, got %q", cfg.Ollama.Host)
	}
	if cfg.OpenAI.Model != llm.DefaultOpenAIModel {
		t.Errorf("Expected untouched OpenAI defaults, got %q", cfg.OpenAI.Model)
	}
	if !cfg.Tracing.Log {
		t.Error("Expected tracing.log to be true")
	}

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", policy.MaxAttempts)
	}
	if policy.InitialInterval != 10*time.Millisecond {
		t.Errorf("Expected 10ms initial interval, got %v", policy.InitialInterval)
	}
	if policy.MaxInterval != llm.DefaultMaxInterval {
		t.Errorf("Expected default max interval, got %v", policy.MaxInterval)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm_providers: {"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected a parse error")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("OLLAMA_HOST", "http://gpu:11434")
	t.Setenv("S3_ACCESS_KEY", "AKIA")
	t.Setenv("S3_REGION", "eu-central-1")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("openai:\n  api_key: sk-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("Expected environment to win, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("Expected gpt-4o-mini, got %q", cfg.OpenAI.Model)
	}
	if cfg.Ollama.Host != "http://gpu:11434" {
		t.Errorf("Expected gpu host, got %q", cfg.Ollama.Host)
	}

	s3 := cfg.S3()
	if s3 == nil {
		t.Fatal("Expected S3 settings")
	}
	if s3.AccessKey != "AKIA" || s3.Region != "eu-central-1" {
		t.Errorf("Unexpected S3 settings: %+v", s3)
	}
}

func TestS3_NotConfigured(t *testing.T) {
	if Defaults().S3() != nil {
		t.Error("Expected nil S3 settings by default")
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("BPMAI_CONFIG_PATH", "/etc/bpmai.yaml")
	if got := DefaultPath(); got != "/etc/bpmai.yaml" {
		t.Errorf("Expected env path, got %q", got)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Anthropic.APIKey = "sk-ant"
	cfg.RateLimit.RequestsPerMinute = 12

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected 0600, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Anthropic.APIKey != "sk-ant" || loaded.RateLimit.RequestsPerMinute != 12 {
		t.Errorf("Unexpected loaded config: %+v", loaded)
	}
}

func newFakeRegistry(fake *llmtest.FakeClient, keys *[]llm.ClientKey) *llm.ClientRegistry {
	return llm.NewClientRegistry(func(key llm.ClientKey) (llm.Client, error) {
		*keys = append(*keys, key)
		return fake, nil
	})
}

func TestNewModel_ExplicitProviderAndModel(t *testing.T) {
	cfg := Defaults()
	cfg.Ollama.Vision = true

	var keys []llm.ClientKey
	registry := newFakeRegistry(llmtest.NewFakeClient(), &keys)

	model, err := NewModel(cfg, "ollama/llava:13b", registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if model.Provider != llm.ProviderOllama || model.Name != "llava:13b" {
		t.Errorf("Unexpected model %s/%s", model.Provider, model.Name)
	}
	if !model.SupportsImages || model.SupportsAudio {
		t.Errorf("Unexpected modalities: images=%v audio=%v", model.SupportsImages, model.SupportsAudio)
	}
	if model.MaxTokens != llm.DefaultMaxTokens {
		t.Errorf("Expected default max tokens, got %d", model.MaxTokens)
	}
	if len(keys) != 1 || keys[0].Host != llm.DefaultOllamaHost {
		t.Errorf("Unexpected client keys: %+v", keys)
	}
}

func TestNewModel_FallsBackToConfiguredProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Anthropic.APIKey = "sk-ant"

	var keys []llm.ClientKey
	registry := newFakeRegistry(llmtest.NewFakeClient(), &keys)

	// OpenAI comes first but has no key.
	model, err := NewModel(cfg, "", registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if model.Provider != llm.ProviderAnthropic || model.Name != llm.DefaultAnthropicModel {
		t.Errorf("Unexpected model %s/%s", model.Provider, model.Name)
	}
}

func TestNewModel_NoProviderAvailable(t *testing.T) {
	cfg := Defaults()
	cfg.LLMProviders = []string{llm.ProviderOpenAI}

	var keys []llm.ClientKey
	registry := newFakeRegistry(llmtest.NewFakeClient(), &keys)

	if _, err := NewModel(cfg, "", registry, zerolog.Nop()); err == nil {
		t.Fatal("Expected an error without an OpenAI key")
	}
	if _, err := NewModel(cfg, "anthropic", registry, zerolog.Nop()); err == nil {
		t.Fatal("Expected an error for a provider that is not enabled")
	}
	if len(keys) != 0 {
		t.Errorf("Expected no client to be created, got %d", len(keys))
	}
}

func TestNewModel_SharesClientsAndRetries(t *testing.T) {
	cfg := Defaults()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Retry.InitialInterval = "1ms"
	cfg.Retry.MaxInterval = "2ms"

	fake := llmtest.NewFakeClient(&llm.AssistantMessage{Content: llm.Text("yes")}).
		FailWith(llm.NewServerError("unavailable", 503, errors.New("unavailable")))

	var keys []llm.ClientKey
	registry := newFakeRegistry(fake, &keys)

	first, err := NewModel(cfg, "openai", registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if _, err := NewModel(cfg, "openai/gpt-4o-mini", registry, zerolog.Nop()); err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if registry.Len() != 1 {
		t.Errorf("Expected one memoized client, got %d", registry.Len())
	}

	rec := &llmRecorder{}
	ctx := tracing.WithTracer(context.Background(), rec)
	msg, err := first.Predict(ctx, llm.Messages{llm.NewUserText("ok?")})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if llm.ContentText(msg.Content) != "yes" {
		t.Errorf("Expected 'yes', got %q", llm.ContentText(msg.Content))
	}
	if len(fake.Requests()) != 2 {
		t.Errorf("Expected a retry, got %d requests", len(fake.Requests()))
	}
	if len(rec.attempts) != 2 || rec.attempts[1] != 2 {
		t.Errorf("Expected traced attempts [1 2], got %v", rec.attempts)
	}
}

// llmRecorder records the attempt number of every traced model call.
type llmRecorder struct {
	tracing.Nop
	attempts []int
}

func (r *llmRecorder) StartLLM(call tracing.LLMCall) {
	r.attempts = append(r.attempts, call.Attempt)
}

func TestNewClientFactory_UnknownProvider(t *testing.T) {
	factory := NewClientFactory(nil, zerolog.Nop())
	if _, err := factory(llm.ClientKey{Provider: "mistral"}); err == nil {
		t.Fatal("Expected an error for an unknown provider")
	}
	if _, err := factory(llm.ClientKey{Provider: llm.ProviderOpenAI}); err == nil {
		t.Fatal("Expected an error for a missing API key")
	}
	client, err := factory(llm.ClientKey{Provider: llm.ProviderOllama, Host: "localhost:11434", Model: "llama3.2"})
	if err != nil || client == nil {
		t.Fatalf("Expected an ollama client, got %v", err)
	}
}

func TestNewTracer(t *testing.T) {
	cfg := Defaults()
	cfg.Tracing.Database = ""

	tr, closeFn, err := NewTracer(cfg, "run", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(tracing.Nop); !ok {
		t.Errorf("Expected Nop tracer, got %T", tr)
	}
	_ = closeFn()

	cfg.Tracing.Log = true
	cfg.Tracing.Database = filepath.Join(t.TempDir(), "traces", "traces.db")
	tr, closeFn, err = NewTracer(cfg, "run", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn() //nolint:errcheck // test cleanup

	multi, ok := tr.(tracing.Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("Expected two tracers, got %T", tr)
	}
	if _, ok := multi[1].(*tracing.Store); !ok {
		t.Errorf("Expected a trace store, got %T", multi[1])
	}
}

func TestNewStorage_WithS3(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.S3 = S3Config{Endpoint: "localhost:9000", AccessKey: "minio", SecretKey: "minio123", Insecure: true}
	storage, err := NewStorage(cfg, zerolog.Nop())
	if err != nil || storage == nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
}
