package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/blob"
	capollama "github.com/aschepis/bpmai/capability/ollama"
	capopenai "github.com/aschepis/bpmai/capability/openai"
	"github.com/aschepis/bpmai/llm"
	llmollama "github.com/aschepis/bpmai/llm/ollama"
	llmopenai "github.com/aschepis/bpmai/llm/openai"
	"github.com/aschepis/bpmai/tracing"
)

// NewModel resolves provider and returns a model whose client is traced, rate limited and
// retried. provider may name a model as "openai/gpt-4o-mini"; an empty provider selects
// the first configured one of cfg.LLMProviders. Clients are memoized in registry.
func NewModel(cfg *Config, provider string, registry *llm.ClientRegistry, logger zerolog.Logger) (*llm.Model, error) {
	var prefs []llm.Preference
	if provider != "" {
		name, model, _ := strings.Cut(provider, "/")
		if model == "" {
			model = cfg.defaultModelOf(name)
		}
		prefs = append(prefs, llm.Preference{Provider: name, Model: model})
	} else {
		for _, name := range cfg.LLMProviders {
			prefs = append(prefs, llm.Preference{Provider: name, Model: cfg.defaultModelOf(name)})
		}
	}

	providers := llm.NewProviderRegistry(cfg.ProviderConfig(), cfg.LLMProviders)
	key, err := providers.Resolve(prefs)
	if err != nil {
		return nil, err
	}

	client, err := registry.Get(*key)
	if err != nil {
		return nil, err
	}

	middleware := []llm.Middleware{tracing.NewMiddleware(key.Provider)}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		middleware = append(middleware, llm.NewRateLimitMiddleware(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))
	}
	client = llm.WithRetry(llm.WrapWithMiddleware(client, middleware...), cfg.RetryPolicy(), logger)

	images, audio := cfg.capabilitiesOf(key.Provider)
	logger.Debug().
		Str("provider", key.Provider).
		Str("model", key.Model).
		Bool("images", images).
		Bool("audio", audio).
		Msg("Resolved model")

	return &llm.Model{
		Client:         client,
		Provider:       key.Provider,
		Name:           key.Model,
		SupportsImages: images,
		SupportsAudio:  audio,
		Temperature:    cfg.Model.Temperature,
		MaxTokens:      cfg.Model.MaxTokens,
	}, nil
}

// NewStorage creates the blob storage, with S3 access when configured.
func NewStorage(cfg *Config, logger zerolog.Logger) (*blob.Storage, error) {
	opts := []blob.StorageOption{}
	if cfg.Storage.HTTPTimeout > 0 {
		timeout := time.Duration(cfg.Storage.HTTPTimeout) * time.Second
		opts = append(opts, blob.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	if s3 := cfg.S3(); s3 != nil {
		fetcher, err := blob.NewS3Fetcher(*s3)
		if err != nil {
			return nil, err
		}
		opts = append(opts, blob.WithS3(fetcher))
	}
	return blob.NewStorage(logger, opts...), nil
}

// NewTracer builds the tracers selected by the tracing section. The returned close
// function releases the trace database.
func NewTracer(cfg *Config, runID string, logger zerolog.Logger) (tracing.Tracer, func() error, error) {
	var tracers tracing.Multi
	closeFn := func() error { return nil }

	if cfg.Tracing.Log {
		tracers = append(tracers, tracing.NewLoggingTracer(logger))
	}
	if cfg.Tracing.Database != "" {
		store, err := OpenTraceStore(cfg, runID, logger)
		if err != nil {
			return nil, nil, err
		}
		tracers = append(tracers, store)
		closeFn = store.Close
	}

	switch len(tracers) {
	case 0:
		return tracing.Nop{}, closeFn, nil
	case 1:
		return tracers[0], closeFn, nil
	default:
		return tracers, closeFn, nil
	}
}

// OpenTraceStore opens the configured trace database.
func OpenTraceStore(cfg *Config, runID string, logger zerolog.Logger) (*tracing.Store, error) {
	if cfg.Tracing.Database == "" {
		return nil, fmt.Errorf("tracing database is not configured")
	}
	path := expandPath(cfg.Tracing.Database)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create tracing directory: %w", err)
		}
	}
	return tracing.OpenStore(path, runID, logger)
}

// NewWhisper creates the speech recognizer. It needs an OpenAI API key.
func NewWhisper(cfg *Config, storage *blob.Storage, logger zerolog.Logger) (*capopenai.Whisper, error) {
	client, err := llmopenai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, "", cfg.OpenAI.Organization, storage, logger)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return capopenai.NewWhisper(client.API(), cfg.Capabilities.WhisperModel, storage, logger), nil
}

// NewClassifier creates the zero-shot classifier backed by Ollama embeddings.
func NewClassifier(cfg *Config, logger zerolog.Logger) (*capollama.EmbeddingClassifier, error) {
	client, err := llmollama.NewAPIClient(cfg.Ollama.Host)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return capollama.NewEmbeddingClassifier(client, cfg.Capabilities.EmbeddingModel, logger), nil
}
