package llm

import (
	"fmt"
	"slices"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

const (
	DefaultAnthropicModel = "claude-haiku-4-5"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultOllamaHost     = "http://localhost:11434"
)

// Preference represents a single provider/model preference.
type Preference struct {
	Provider    string
	Model       string
	Temperature *float64
}

// ClientKey uniquely identifies an LLM client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // For credential-based providers
	Host         string // For Ollama
	BaseURL      string // For OpenAI
	Organization string // For OpenAI
}

// endpoint drops the model: one client serves every model of an endpoint/credential pair.
func (k ClientKey) endpoint() ClientKey {
	k.Model = ""
	return k
}

// ProviderConfig holds the configuration needed for provider registry.
// This avoids import cycles by not importing the config package.
type ProviderConfig struct {
	AnthropicAPIKey string
	OllamaHost      string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIOrg       string
}

// ProviderRegistry manages LLM provider selection and configuration resolution.
// Client creation and caching is handled by ClientRegistry.
type ProviderRegistry struct {
	enabledProviders []string // in priority order
	mu               sync.RWMutex
	config           *ProviderConfig
}

// NewProviderRegistry creates a new ProviderRegistry with the given config and enabled providers.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	if providerConfig == nil {
		providerConfig = &ProviderConfig{}
	}
	return &ProviderRegistry{
		enabledProviders: slices.Clone(enabledProviders),
		config:           providerConfig,
	}
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.enabledProviders, provider)
}

// IsProviderConfigured checks if a provider has the required configuration (API keys, hosts, etc.).
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProviderConfiguredUnlocked(provider)
}

// Resolve returns a ClientKey for the first available provider from the preference list.
// Without preferences the first enabled provider is used with its default model.
func (r *ProviderRegistry) Resolve(prefs []Preference) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(prefs) > 0 {
		var attemptedProviders []string
		for _, pref := range prefs {
			attemptedProviders = append(attemptedProviders, pref.Provider)

			if !slices.Contains(r.enabledProviders, pref.Provider) {
				continue
			}
			if !r.isProviderConfiguredUnlocked(pref.Provider) {
				continue
			}
			key, err := r.resolveProviderConfig(pref.Provider, pref.Model)
			if err != nil {
				continue
			}
			return key, nil
		}

		return nil, fmt.Errorf("no available provider from preferences %v (enabled: %v)", attemptedProviders, r.enabledProviders)
	}

	if len(r.enabledProviders) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	firstProvider := r.enabledProviders[0]
	if !r.isProviderConfiguredUnlocked(firstProvider) {
		return nil, fmt.Errorf("first enabled provider %s is not configured", firstProvider)
	}

	key, err := r.resolveProviderConfig(firstProvider, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config for provider %s: %w", firstProvider, err)
	}
	return key, nil
}

// isProviderConfiguredUnlocked is the unlocked version of IsProviderConfigured.
// Must be called with r.mu already locked.
func (r *ProviderRegistry) isProviderConfiguredUnlocked(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return r.config.AnthropicAPIKey != ""
	case ProviderOllama:
		// Ollama doesn't require API key, just needs host (which has a default)
		return true
	case ProviderOpenAI:
		return r.config.OpenAIAPIKey != ""
	default:
		return false
	}
}

// resolveProviderConfig resolves provider-specific configuration and returns a ClientKey.
func (r *ProviderRegistry) resolveProviderConfig(provider, modelOverride string) (*ClientKey, error) {
	key := &ClientKey{
		Provider: provider,
		Model:    modelOverride,
	}

	switch provider {
	case ProviderAnthropic:
		if r.config.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.APIKey = r.config.AnthropicAPIKey
		if key.Model == "" {
			key.Model = DefaultAnthropicModel
		}

	case ProviderOllama:
		key.Host = r.config.OllamaHost
		if key.Host == "" {
			key.Host = DefaultOllamaHost
		}
		if key.Model == "" {
			key.Model = r.config.OllamaModel
		}
		if key.Model == "" {
			return nil, fmt.Errorf("ollama model not specified and no default configured")
		}

	case ProviderOpenAI:
		if r.config.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.APIKey = r.config.OpenAIAPIKey
		key.BaseURL = r.config.OpenAIBaseURL
		key.Organization = r.config.OpenAIOrg
		if key.Model == "" {
			key.Model = r.config.OpenAIModel
		}
		if key.Model == "" {
			key.Model = DefaultOpenAIModel
		}

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}

// ClientFactory creates a client for an endpoint/credential pair.
type ClientFactory func(key ClientKey) (Client, error)

// ClientRegistry memoizes clients per endpoint and credential. It is owned by the caller;
// there is no process-wide instance.
type ClientRegistry struct {
	mu      sync.Mutex
	factory ClientFactory
	clients map[ClientKey]Client
}

// NewClientRegistry creates an empty registry that builds clients with factory.
func NewClientRegistry(factory ClientFactory) *ClientRegistry {
	return &ClientRegistry{
		factory: factory,
		clients: make(map[ClientKey]Client),
	}
}

// Get returns the client for key, creating it on first use. The model is not part of
// the memo key.
func (r *ClientRegistry) Get(key ClientKey) (Client, error) {
	ek := key.endpoint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[ek]; ok {
		return c, nil
	}
	c, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", key.Provider, err)
	}
	r.clients[ek] = c
	return c, nil
}

// Forget drops the memoized client for key, e.g. after a credential rotation.
func (r *ClientRegistry) Forget(key ClientKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, key.endpoint())
}

// Len returns the number of memoized clients.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
