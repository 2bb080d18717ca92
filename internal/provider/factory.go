package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"cliexplainer/internal/config"
	"cliexplainer/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Timeout: pc.Timeout, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: pc.Timeout, Logger: logger}), nil
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		if pc.APIKey == "" {
			return nil, fmt.Errorf("gemini: apiKey is required (set GEMINI_API_KEY)")
		}
		return NewGemini(context.Background(), GeminiConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: pc.Timeout, Logger: logger})
	}
	f.constructors["anthropic"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		if pc.APIKey == "" {
			return nil, fmt.Errorf("anthropic: apiKey is required (set ANTHROPIC_API_KEY)")
		}
		return NewAnthropic(AnthropicConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: pc.Timeout, Logger: logger}), nil
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check under write lock (another goroutine may have created it).
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	kind := pc.Kind(name)
	ctor, found := f.constructors[kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for type %q", name, kind)
	}
	p, err := ctor(pc, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Build returns the provider the explainer should talk to: the failover chain
// when one is configured, otherwise the default provider. Chain members that
// cannot be constructed are logged and left out.
func (f *Factory) Build() (domain.Provider, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.DefaultProvider()
	}

	var providers []domain.Provider
	for _, name := range chain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover: provider unavailable", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", chain)
	case 1:
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

// Names returns every configured provider name, sorted.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthyProvider returns the config name and instance of the first enabled
// provider, in name order, that passes a health check. It returns "", nil
// when none does.
func (f *Factory) HealthyProvider(ctx context.Context) (string, domain.Provider) {
	for _, name := range f.Names() {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if err := p.Healthy(ctx); err != nil {
			f.logger.Debug("provider unhealthy", "provider", name, "error", err)
			continue
		}
		return name, p
	}
	return "", nil
}

// Endpoint reports the base URL p sends requests to, or "" for providers
// that do not expose one.
func Endpoint(p domain.Provider) string {
	if e, ok := p.(interface{ APIBase() string }); ok {
		return e.APIBase()
	}
	return ""
}
