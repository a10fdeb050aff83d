package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"finrag/internal/config"
	"finrag/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

type preset struct {
	apiBase string
	model   string
	keyEnv  string
}

// presets are OpenAI-compatible endpoints known by name.
var presets = map[string]preset{
	"zhipu":  {apiBase: "https://open.bigmodel.cn/api/paas/v4/", model: "glm-4", keyEnv: "ZHIPUAI_API_KEY"},
	"openai": {apiBase: "https://api.openai.com/v1", model: "gpt-4o-mini", keyEnv: "OPENAI_API_KEY"},
	"ollama": {apiBase: "http://localhost:11434/v1", model: "llama3.1:8b", keyEnv: "OLLAMA_API_KEY"},
}

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
	return &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// newOpenAICompatible builds the default provider for a config entry, filling
// API base, model and key from the preset of the same name.
func newOpenAICompatible(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
	ps := presets[name]
	if pc.APIBase == "" {
		pc.APIBase = ps.apiBase
	}
	if pc.DefaultModel == "" {
		pc.DefaultModel = ps.model
	}
	if pc.APIKey == "" && ps.keyEnv != "" {
		pc.APIKey = os.Getenv(ps.keyEnv)
	}
	retries := maxRetries
	if pc.MaxRetries > 0 {
		retries = pc.MaxRetries
	}
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second
	return NewOpenAI(OpenAIConfig{
		Name:       name,
		APIKey:     pc.APIKey,
		APIBase:    pc.APIBase,
		Model:      pc.DefaultModel,
		HTTPClient: newHTTPClient(timeout, retries, time.Second, logger),
		Logger:     logger,
	})
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
	if _, known := presets[name]; !known && pc.APIBase == "" {
		if _, custom := f.constructors[name]; !custom {
			return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
		}
	}

	ctor, found := f.constructors[name]
	if !found {
		ctor = newOpenAICompatible
	}
	p := ctor(name, pc, f.logger)
	if pc.RateLimitPerMin > 0 {
		p = NewRateLimited(p, NewRateLimiter(pc.RateLimitBurst, pc.RateLimitPerMin))
	}

	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Chain returns the default provider, wrapped in a FailoverProvider when a
// failover chain is configured. The default provider is always tried first.
func (f *Factory) Chain() (domain.Provider, error) {
	primary, err := f.DefaultProvider()
	if err != nil {
		return nil, err
	}
	providers := []domain.Provider{primary}
	for _, name := range f.cfg.General.FailoverChain {
		if name == f.cfg.General.DefaultProvider {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping failover provider", "provider", name, "err", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

// HealthyProvider returns the first provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
