package llm

import (
	"fmt"
	"sync"

	domainllm "strand/internal/domain/services/llm"
)

// ProviderRegistry routes provider names to live provider instances.
// Providers are created lazily via the factory and cached, so a missing
// API key only fails requests that actually need that provider.
type ProviderRegistry struct {
	factory *ProviderFactory
	cache   map[string]domainllm.LLMProvider
	mu      sync.RWMutex
}

// NewProviderRegistry creates a new provider registry.
func NewProviderRegistry(factory *ProviderFactory) *ProviderRegistry {
	return &ProviderRegistry{
		factory: factory,
		cache:   make(map[string]domainllm.LLMProvider),
	}
}

// GetProvider returns the provider for the given provider name, creating and
// caching it on first use.
func (r *ProviderRegistry) GetProvider(provider string) (domainllm.LLMProvider, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	r.mu.RLock()
	if cached, exists := r.cache[provider]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created the provider while we waited for
	// the write lock.
	if cached, exists := r.cache[provider]; exists {
		return cached, nil
	}

	created, err := r.factory.GetProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider '%s': %w", provider, err)
	}

	r.cache[provider] = created

	return created, nil
}

// Validate checks if the factory is properly configured.
// Should be called at startup to fail fast if misconfigured.
func (r *ProviderRegistry) Validate() error {
	if r.factory == nil {
		return fmt.Errorf("provider factory is not configured")
	}
	return nil
}
