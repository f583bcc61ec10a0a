package llm

import (
	"fmt"

	"strand/internal/config"
	domainllm "strand/internal/domain/services/llm"
	"strand/internal/service/llm/providers/anthropic"
	"strand/internal/service/llm/providers/lorem"
	"strand/internal/service/llm/providers/openrouter"
)

// ProviderFactory creates LLM provider instances
type ProviderFactory struct {
	config *config.Config
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config) *ProviderFactory {
	return &ProviderFactory{
		config: cfg,
	}
}

// GetProvider returns a provider instance for the given provider name
//
// Supported providers:
//   - "anthropic" - Claude models via Anthropic API
//   - "openrouter" - OpenAI/Google/etc models via OpenRouter
//   - "lorem" - Mock provider for testing (no API key required)
func (f *ProviderFactory) GetProvider(providerName string) (domainllm.LLMProvider, error) {
	switch providerName {
	case "anthropic":
		return f.createAnthropicProvider()

	case "openrouter":
		return f.createOpenRouterProvider()

	case "lorem":
		return lorem.NewProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerName)
	}
}

func (f *ProviderFactory) createAnthropicProvider() (domainllm.LLMProvider, error) {
	if f.config.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	provider, err := anthropic.NewProvider(f.config.AnthropicAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
	}

	return provider, nil
}

func (f *ProviderFactory) createOpenRouterProvider() (domainllm.LLMProvider, error) {
	if f.config.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable not set")
	}

	provider, err := openrouter.NewProvider(f.config.OpenRouterAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter provider: %w", err)
	}

	return provider, nil
}
