package llm

import (
	"testing"

	"strand/internal/config"
)

func TestProviderRegistry_GetProvider(t *testing.T) {
	t.Run("caches instances", func(t *testing.T) {
		registry := NewProviderRegistry(NewProviderFactory(&config.Config{}))

		first, err := registry.GetProvider("lorem")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := registry.GetProvider("lorem")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first != second {
			t.Error("expected cached provider instance on second lookup")
		}
	})

	t.Run("creates configured providers", func(t *testing.T) {
		registry := NewProviderRegistry(NewProviderFactory(&config.Config{
			AnthropicAPIKey:  "test-key",
			OpenRouterAPIKey: "test-key",
		}))

		for _, name := range []string{"anthropic", "openrouter", "lorem"} {
			provider, err := registry.GetProvider(name)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}
			if provider.Name() != name {
				t.Errorf("expected provider name %s, got %s", name, provider.Name())
			}
		}
	})

	t.Run("missing API key", func(t *testing.T) {
		registry := NewProviderRegistry(NewProviderFactory(&config.Config{}))

		if _, err := registry.GetProvider("anthropic"); err == nil {
			t.Error("expected error for anthropic without API key")
		}
		if _, err := registry.GetProvider("openrouter"); err == nil {
			t.Error("expected error for openrouter without API key")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		registry := NewProviderRegistry(NewProviderFactory(&config.Config{}))

		if _, err := registry.GetProvider("bedrock"); err == nil {
			t.Error("expected error for unsupported provider")
		}
	})

	t.Run("empty provider name", func(t *testing.T) {
		registry := NewProviderRegistry(NewProviderFactory(&config.Config{}))

		if _, err := registry.GetProvider(""); err == nil {
			t.Error("expected error for empty provider name")
		}
	})
}

func TestProviderRegistry_Validate(t *testing.T) {
	if err := NewProviderRegistry(nil).Validate(); err == nil {
		t.Error("expected error for nil factory")
	}
	if err := NewProviderRegistry(NewProviderFactory(&config.Config{})).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
