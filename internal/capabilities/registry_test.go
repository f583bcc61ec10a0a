package capabilities

import (
	"testing"
)

func TestNewRegistry(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	providers := registry.GetAllProviders()
	if len(providers) != 3 {
		t.Errorf("expected 3 providers, got %d: %v", len(providers), providers)
	}
}

func TestRegistry_GetModelCapabilities(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tests := []struct {
		name             string
		provider         string
		model            string
		wantErr          bool
		wantTools        bool
		wantThinking     bool
		wantContextAtMin int
	}{
		{
			name:             "anthropic haiku",
			provider:         "anthropic",
			model:            "claude-haiku-4-5-20251001",
			wantTools:        true,
			wantThinking:     true,
			wantContextAtMin: 200000,
		},
		{
			name:             "openrouter gpt-4o",
			provider:         "openrouter",
			model:            "gpt-4o",
			wantTools:        true,
			wantThinking:     false,
			wantContextAtMin: 128000,
		},
		{
			name:             "lorem tools variant",
			provider:         "lorem",
			model:            "lorem-tools",
			wantTools:        true,
			wantThinking:     false,
			wantContextAtMin: 4096,
		},
		{
			name:     "unknown model",
			provider: "anthropic",
			model:    "claude-nonexistent",
			wantErr:  true,
		},
		{
			name:     "unknown provider",
			provider: "cohere",
			model:    "command-r",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps, err := registry.GetModelCapabilities(tt.provider, tt.model)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetModelCapabilities failed: %v", err)
			}
			if caps.ID != tt.model {
				t.Errorf("expected ID %s, got %s", tt.model, caps.ID)
			}
			if caps.SupportsTools != tt.wantTools {
				t.Errorf("SupportsTools = %v, want %v", caps.SupportsTools, tt.wantTools)
			}
			if caps.SupportsThinking != tt.wantThinking {
				t.Errorf("SupportsThinking = %v, want %v", caps.SupportsThinking, tt.wantThinking)
			}
			if caps.ContextWindow < tt.wantContextAtMin {
				t.Errorf("ContextWindow = %d, want >= %d", caps.ContextWindow, tt.wantContextAtMin)
			}
		})
	}
}

func TestRegistry_ListProviderModelsPreservesOrder(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	models, err := registry.ListProviderModels("lorem")
	if err != nil {
		t.Fatalf("ListProviderModels failed: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("expected lorem models")
	}
	// YAML declaration order must survive the map round-trip.
	if models[0].ID != "lorem-fast" {
		t.Errorf("expected lorem-fast first, got %s", models[0].ID)
	}
	if models[len(models)-1].ID != "lorem-error" {
		t.Errorf("expected lorem-error last, got %s", models[len(models)-1].ID)
	}
}

func TestRegistry_RequiresThinking(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	caps, err := registry.GetModelCapabilities("openrouter", "kimi-k2-thinking")
	if err != nil {
		t.Fatalf("GetModelCapabilities failed: %v", err)
	}
	if !caps.RequiresThinking {
		t.Error("kimi-k2-thinking must require thinking")
	}
}
