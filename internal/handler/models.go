package handler

import (
	"log/slog"
	"net/http"

	"strand/internal/capabilities"
	"strand/internal/config"
	"strand/internal/httputil"
)

// ModelsHandler handles HTTP requests for model capabilities
type ModelsHandler struct {
	config   *config.Config
	logger   *slog.Logger
	registry *capabilities.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(cfg *config.Config, logger *slog.Logger, registry *capabilities.Registry) *ModelsHandler {
	return &ModelsHandler{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}
}

// ProviderResponse represents a provider with its models
type ProviderResponse struct {
	ID     string                           `json:"id"`
	Name   string                           `json:"name"`
	Models []capabilities.ModelCapabilities `json:"models"`
}

// GetCapabilities returns model capabilities for every provider the server
// can actually route to. Providers without credentials are omitted so clients
// never offer a model that would fail at generation time.
// GET /api/models/capabilities
func (h *ModelsHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	var providers []ProviderResponse

	// Check Anthropic
	if h.config.AnthropicAPIKey != "" {
		if models, err := h.registry.ListProviderModels("anthropic"); err == nil {
			providers = append(providers, ProviderResponse{
				ID:     "anthropic",
				Name:   "Anthropic",
				Models: models,
			})
		}
	}

	// Check OpenRouter
	if h.config.OpenRouterAPIKey != "" {
		if models, err := h.registry.ListProviderModels("openrouter"); err == nil {
			providers = append(providers, ProviderResponse{
				ID:     "openrouter",
				Name:   "OpenRouter",
				Models: models,
			})
		}
	}

	// Mock provider needs no key but stays out of prod
	if h.config.Environment == "dev" || h.config.Environment == "test" {
		if models, err := h.registry.ListProviderModels("lorem"); err == nil {
			providers = append(providers, ProviderResponse{
				ID:     "lorem",
				Name:   "Lorem (mock)",
				Models: models,
			})
		}
	}

	response := map[string]interface{}{
		"providers": providers,
	}

	httputil.RespondJSON(w, http.StatusOK, response)
}
