package llm

import (
	"fmt"
	"strings"

	llmModels "strand/internal/domain/models/llm"
)

// ModelInfo contains parsed provider and model information
type ModelInfo struct {
	Provider string // Provider name: "anthropic", "openrouter", "lorem"
	Model    string // Model identifier for that provider
}

// ParseModel extracts provider information from a model string
//
// Supported formats:
//   - "claude-haiku-4-5-20251001" → {Provider: "anthropic", Model: "claude-haiku-4-5-20251001"}
//   - "lorem-fast" → {Provider: "lorem", Model: "lorem-fast"}
//   - "openrouter/moonshotai/kimi-k2" → {Provider: "openrouter", Model: "moonshotai/kimi-k2"}
//
// Rules:
//   - If model contains "/" → split on first "/" to extract the provider
//   - Else → infer provider from the model prefix; unmapped prefixes route
//     through openrouter, which accepts arbitrary vendor/model names
func ParseModel(modelStr string) (*ModelInfo, error) {
	if modelStr == "" {
		return nil, fmt.Errorf("model string cannot be empty")
	}

	// Check if provider is explicitly specified (contains "/")
	if strings.Contains(modelStr, "/") {
		parts := strings.SplitN(modelStr, "/", 2)
		provider := parts[0]
		model := parts[1]

		if provider == "" {
			return nil, fmt.Errorf("provider cannot be empty in model string: %s", modelStr)
		}

		if model == "" {
			return nil, fmt.Errorf("model cannot be empty in model string: %s", modelStr)
		}

		return &ModelInfo{
			Provider: provider,
			Model:    model,
		}, nil
	}

	provider, ok := llmModels.GetProviderForModel(modelStr)
	if !ok {
		provider = "openrouter"
	}

	return &ModelInfo{
		Provider: provider,
		Model:    modelStr,
	}, nil
}
