package openrouter

import (
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

// baseURL is OpenRouter's OpenAI-compatible endpoint.
const baseURL = "https://openrouter.ai/api/v1"

// Provider implements the LLMProvider interface for OpenRouter, which fronts
// OpenAI, Google and other vendors behind one OpenAI-compatible API.
type Provider struct {
	client *openai.Client
}

// NewProvider creates a new OpenRouter provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)

	return &Provider{
		client: &client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openrouter"
}

// SupportsModel returns true for any non-empty model. OpenRouter is the
// fallback router: it carries every vendor namespace ("openai/gpt-5",
// "gpt-5-mini", "google/gemini-2.5-pro"), so model validation is left to
// the upstream API.
func (p *Provider) SupportsModel(model string) bool {
	return model != ""
}

// buildChatParams translates a domain request into Chat Completions
// parameters. OpenRouter-only fields (top_k, reasoning) are not part of the
// OpenAI schema, so they ride along as request options instead.
func (p *Provider) buildChatParams(req *domainllm.GenerateRequest) (openai.ChatCompletionNewParams, []option.RequestOption, error) {
	params := req.Params
	if params == nil {
		params = &llm.RequestParams{}
	}

	messages, err := convertMessages(req.Messages, params.System)
	if err != nil {
		return openai.ChatCompletionNewParams{}, nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	chatParams := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if params.Temperature != nil {
		chatParams.Temperature = openai.Float(*params.Temperature)
	}

	if params.TopP != nil {
		chatParams.TopP = openai.Float(*params.TopP)
	}

	if params.MaxTokens != nil {
		chatParams.MaxTokens = openai.Int(int64(*params.MaxTokens))
	}

	if len(params.Stop) > 0 {
		chatParams.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: params.Stop,
		}
	}

	if len(params.Tools) > 0 {
		tools, err := convertTools(params.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatParams.Tools = tools
	}

	var opts []option.RequestOption

	if params.TopK != nil {
		opts = append(opts, option.WithJSONSet("top_k", *params.TopK))
	}

	if params.ThinkingIsEnabled() {
		opts = append(opts, option.WithJSONSet("reasoning", map[string]interface{}{
			"max_tokens": params.GetThinkingBudgetTokens(),
		}))
	}

	return chatParams, opts, nil
}
