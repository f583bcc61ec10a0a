package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"strand/internal/domain/models/llm"
	domainllm "strand/internal/domain/services/llm"
)

// DefaultMaxTokens is used when the request does not specify max_tokens.
const DefaultMaxTokens = 4096

// Provider implements the LLMProvider interface for Anthropic (Claude) models.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client: &client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// buildMessageParams translates a domain request into Anthropic Messages API
// parameters. Shared by streaming and any future non-streaming call path.
func (p *Provider) buildMessageParams(req *domainllm.GenerateRequest) (anthropic.MessageNewParams, error) {
	params := req.Params
	if params == nil {
		params = &llm.RequestParams{}
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(params.GetMaxTokens(DefaultMaxTokens)),
	}

	if params.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*params.Temperature)
	}

	if params.TopP != nil {
		apiParams.TopP = anthropic.Float(*params.TopP)
	}

	if params.TopK != nil {
		apiParams.TopK = anthropic.Int(int64(*params.TopK))
	}

	if len(params.Stop) > 0 {
		apiParams.StopSequences = params.Stop
	}

	if params.System != nil {
		apiParams.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: *params.System,
			},
		}
	}

	if params.ThinkingIsEnabled() {
		apiParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(params.GetThinkingBudgetTokens()))
	}

	if len(params.Tools) > 0 {
		tools, err := convertTools(params.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		apiParams.Tools = tools
	}

	return apiParams, nil
}

// BuildDebugProviderRequest returns the Messages API request body that
// StreamResponse would send, as a generic JSON map. Used by debug endpoints
// to inspect the exact provider payload without making an API call.
func (p *Provider) BuildDebugProviderRequest(ctx context.Context, req *domainllm.GenerateRequest) (map[string]interface{}, error) {
	apiParams, err := p.buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(apiParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal anthropic request: %w", err)
	}

	return result, nil
}
