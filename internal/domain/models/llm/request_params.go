package llm

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultThinkingBudgetTokens is used when thinking is enabled without an
// explicit budget.
const DefaultThinkingBudgetTokens = 4096

// ThinkingParams configures extended thinking for providers that support it.
type ThinkingParams struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens *int `json:"budget_tokens,omitempty"`
}

// RequestParams is the typed view of a turn's request_params map. The raw
// map is persisted on the assistant turn verbatim; this struct is what the
// services and providers actually consume.
//
// All fields are optional. Unknown keys in the raw map are ignored so
// clients can pass provider-specific extras without breaking validation.
type RequestParams struct {
	Model       *string          `json:"model,omitempty"`
	Provider    *string          `json:"provider,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	TopK        *int             `json:"top_k,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	System      *string          `json:"system,omitempty"`
	Thinking    *ThinkingParams  `json:"thinking,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// GetMaxTokens returns the configured max_tokens, or defaultTokens when unset.
func (p *RequestParams) GetMaxTokens(defaultTokens int) int {
	if p.MaxTokens != nil && *p.MaxTokens > 0 {
		return *p.MaxTokens
	}
	return defaultTokens
}

// ThinkingIsEnabled reports whether extended thinking was requested.
func (p *RequestParams) ThinkingIsEnabled() bool {
	return p.Thinking != nil && p.Thinking.Enabled
}

// GetThinkingBudgetTokens returns the thinking token budget, applying the
// default when thinking is enabled without an explicit budget. Returns 0
// when thinking is disabled.
func (p *RequestParams) GetThinkingBudgetTokens() int {
	if !p.ThinkingIsEnabled() {
		return 0
	}
	if p.Thinking.BudgetTokens != nil && *p.Thinking.BudgetTokens > 0 {
		return *p.Thinking.BudgetTokens
	}
	return DefaultThinkingBudgetTokens
}

// Validate checks ranges on the typed params.
func (p *RequestParams) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&p.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.TopK, validation.Min(1)),
		validation.Field(&p.MaxTokens, validation.Min(1)),
	); err != nil {
		return err
	}

	if p.Thinking != nil && p.Thinking.BudgetTokens != nil && *p.Thinking.BudgetTokens < 1 {
		return fmt.Errorf("thinking.budget_tokens must be positive")
	}

	for i := range p.Tools {
		if err := p.Tools[i].Validate(); err != nil {
			return fmt.Errorf("tools[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateRequestParams validates a raw request_params map without fully
// parsing it. Known keys are type-checked; unknown keys pass through.
func ValidateRequestParams(raw map[string]interface{}) error {
	if raw == nil {
		return nil
	}

	params, err := GetRequestParamStruct(raw)
	if err != nil {
		return err
	}

	return params.Validate()
}

// GetRequestParamStruct converts a raw request_params map into RequestParams
// via a JSON round trip. Type mismatches on known keys surface as errors.
func GetRequestParamStruct(raw map[string]interface{}) (*RequestParams, error) {
	params := &RequestParams{}
	if raw == nil {
		return params, nil
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request params: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, params); err != nil {
		return nil, fmt.Errorf("failed to parse request params: %w", err)
	}

	return params, nil
}
