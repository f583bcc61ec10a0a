package llm

import (
	"context"

	"strand/internal/domain/models/llm"
)

// LLMProvider defines the interface that all LLM providers must implement.
// This abstraction allows supporting multiple providers (Anthropic, OpenRouter,
// the lorem mock) while maintaining a consistent interface for the stream
// executor.
type LLMProvider interface {
	// StreamResponse starts a streaming generation and returns a channel of
	// stream events. The channel is closed when the provider stream ends,
	// after a terminal Metadata or Error event.
	// Implementations must stop producing promptly when ctx is cancelled.
	StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "anthropic", "openrouter", "lorem")
	Name() string

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool
}

// GenerateRequest contains the parameters for an LLM generation request.
type GenerateRequest struct {
	// Messages contains the conversation history.
	// Each message has a Role (user/assistant) and its content blocks.
	Messages []llm.Message

	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// Params contains all request parameters (temperature, max_tokens, system
	// prompt, thinking settings, tools, etc.). Provider clients extract what
	// they support from this unified struct.
	// Stored as-is in the database for a complete audit trail.
	Params *llm.RequestParams
}

// StreamEvent is a single event from a provider stream.
// Exactly one of Delta, Block, Metadata, Error is set.
type StreamEvent struct {
	// Delta is an incremental content update (text, thinking, signature, or
	// partial tool-input JSON) for the block at Delta.BlockIndex.
	Delta *llm.TurnBlockDelta

	// Block is a finalized content block, emitted when the provider closes a
	// block. Carries the complete accumulated content for persistence.
	Block *llm.TurnBlock

	// Metadata is the terminal success event with final token counts and the
	// stop reason. At most one per stream, after all blocks.
	Metadata *StreamMetadata

	// Error is the terminal failure event. The channel closes after it.
	Error error
}

// StreamMetadata contains the final metadata for a completed provider stream.
type StreamMetadata struct {
	// Model is the model that was used (may differ from request if aliased)
	Model string

	// InputTokens is the number of tokens in the input
	InputTokens int

	// OutputTokens is the number of tokens in the output
	OutputTokens int

	// StopReason indicates why generation stopped ("end_turn", "tool_use",
	// "max_tokens", "stop_sequence")
	StopReason string

	// ResponseMetadata contains provider-specific response data
	// Examples: stop_sequence, cache_creation_input_tokens, provider request id
	// Stored as JSONB in the database
	ResponseMetadata map[string]interface{}
}
