package llm

import "time"

// Turn represents a single message in a chat conversation tree.
// Turns form a forest via prev_turn_id: editing an earlier message creates a
// sibling branch rather than rewriting history. A nil prev_turn_id marks a
// root turn.
//
// Status lifecycle for assistant turns: "streaming" → "complete" | "error".
// User turns are created as "complete".
type Turn struct {
	ID         string  `json:"id"`
	ChatID     string  `json:"chat_id"`
	PrevTurnID *string `json:"prev_turn_id"`
	Role       string  `json:"role"`   // "user" or "assistant"
	Status     string  `json:"status"` // "complete", "streaming", "error"

	// Assistant-turn metadata (nil/absent for user turns)
	Model            *string                `json:"model,omitempty"`
	RequestParams    map[string]interface{} `json:"request_params,omitempty"`
	InputTokens      *int                   `json:"input_tokens,omitempty"`
	OutputTokens     *int                   `json:"output_tokens,omitempty"`
	StopReason       *string                `json:"stop_reason,omitempty"`
	Error            *string                `json:"error,omitempty"`
	ResponseMetadata map[string]interface{} `json:"response_metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Loaded on demand, not columns
	Blocks     []TurnBlock `json:"blocks,omitempty"`
	SiblingIDs []string    `json:"sibling_ids,omitempty"`
}

// PaginatedTurnsResponse is a window of the active conversation path plus
// flags indicating whether more turns exist in either direction.
type PaginatedTurnsResponse struct {
	Turns         []Turn `json:"turns"`
	HasMoreBefore bool   `json:"has_more_before"`
	HasMoreAfter  bool   `json:"has_more_after"`
}
