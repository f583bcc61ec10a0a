package llm

import (
	"context"

	"strand/internal/domain/models/llm"
)

// StreamingService defines the business logic for turn creation and streaming orchestration
// This service handles creating turns and coordinating streaming responses
// For chat session management, see ChatService
// For reading conversation history, see ConversationService
type StreamingService interface {
	// CreateTurn creates a new user turn and triggers assistant streaming response
	// Validates chat exists, prev turn exists if provided
	// Creates user turn + blocks + placeholder assistant turn atomically
	// Registers the assistant turn's stream before returning so an immediate
	// GET on the stream URL always finds it
	// Note: Only accepts "user" role. Assistant turns are created internally
	CreateTurn(ctx context.Context, req *CreateTurnRequest) (*CreateTurnResponse, error)

	// InterruptTurn cancels a live streaming turn
	// Returns domain.ErrNotFound if no live stream exists for the turn
	InterruptTurn(ctx context.Context, turnID, userID string) error

	// CreateAssistantTurnDebug creates an assistant turn directly (DEBUG/INTERNAL USE ONLY)
	// WARNING: This method should ONLY be called by debug handlers
	// (when ENVIRONMENT=dev) to build test fixtures
	// DO NOT expose this to public API endpoints
	CreateAssistantTurnDebug(ctx context.Context, chatID string, userID string, prevTurnID *string, blocks []TurnBlockInput, model string) (*llm.Turn, error)
}

// CreateTurnRequest is the DTO for creating a new turn
type CreateTurnRequest struct {
	ChatID         string                 `json:"chat_id"`
	UserID         string                 `json:"-"` // Set by handler from auth context, not from request body
	PrevTurnID     *string                `json:"prev_turn_id,omitempty"`
	Role           string                 `json:"role"` // "user" only (backend generates assistant turns)
	TurnBlocks     []TurnBlockInput       `json:"turn_blocks,omitempty"`
	SelectedSkills []string               `json:"selected_skills,omitempty"` // skill names resolved into the system prompt
	RequestParams  map[string]interface{} `json:"request_params,omitempty"`  // LLM request parameters (model, temperature, thinking, tools, etc.)
}

// TurnBlockInput is the DTO for content block creation
type TurnBlockInput struct {
	BlockType   string                 `json:"block_type"` // "text", "image", "reference", "partial_reference", "tool_result"
	TextContent *string                `json:"text_content,omitempty"`
	Content     map[string]interface{} `json:"content,omitempty"` // JSONB for type-specific structured data
}

// CreateTurnResponse is the response DTO for CreateTurn
// Returns both the user turn and the assistant turn that was created for streaming
type CreateTurnResponse struct {
	UserTurn      *llm.Turn `json:"user_turn"`
	AssistantTurn *llm.Turn `json:"assistant_turn"`
	StreamURL     string    `json:"stream_url"` // Convenience URL for SSE streaming
}
