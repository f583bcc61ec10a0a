package llm

import (
	"context"

	"strand/internal/domain/models/llm"
)

// ConversationService defines the business logic for conversation history and navigation
// This service handles reading and navigating through turn history
// For chat session management, see ChatService
// For creating new turns, see StreamingService
type ConversationService interface {
	// GetTurnWithBlocks retrieves a single turn with its blocks nested
	// Validates user has access to the turn's chat
	GetTurnWithBlocks(ctx context.Context, turnID, userID string) (*llm.Turn, error)

	// GetTurnPath retrieves the conversation path from a turn to root
	// Returns turns in order from root to the specified turn, blocks nested
	GetTurnPath(ctx context.Context, turnID, userID string) ([]llm.Turn, error)

	// GetTurnSiblings retrieves all sibling turns (including self) for a given turn
	// Siblings are turns that share the same prev_turn_id (alternative conversation branches)
	// Returns turns with blocks nested, ordered by created_at
	// Used for version browsing UI ("1 of 3" navigation)
	GetTurnSiblings(ctx context.Context, turnID, userID string) ([]llm.Turn, error)

	// GetChatTree retrieves the lightweight tree structure of a chat
	// Returns only turn IDs and parent relationships (no content)
	// Used by clients to detect gaps, new branches, and structural changes
	GetChatTree(ctx context.Context, chatID, userID string) (*llm.ChatTree, error)

	// GetPaginatedTurns retrieves turns and blocks in paginated fashion
	// Follows path-based navigation (prev_turn_id chains)
	// Direction: "before" (history), "after" (future/branches), "both" (split limit)
	// fromTurnID: starting point (optional - defaults to chat.last_viewed_turn_id)
	// When updateLastViewed is set, moves the chat's last-viewed pointer to the
	// newest returned turn
	GetPaginatedTurns(ctx context.Context, chatID, userID string, fromTurnID *string, limit int, direction string, updateLastViewed bool) (*llm.PaginatedTurnsResponse, error)

	// GetTurnTokenUsage computes token usage for a turn and its full path
	// Cumulative numbers sum every assistant turn from the root to this turn
	GetTurnTokenUsage(ctx context.Context, turnID, userID string) (*TurnTokenUsage, error)
}

// TurnTokenUsage reports token consumption at a point in the conversation tree.
type TurnTokenUsage struct {
	TurnID                 string `json:"turn_id"`
	InputTokens            int    `json:"input_tokens"`
	OutputTokens           int    `json:"output_tokens"`
	CumulativeInputTokens  int    `json:"cumulative_input_tokens"`
	CumulativeOutputTokens int    `json:"cumulative_output_tokens"`
	PathLength             int    `json:"path_length"`
}
