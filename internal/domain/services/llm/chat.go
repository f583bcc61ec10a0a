package llm

import (
	"context"

	"strand/internal/domain/models/llm"
	"strand/internal/httputil"
)

// ChatService defines the business logic for chat session management
// For creating turns, see StreamingService
// For reading conversation history, see ConversationService
type ChatService interface {
	// CreateChat creates a new chat session
	// Validates project exists and user has access
	CreateChat(ctx context.Context, req *CreateChatRequest) (*llm.Chat, error)

	// GetChat retrieves a chat by ID
	// Validates user has access
	GetChat(ctx context.Context, chatID, userID string) (*llm.Chat, error)

	// ListChats retrieves all chats for a project
	// Validates user has access to the project
	ListChats(ctx context.Context, projectID, userID string) ([]llm.Chat, error)

	// UpdateChat updates a chat's title and/or system prompt
	// Validates user has access
	UpdateChat(ctx context.Context, chatID, userID string, req *UpdateChatRequest) (*llm.Chat, error)

	// DeleteChat soft-deletes a chat
	// Validates user has access
	DeleteChat(ctx context.Context, chatID, userID string) error

	// UpdateLastViewedTurn moves the chat's last-viewed pointer
	// Validates the turn belongs to the chat
	UpdateLastViewedTurn(ctx context.Context, chatID, userID, turnID string) error
}

// CreateChatRequest is the DTO for creating a new chat
type CreateChatRequest struct {
	ProjectID    string  `json:"project_id"`
	UserID       string  `json:"-"` // Set by handler from auth context
	Title        string  `json:"title"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

// UpdateChatRequest is the DTO for updating a chat
// Absent fields are left unchanged; a JSON null system_prompt clears the
// chat-level override so the project prompt applies again
type UpdateChatRequest struct {
	Title        *string                 `json:"title,omitempty"`
	SystemPrompt httputil.OptionalString `json:"system_prompt"`
}
