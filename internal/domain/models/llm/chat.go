package llm

import (
	"time"
)

// Chat represents a chat session within a project
type Chat struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	SystemPrompt     *string    `json:"system_prompt,omitempty"`
	LastViewedTurnID *string    `json:"last_viewed_turn_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// TurnTreeNode is a single turn in the chat's branch structure.
// Only identity and linkage, no content.
type TurnTreeNode struct {
	ID         string  `json:"id"`
	PrevTurnID *string `json:"prev_turn_id,omitempty"`
}

// ChatTree is the full branch structure of a chat, ordered depth-first
// so siblings appear in creation order.
type ChatTree struct {
	Turns     []TurnTreeNode `json:"turns"`
	UpdatedAt time.Time      `json:"updated_at"`
}
