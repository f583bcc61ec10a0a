package docsystem

import (
	"time"
)

// Project is the container chats live in. Only the fields the chat
// surface needs: identity, ownership, and the project-level system prompt.
type Project struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	SystemPrompt *string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}
