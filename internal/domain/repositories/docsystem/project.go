package docsystem

import (
	"context"

	"strand/internal/domain/models/docsystem"
)

// ProjectRepository defines the project reads the chat surface depends on.
// Full project CRUD lives outside this service; here we only validate
// existence/ownership and fetch the project-level system prompt.
type ProjectRepository interface {
	// GetByID retrieves a project by ID, scoped to the owning user
	// Returns domain.ErrNotFound if not found or soft-deleted
	GetByID(ctx context.Context, id, userID string) (*docsystem.Project, error)
}
