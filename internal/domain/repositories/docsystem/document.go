package docsystem

import (
	"context"

	"strand/internal/domain/models/docsystem"
)

// DocumentRepository defines the document reads the chat surface depends on.
// Only path lookup is needed: skill prompts live at ".skills/<name>/SKILL".
type DocumentRepository interface {
	// GetByPath retrieves a document by its path (e.g., ".skills/cw-prose-writing/SKILL")
	// Returns domain.ErrNotFound if not found
	GetByPath(ctx context.Context, path string, projectID string) (*docsystem.Document, error)
}
