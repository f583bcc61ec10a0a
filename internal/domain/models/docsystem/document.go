package docsystem

import (
	"time"
)

// Document is a markdown file inside a project. The chat surface only reads
// documents for skill resolution (".skills/<name>/SKILL"), so the path is
// stored directly instead of being computed from a folder hierarchy.
type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
