package docsystem

import (
	"context"
	"fmt"
	"log/slog"

	"strand/internal/domain"
	models "strand/internal/domain/models/docsystem"
	docsysRepo "strand/internal/domain/repositories/docsystem"

	"strand/internal/repository/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDocumentRepository implements the DocumentRepository interface
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(config *postgres.RepositoryConfig) docsysRepo.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// GetByPath retrieves a document by its project-relative path
func (r *PostgresDocumentRepository) GetByPath(ctx context.Context, path, projectID string) (*models.Document, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, path, name, content, created_at, updated_at
		FROM %s
		WHERE path = $1 AND project_id = $2 AND deleted_at IS NULL
	`, r.tables.Documents)

	var doc models.Document
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, path, projectID).Scan(
		&doc.ID,
		&doc.ProjectID,
		&doc.Path,
		&doc.Name,
		&doc.Content,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get document by path: %w", err)
	}

	return &doc, nil
}
