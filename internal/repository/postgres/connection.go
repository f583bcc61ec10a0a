package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"strand/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Chats      string
	Turns      string
	TurnBlocks string
	Projects   string
	Documents  string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Chats:      fmt.Sprintf("%schats", prefix),
		Turns:      fmt.Sprintf("%sturns", prefix),
		TurnBlocks: fmt.Sprintf("%sturn_blocks", prefix),
		Projects:   fmt.Sprintf("%sprojects", prefix),
		Documents:  fmt.Sprintf("%sdocuments", prefix),
	}
}

// CreateConnectionPool creates a new pgx connection pool with automatic
// transaction-pooler compatibility.
//
// By default pgx prepares statements (QueryExecModeCacheStatement), which
// PgBouncer in transaction pooling mode (conventionally port 6543) does not
// support ("prepared statement already exists"). When that port is detected
// and the user did not set an explicit mode, we switch to
// QueryExecModeCacheDescribe: still the extended protocol (required for JSONB
// encoding of map[string]interface{}), but it caches statement descriptions
// instead of server-side prepared statements.
//
// An explicit ?default_query_exec_mode=... in the connection string always
// takes precedence.
//
// Note on dynamic table names: fmt.Sprintf interpolation of the dev_/test_/
// prod_ prefixes happens before SQL reaches the server, so each environment
// gets its own statements; this is safe with statement caching.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// Configure pool size
	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context.
// If a transaction is present in the context, it returns the transaction.
// Otherwise, it returns the provided pool.
// This enables repositories to automatically participate in transactions when they exist.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	// Check if there's a transaction in the context
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	// No transaction, use the pool
	return pool
}
