package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"strand/internal/domain"
	llmModels "strand/internal/domain/models/llm"
	llmRepo "strand/internal/domain/repositories/llm"
	"strand/internal/repository/postgres"
)

const (
	// Pagination split for "both" direction queries. Users who swap to a
	// sibling branch mostly paginate forward to see how that branch continued,
	// so the larger share of the limit goes to "after".
	PaginationBeforeRatio = 0.25
	PaginationAfterRatio  = 0.75

	// Maximum allowed pagination limit
	MaxPaginationLimit = 200

	// Default pagination limit when none specified
	DefaultPaginationLimit = 50

	// Maximum recursion depth for turn path and leaf queries
	MaxRecursionDepth = 100
)

// PostgresTurnRepository implements the TurnRepository interface using PostgreSQL
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *postgres.RepositoryConfig) llmRepo.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateTurn creates a new turn in the conversation
func (r *PostgresTurnRepository) CreateTurn(ctx context.Context, turn *llmModels.Turn) error {
	// Validate prev turn exists if provided
	if turn.PrevTurnID != nil {
		exists, err := r.turnExists(ctx, *turn.PrevTurnID)
		if err != nil {
			return fmt.Errorf("validate prev turn: %w", err)
		}
		if !exists {
			return fmt.Errorf("prev turn %s: %w", *turn.PrevTurnID, domain.ErrNotFound)
		}
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			chat_id, prev_turn_id, role, status, error,
			model, input_tokens, output_tokens, created_at, completed_at,
			request_params, stop_reason, response_metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		turn.ChatID,
		turn.PrevTurnID,
		turn.Role,
		turn.Status,
		turn.Error,
		turn.Model,
		turn.InputTokens,
		turn.OutputTokens,
		turn.CreatedAt,
		turn.CompletedAt,
		turn.RequestParams,    // pgx handles map -> JSONB (nil becomes NULL)
		turn.StopReason,       // TEXT
		turn.ResponseMetadata, // pgx handles map -> JSONB (nil becomes NULL)
	).Scan(&turn.ID, &turn.CreatedAt)

	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("chat %s: %w", turn.ChatID, domain.ErrNotFound)
		}
		return fmt.Errorf("create turn: %w", err)
	}

	return nil
}

// turnExists checks if a turn exists
func (r *PostgresTurnRepository) turnExists(ctx context.Context, turnID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, r.tables.Turns)

	var exists bool
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, turnID).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// scanner defines the interface for row scanning (implemented by both pgx.Row and pgx.Rows)
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTurnRow scans a database row into a Turn struct
// Works with both pgx.Row (from QueryRow) and pgx.Rows (from Query)
func (r *PostgresTurnRepository) scanTurnRow(row scanner) (*llmModels.Turn, error) {
	var turn llmModels.Turn
	err := row.Scan(
		&turn.ID,
		&turn.ChatID,
		&turn.PrevTurnID,
		&turn.Role,
		&turn.Status,
		&turn.Error,
		&turn.Model,
		&turn.InputTokens,
		&turn.OutputTokens,
		&turn.CreatedAt,
		&turn.CompletedAt,
		&turn.RequestParams,    // pgx handles JSONB -> map
		&turn.StopReason,       // TEXT
		&turn.ResponseMetadata, // pgx handles JSONB -> map
	)
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

// scanTurnBlockRow scans a database row into a TurnBlock struct
func scanTurnBlockRow(row scanner) (*llmModels.TurnBlock, error) {
	var block llmModels.TurnBlock
	err := row.Scan(
		&block.TurnID,
		&block.BlockType,
		&block.Sequence,
		&block.TextContent,
		&block.Content, // pgx handles JSONB -> map
		&block.Status,
		&block.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetTurn retrieves a turn by ID
func (r *PostgresTurnRepository) GetTurn(ctx context.Context, turnID string) (*llmModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, chat_id, prev_turn_id, role, status, error,
		       model, input_tokens, output_tokens, created_at, completed_at,
		       request_params, stop_reason, response_metadata
		FROM %s
		WHERE id = $1
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	turn, err := r.scanTurnRow(executor.QueryRow(ctx, query, turnID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}

	return turn, nil
}

// GetTurnPath retrieves the conversation path from a turn to the root
// Returns turns in order from root to the specified turn
func (r *PostgresTurnRepository) GetTurnPath(ctx context.Context, turnID string) ([]llmModels.Turn, error) {
	// Recursive CTE walks prev_turn_id links toward the root; the outer
	// ORDER BY depth DESC flips the result to root-first order.
	query := fmt.Sprintf(`
		WITH RECURSIVE turn_path AS (
			SELECT id, chat_id, prev_turn_id, role, status, error,
			       model, input_tokens, output_tokens, created_at, completed_at,
			       request_params, stop_reason, response_metadata, 1 as depth
			FROM %s
			WHERE id = $1

			UNION ALL

			SELECT t.id, t.chat_id, t.prev_turn_id, t.role, t.status, t.error,
			       t.model, t.input_tokens, t.output_tokens, t.created_at, t.completed_at,
			       t.request_params, t.stop_reason, t.response_metadata, tp.depth + 1
			FROM %s t
			INNER JOIN turn_path tp ON t.id = tp.prev_turn_id
			WHERE tp.depth < %d
		)
		SELECT id, chat_id, prev_turn_id, role, status, error,
		       model, input_tokens, output_tokens, created_at, completed_at,
		       request_params, stop_reason, response_metadata
		FROM turn_path
		ORDER BY depth DESC
	`, r.tables.Turns, r.tables.Turns, MaxRecursionDepth)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("get turn path: %w", err)
	}
	defer rows.Close()

	var turns []llmModels.Turn
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []llmModels.Turn{}
	}

	return turns, nil
}

// GetTurnSiblings retrieves all sibling turns (including self) for a given turn
// Siblings are turns that share the same prev_turn_id (alternative conversation branches)
// Returns turns with blocks nested, ordered by created_at
func (r *PostgresTurnRepository) GetTurnSiblings(ctx context.Context, turnID string) ([]llmModels.Turn, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	// First get the turn's prev_turn_id and chat_id
	var prevTurnID *string
	var chatID string
	query := fmt.Sprintf(`
		SELECT prev_turn_id, chat_id
		FROM %s
		WHERE id = $1
	`, r.tables.Turns)
	err := executor.QueryRow(ctx, query, turnID).Scan(&prevTurnID, &chatID)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn prev_turn_id: %w", err)
	}

	// Get all turns with the same prev_turn_id (including self)
	var siblingsQuery string
	var rows pgx.Rows

	if prevTurnID == nil {
		// Root turn: siblings are the other root turns of the same chat
		siblingsQuery = fmt.Sprintf(`
			SELECT id, chat_id, prev_turn_id, role, status, error,
			       model, input_tokens, output_tokens, created_at, completed_at,
			       request_params, stop_reason, response_metadata
			FROM %s
			WHERE chat_id = $1 AND prev_turn_id IS NULL
			ORDER BY created_at
		`, r.tables.Turns)
		rows, err = executor.Query(ctx, siblingsQuery, chatID)
	} else {
		siblingsQuery = fmt.Sprintf(`
			SELECT id, chat_id, prev_turn_id, role, status, error,
			       model, input_tokens, output_tokens, created_at, completed_at,
			       request_params, stop_reason, response_metadata
			FROM %s
			WHERE prev_turn_id = $1
			ORDER BY created_at
		`, r.tables.Turns)
		rows, err = executor.Query(ctx, siblingsQuery, *prevTurnID)
	}

	if err != nil {
		return nil, fmt.Errorf("query siblings: %w", err)
	}
	defer rows.Close()

	var turns []llmModels.Turn
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sibling turn: %w", err)
		}
		turns = append(turns, *turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sibling turns: %w", err)
	}

	if turns == nil {
		turns = []llmModels.Turn{}
	}

	// Batch load blocks for all siblings
	turnIDs := make([]string, len(turns))
	for i, turn := range turns {
		turnIDs[i] = turn.ID
	}

	blocksByTurn, err := r.GetTurnBlocksForTurns(ctx, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("get blocks for siblings: %w", err)
	}

	for i := range turns {
		if blocks, ok := blocksByTurn[turns[i].ID]; ok {
			turns[i].Blocks = blocks
		} else {
			turns[i].Blocks = []llmModels.TurnBlock{}
		}
	}

	return turns, nil
}

// GetRootTurns retrieves all root turns for a specific chat
func (r *PostgresTurnRepository) GetRootTurns(ctx context.Context, chatID string) ([]llmModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, chat_id, prev_turn_id, role, status, error,
		       model, input_tokens, output_tokens, created_at, completed_at,
		       request_params, stop_reason, response_metadata
		FROM %s
		WHERE chat_id = $1 AND prev_turn_id IS NULL
		ORDER BY created_at
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("get root turns: %w", err)
	}
	defer rows.Close()

	var turns []llmModels.Turn
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []llmModels.Turn{}
	}

	return turns, nil
}

// UpdateTurnStatus updates a turn's status and completion time.
// A nil completedAt writes NULL, which only the "streaming" status wants.
func (r *PostgresTurnRepository) UpdateTurnStatus(ctx context.Context, turnID, status string, completedAt *time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, completed_at = $2
		WHERE id = $3
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, status, completedAt, turnID)
	if err != nil {
		return fmt.Errorf("update turn status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

// UpdateTurnError updates a turn's error message and sets status to "error"
func (r *PostgresTurnRepository) UpdateTurnError(ctx context.Context, turnID, errorMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'error', error = $1, completed_at = $2
		WHERE id = $3
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, errorMsg, time.Now(), turnID)
	if err != nil {
		return fmt.Errorf("update turn error: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

// UpdateTurnMetadata updates a turn's metadata fields (model, tokens, stop_reason, response_metadata)
func (r *PostgresTurnRepository) UpdateTurnMetadata(ctx context.Context, turnID string, metadata map[string]interface{}) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}

	model, ok := metadata["model"].(string)
	if !ok || model == "" {
		return fmt.Errorf("metadata requires a non-empty 'model' field")
	}

	// Token counts default to 0 when missing; negative values are a caller bug
	inputTokens, _ := metadata["input_tokens"].(int)
	if inputTokens < 0 {
		return fmt.Errorf("metadata 'input_tokens' must be non-negative, got %d", inputTokens)
	}

	outputTokens, _ := metadata["output_tokens"].(int)
	if outputTokens < 0 {
		return fmt.Errorf("metadata 'output_tokens' must be non-negative, got %d", outputTokens)
	}

	// Optional fields: empty stop_reason stays NULL rather than ""
	var stopReason *string
	if sr, _ := metadata["stop_reason"].(string); sr != "" {
		stopReason = &sr
	}
	responseMetadata, _ := metadata["response_metadata"].(map[string]interface{})

	query := fmt.Sprintf(`
		UPDATE %s
		SET model = $1, input_tokens = $2, output_tokens = $3,
		    stop_reason = $4, response_metadata = $5
		WHERE id = $6
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		model,
		inputTokens,
		outputTokens,
		stopReason,
		responseMetadata, // pgx handles map -> JSONB (nil becomes NULL)
		turnID,
	)
	if err != nil {
		return fmt.Errorf("update turn metadata: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

// CreateTurnBlock creates a single turn block for a turn
func (r *PostgresTurnRepository) CreateTurnBlock(ctx context.Context, block *llmModels.TurnBlock) error {
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now()
	}
	if block.Status == "" {
		block.Status = llmModels.BlockStatusComplete
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			turn_id, block_type, sequence, text_content, content, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.TurnBlocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		block.TurnID,
		block.BlockType,
		block.Sequence,
		block.TextContent,
		block.Content, // pgx handles map -> JSONB (nil becomes NULL)
		block.Status,
		block.CreatedAt,
	)

	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("turn %s: %w", block.TurnID, domain.ErrNotFound)
		}
		if postgres.IsPgDuplicateError(err) {
			return fmt.Errorf("turn block (%s, %d): %w", block.TurnID, block.Sequence, domain.ErrConflict)
		}
		return fmt.Errorf("create turn block: %w", err)
	}

	return nil
}

// CreateTurnBlocks creates turn blocks for a turn (user or assistant)
func (r *PostgresTurnRepository) CreateTurnBlocks(ctx context.Context, blocks []llmModels.TurnBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			turn_id, block_type, sequence, text_content, content, status, created_at
		)
		VALUES
	`, r.tables.TurnBlocks)

	// Build VALUES clause dynamically (7 parameters per block)
	args := make([]interface{}, 0, len(blocks)*7)
	for i, block := range blocks {
		if block.CreatedAt.IsZero() {
			block.CreatedAt = time.Now()
		}
		if block.Status == "" {
			block.Status = llmModels.BlockStatusComplete
		}

		if i > 0 {
			query += ","
		}
		query += fmt.Sprintf(`
			($%d, $%d, $%d, $%d, $%d, $%d, $%d)
		`, i*7+1, i*7+2, i*7+3, i*7+4, i*7+5, i*7+6, i*7+7)

		args = append(args,
			block.TurnID,
			block.BlockType,
			block.Sequence,
			block.TextContent,
			block.Content, // pgx handles map -> JSONB (nil becomes NULL)
			block.Status,
			block.CreatedAt,
		)
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query, args...)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("turn not found: %w", domain.ErrNotFound)
		}
		if postgres.IsPgDuplicateError(err) {
			return fmt.Errorf("turn block sequence collision: %w", domain.ErrConflict)
		}
		return fmt.Errorf("create turn blocks: %w", err)
	}

	return nil
}

// UpsertPartialTextBlock creates or updates a partial text block.
// The error path calls this as accumulated text is salvaged, so a conflict on
// (turn_id, sequence) replaces the previous partial content.
func (r *PostgresTurnRepository) UpsertPartialTextBlock(ctx context.Context, block *llmModels.TurnBlock) error {
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now()
	}
	if block.Status == "" {
		block.Status = llmModels.BlockStatusPartial
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			turn_id, block_type, sequence, text_content, content, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (turn_id, sequence)
		DO UPDATE SET text_content = EXCLUDED.text_content, status = EXCLUDED.status
	`, r.tables.TurnBlocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		block.TurnID,
		block.BlockType,
		block.Sequence,
		block.TextContent,
		block.Content,
		block.Status,
		block.CreatedAt,
	)

	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("turn %s: %w", block.TurnID, domain.ErrNotFound)
		}
		return fmt.Errorf("upsert partial text block: %w", err)
	}

	return nil
}

// GetTurnBlocks retrieves all turn blocks for a turn
func (r *PostgresTurnRepository) GetTurnBlocks(ctx context.Context, turnID string) ([]llmModels.TurnBlock, error) {
	query := fmt.Sprintf(`
		SELECT turn_id, block_type, sequence, text_content, content, status, created_at
		FROM %s
		WHERE turn_id = $1
		ORDER BY sequence
	`, r.tables.TurnBlocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("get turn blocks: %w", err)
	}
	defer rows.Close()

	var blocks []llmModels.TurnBlock
	for rows.Next() {
		block, err := scanTurnBlockRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn block: %w", err)
		}
		blocks = append(blocks, *block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn blocks: %w", err)
	}

	if blocks == nil {
		blocks = []llmModels.TurnBlock{}
	}

	return blocks, nil
}

// GetTurnBlocksForTurns retrieves blocks for multiple turns in a single query
// This eliminates N+1 query problems when loading many turns with their blocks
func (r *PostgresTurnRepository) GetTurnBlocksForTurns(
	ctx context.Context,
	turnIDs []string,
) (map[string][]llmModels.TurnBlock, error) {
	if len(turnIDs) == 0 {
		return map[string][]llmModels.TurnBlock{}, nil
	}

	query := fmt.Sprintf(`
		SELECT turn_id, block_type, sequence, text_content, content, status, created_at
		FROM %s
		WHERE turn_id = ANY($1)
		ORDER BY turn_id, sequence
	`, r.tables.TurnBlocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("get turn blocks for turns: %w", err)
	}
	defer rows.Close()

	blocksByTurn := make(map[string][]llmModels.TurnBlock)
	for rows.Next() {
		block, err := scanTurnBlockRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn block: %w", err)
		}
		blocksByTurn[block.TurnID] = append(blocksByTurn[block.TurnID], *block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn blocks: %w", err)
	}

	return blocksByTurn, nil
}

// GetSiblingsForTurns retrieves sibling turn IDs for multiple turns in a single query
// Siblings are turns that share the same prev_turn_id (alternative conversation branches)
func (r *PostgresTurnRepository) GetSiblingsForTurns(
	ctx context.Context,
	turnIDs []string,
) (map[string][]string, error) {
	if len(turnIDs) == 0 {
		return map[string][]string{}, nil
	}

	// IS NOT DISTINCT FROM matches NULL prev_turn_id too; the chat_id guard
	// keeps root turns from collecting roots of other chats as siblings.
	query := fmt.Sprintf(`
		WITH turn_parents AS (
			SELECT id, chat_id, prev_turn_id
			FROM %s
			WHERE id = ANY($1)
		)
		SELECT
			tp.id as turn_id,
			array_remove(array_agg(t.id ORDER BY t.created_at), NULL) as sibling_ids
		FROM turn_parents tp
		LEFT JOIN %s t
			ON t.chat_id = tp.chat_id
			AND t.prev_turn_id IS NOT DISTINCT FROM tp.prev_turn_id
		GROUP BY tp.id
	`, r.tables.Turns, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("get siblings for turns: %w", err)
	}
	defer rows.Close()

	siblingsByTurn := make(map[string][]string)
	for rows.Next() {
		var turnID string
		var siblingIDs []string
		err := rows.Scan(&turnID, &siblingIDs)
		if err != nil {
			return nil, fmt.Errorf("scan sibling row: %w", err)
		}

		if siblingIDs == nil {
			siblingIDs = []string{}
		}
		siblingsByTurn[turnID] = siblingIDs
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sibling rows: %w", err)
	}

	return siblingsByTurn, nil
}

// resolveDirection applies the default direction when none was requested:
// initial loads (no from_turn_id) show history from the leaf, explicit
// navigation shows context around the pivot.
func resolveDirection(direction string, fromProvided bool) string {
	if direction != "" {
		return direction
	}
	if fromProvided {
		return "both"
	}
	return "before"
}

// paginationWindow validates the limit and splits it into before/after budgets
func paginationWindow(limit int, direction string) (beforeLimit, afterLimit int, err error) {
	if limit == 0 {
		limit = DefaultPaginationLimit
	}
	if limit < 1 || limit > MaxPaginationLimit {
		return 0, 0, fmt.Errorf("limit must be between 1 and %d: %w", MaxPaginationLimit, domain.ErrValidation)
	}

	switch direction {
	case "before":
		return limit, 0, nil
	case "after":
		return 0, limit, nil
	case "both":
		beforeLimit = int(float64(limit) * PaginationBeforeRatio)
		return beforeLimit, limit - beforeLimit, nil
	default:
		return 0, 0, fmt.Errorf("direction must be 'before', 'after', or 'both': %w", domain.ErrValidation)
	}
}

// GetPaginatedTurns retrieves turns and blocks in paginated fashion using path-based navigation
func (r *PostgresTurnRepository) GetPaginatedTurns(
	ctx context.Context,
	chatID, userID string,
	fromTurnID *string,
	limit int,
	direction string,
) (*llmModels.PaginatedTurnsResponse, error) {
	direction = resolveDirection(direction, fromTurnID != nil)
	beforeLimit, afterLimit, err := paginationWindow(limit, direction)
	if err != nil {
		return nil, err
	}

	executor := postgres.GetExecutor(ctx, r.pool)

	// Verify chat exists and user has access
	chatQuery := fmt.Sprintf(`
		SELECT id, last_viewed_turn_id
		FROM %s
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, r.tables.Chats)

	var chatExists string
	var lastViewedTurnID *string
	err = executor.QueryRow(ctx, chatQuery, chatID, userID).Scan(&chatExists, &lastViewedTurnID)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("verify chat access: %w", err)
	}

	// Determine starting turn ID
	startTurnID := fromTurnID
	if startTurnID == nil {
		startTurnID = lastViewedTurnID
	}
	if startTurnID == nil {
		// No starting point: fall back to the most recent turn in the chat
		mostRecentQuery := fmt.Sprintf(`
			SELECT id FROM %s
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		`, r.tables.Turns)
		var mostRecent string
		err := executor.QueryRow(ctx, mostRecentQuery, chatID).Scan(&mostRecent)
		if err != nil {
			if postgres.IsPgNoRowsError(err) {
				// No turns in chat
				return &llmModels.PaginatedTurnsResponse{
					Turns:         []llmModels.Turn{},
					HasMoreBefore: false,
					HasMoreAfter:  false,
				}, nil
			}
			return nil, fmt.Errorf("get most recent turn: %w", err)
		}
		startTurnID = &mostRecent
	}

	// Resolve to leaf if no from_turn_id was provided (initial load)
	if fromTurnID == nil {
		leaf, err := r.findMostRecentLeaf(ctx, *startTurnID)
		if err != nil {
			return nil, fmt.Errorf("resolve to leaf: %w", err)
		}
		startTurnID = &leaf
	}

	var turns []llmModels.Turn
	var hasMoreBefore, hasMoreAfter bool

	// Fetch turns in "before" direction (follow prev_turn_id backwards)
	if beforeLimit > 0 {
		beforeTurns, err := r.fetchTurnsBefore(ctx, *startTurnID, beforeLimit+1)
		if err != nil {
			return nil, fmt.Errorf("fetch before: %w", err)
		}
		if len(beforeTurns) > beforeLimit {
			hasMoreBefore = true
			beforeTurns = beforeTurns[:beforeLimit]
		}
		// Reverse to chronological order (root first)
		for i := len(beforeTurns) - 1; i >= 0; i-- {
			turns = append(turns, beforeTurns[i])
		}
	}

	// The pivot turn is always part of the window
	startTurn, err := r.GetTurn(ctx, *startTurnID)
	if err != nil {
		return nil, fmt.Errorf("get start turn: %w", err)
	}
	turns = append(turns, *startTurn)

	// Fetch turns in "after" direction (follow children forward, picking most recent)
	if afterLimit > 0 {
		afterTurns, err := r.fetchTurnsAfter(ctx, *startTurnID, afterLimit+1)
		if err != nil {
			return nil, fmt.Errorf("fetch after: %w", err)
		}
		if len(afterTurns) > afterLimit {
			hasMoreAfter = true
			afterTurns = afterTurns[:afterLimit]
		}
		turns = append(turns, afterTurns...)
	}

	// Batch load blocks and sibling IDs, then nest them into each turn
	turnIDs := make([]string, len(turns))
	for i, turn := range turns {
		turnIDs[i] = turn.ID
	}

	blocksByTurn, err := r.GetTurnBlocksForTurns(ctx, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("get turn blocks: %w", err)
	}

	siblingsByTurn, err := r.GetSiblingsForTurns(ctx, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("get siblings for turns: %w", err)
	}

	for i := range turns {
		if blocks, ok := blocksByTurn[turns[i].ID]; ok {
			turns[i].Blocks = blocks
		} else {
			turns[i].Blocks = []llmModels.TurnBlock{}
		}

		if siblings, ok := siblingsByTurn[turns[i].ID]; ok {
			turns[i].SiblingIDs = siblings
		} else {
			turns[i].SiblingIDs = []string{}
		}
	}

	return &llmModels.PaginatedTurnsResponse{
		Turns:         turns,
		HasMoreBefore: hasMoreBefore,
		HasMoreAfter:  hasMoreAfter,
	}, nil
}

// fetchTurnsBefore follows the prev_turn_id chain backwards from (excluding) startTurnID
// Returns up to limit turns, nearest first
func (r *PostgresTurnRepository) fetchTurnsBefore(ctx context.Context, startTurnID string, limit int) ([]llmModels.Turn, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE turn_path AS (
			SELECT t.id, t.chat_id, t.prev_turn_id, t.role, t.status, t.error,
			       t.model, t.input_tokens, t.output_tokens, t.created_at, t.completed_at,
			       t.request_params, t.stop_reason, t.response_metadata, 1 as depth
			FROM %s t
			INNER JOIN %s start ON t.id = start.prev_turn_id
			WHERE start.id = $1

			UNION ALL

			SELECT t.id, t.chat_id, t.prev_turn_id, t.role, t.status, t.error,
			       t.model, t.input_tokens, t.output_tokens, t.created_at, t.completed_at,
			       t.request_params, t.stop_reason, t.response_metadata, tp.depth + 1
			FROM %s t
			INNER JOIN turn_path tp ON t.id = tp.prev_turn_id
			WHERE tp.depth < $2
		)
		SELECT id, chat_id, prev_turn_id, role, status, error,
		       model, input_tokens, output_tokens, created_at, completed_at,
		       request_params, stop_reason, response_metadata
		FROM turn_path
		ORDER BY depth ASC
		LIMIT $2
	`, r.tables.Turns, r.tables.Turns, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, startTurnID, limit)
	if err != nil {
		return nil, fmt.Errorf("query before turns: %w", err)
	}
	defer rows.Close()

	var turns []llmModels.Turn
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// fetchTurnsAfter follows children forward from (excluding) startTurnID,
// picking the most recent child when multiple branches exist
func (r *PostgresTurnRepository) fetchTurnsAfter(ctx context.Context, startTurnID string, limit int) ([]llmModels.Turn, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE turn_path AS (
			SELECT t.id, t.chat_id, t.prev_turn_id, t.role, t.status, t.error,
			       t.model, t.input_tokens, t.output_tokens, t.created_at, t.completed_at,
			       t.request_params, t.stop_reason, t.response_metadata, 1 as depth
			FROM %s t
			WHERE t.prev_turn_id = $1
			  AND t.id = (
			    SELECT id FROM %s
			    WHERE prev_turn_id = $1
			    ORDER BY created_at DESC
			    LIMIT 1
			  )

			UNION ALL

			SELECT t.id, t.chat_id, t.prev_turn_id, t.role, t.status, t.error,
			       t.model, t.input_tokens, t.output_tokens, t.created_at, t.completed_at,
			       t.request_params, t.stop_reason, t.response_metadata, tp.depth + 1
			FROM %s t
			INNER JOIN turn_path tp ON t.prev_turn_id = tp.id
			WHERE tp.depth < $2
			  AND t.id = (
			    SELECT id FROM %s
			    WHERE prev_turn_id = tp.id
			    ORDER BY created_at DESC
			    LIMIT 1
			  )
		)
		SELECT id, chat_id, prev_turn_id, role, status, error,
		       model, input_tokens, output_tokens, created_at, completed_at,
		       request_params, stop_reason, response_metadata
		FROM turn_path
		ORDER BY depth ASC
		LIMIT $2
	`, r.tables.Turns, r.tables.Turns, r.tables.Turns, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, startTurnID, limit)
	if err != nil {
		return nil, fmt.Errorf("query after turns: %w", err)
	}
	defer rows.Close()

	var turns []llmModels.Turn
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// findMostRecentLeaf walks down the tree to the most recent leaf, following
// the latest child (created_at DESC) at each level. A single recursive CTE
// replaces N sequential round-trips for deep trees.
func (r *PostgresTurnRepository) findMostRecentLeaf(ctx context.Context, startTurnID string) (string, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE leaf_finder(id, depth) AS (
			SELECT id, 0 as depth
			FROM %s
			WHERE id = $1

			UNION ALL

			SELECT t.id, lf.depth + 1
			FROM leaf_finder lf
			CROSS JOIN LATERAL (
				SELECT id
				FROM %s
				WHERE prev_turn_id = lf.id
				ORDER BY created_at DESC
				LIMIT 1
			) t
			WHERE lf.depth < $2
		)
		SELECT id FROM leaf_finder ORDER BY depth DESC LIMIT 1
	`, r.tables.Turns, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	var leafID string

	err := executor.QueryRow(ctx, query, startTurnID, MaxRecursionDepth).Scan(&leafID)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return "", fmt.Errorf("turn %s: %w", startTurnID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("find leaf: %w", err)
	}

	return leafID, nil
}
