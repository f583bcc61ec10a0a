package seed

import (
	"context"
	"log/slog"
	"time"

	"strand/internal/repository/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixed IDs so reseeding is idempotent and curl examples stay stable.
const (
	SampleChatID     = "11111111-1111-1111-1111-111111111111"
	SampleSkillDocID = "00000000-0000-0000-0000-000000000003"
)

// LLMSeeder inserts demo conversation data (chats, turns, blocks) directly,
// bypassing the service layer so IDs stay fixed across runs.
type LLMSeeder struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewLLMSeeder creates a new LLM seeder
func NewLLMSeeder(pool *pgxpool.Pool, tables *postgres.TableNames, logger *slog.Logger) *LLMSeeder {
	return &LLMSeeder{
		pool:   pool,
		tables: tables,
		logger: logger,
	}
}

// turnRow carries the columns a seeded turn writes. Nil fields insert NULL.
type turnRow struct {
	ID            string
	ChatID        string
	PrevTurnID    *string
	Role          string
	Status        string
	Error         *string
	Model         *string
	InputTokens   *int
	OutputTokens  *int
	StopReason    *string
	RequestParams map[string]interface{}
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// SeedChatData creates a sample chat demonstrating branching, thinking
// blocks, a partial reference, and an interrupted turn:
//
//	Turn 1 (user): "Explain how goroutines differ from OS threads."
//	  └─ Turn 2 (assistant): thinking + answer
//	       ├─ Turn 3 (user): "What happens when a goroutine blocks on a syscall?"
//	       │    └─ Turn 4 (assistant): answer
//	       │         └─ Turn 5 (user): "Can you show a minimal example?"
//	       │              └─ Turn 6 (assistant): cancelled mid-stream, partial block
//	       └─ Turn 3' (user): "When would I still reach for a worker pool?"
//	            └─ Turn 4' (assistant): thinking + answer
func (s *LLMSeeder) SeedChatData(ctx context.Context, projectID, userID string) error {
	now := time.Now()

	query := `INSERT INTO ` + s.tables.Chats + ` (id, project_id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, SampleChatID, projectID, userID, "Goroutines vs threads", now, now)
	if err != nil {
		return err
	}

	model := "claude-haiku-4-5-20251001"
	params := map[string]interface{}{"model": model, "temperature": 1.0}

	// Turn 1: user question with a partial reference to the seeded skill doc
	turn1ID := "22222222-2222-2222-2222-222222222221"
	if err := s.insertTurn(ctx, turnRow{
		ID: turn1ID, ChatID: SampleChatID, Role: "user", Status: "complete", CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn1ID, 0, "text", "Explain how goroutines differ from OS threads.", now); err != nil {
		return err
	}
	if err := s.insertReferenceBlock(ctx, turn1ID, 1, SampleSkillDocID,
		"Prefer short, direct answers. Skip preamble.", now); err != nil {
		return err
	}

	// Turn 2: assistant response with a thinking block
	turn2ID := "22222222-2222-2222-2222-222222222222"
	t2 := now.Add(1 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn2ID, ChatID: SampleChatID, PrevTurnID: &turn1ID,
		Role: "assistant", Status: "complete",
		Model: &model, InputTokens: intPtr(58), OutputTokens: intPtr(184),
		StopReason: strPtr("end_turn"), RequestParams: params,
		CreatedAt: t2, CompletedAt: &t2,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn2ID, 0, "thinking",
		"The user wants the practical differences, not scheduler internals. Stack size, multiplexing, and switching cost are the headline items.", t2); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn2ID, 1, "text",
		"Goroutines are multiplexed onto a small set of OS threads by the Go runtime. They start with a roughly 2KB stack that grows on demand, so one process can hold millions of them, and switching between goroutines stays in user space instead of trapping into the kernel. OS threads carry megabyte stacks and kernel-managed scheduling, which makes them far heavier to create and to switch between.", t2); err != nil {
		return err
	}

	// Turn 3: first branch from turn 2
	turn3ID := "22222222-2222-2222-2222-222222222223"
	t3 := now.Add(2 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn3ID, ChatID: SampleChatID, PrevTurnID: &turn2ID,
		Role: "user", Status: "complete", CreatedAt: t3,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn3ID, 0, "text", "What happens when a goroutine blocks on a syscall?", t3); err != nil {
		return err
	}

	// Turn 4: assistant response on the first branch
	turn4ID := "22222222-2222-2222-2222-222222222224"
	t4 := now.Add(3 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn4ID, ChatID: SampleChatID, PrevTurnID: &turn3ID,
		Role: "assistant", Status: "complete",
		Model: &model, InputTokens: intPtr(262), OutputTokens: intPtr(147),
		StopReason: strPtr("end_turn"), RequestParams: params,
		CreatedAt: t4, CompletedAt: &t4,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn4ID, 0, "text",
		"The runtime detaches the blocking thread from its scheduler slot and hands the slot to another thread, so the remaining goroutines keep running. When the syscall returns, the goroutine is queued to run again and the extra thread is parked for reuse.", t4); err != nil {
		return err
	}

	// Turn 3': second branch from turn 2 (sibling of turn 3)
	turn3AltID := "22222222-2222-2222-2222-222222222233"
	t3a := now.Add(4 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn3AltID, ChatID: SampleChatID, PrevTurnID: &turn2ID,
		Role: "user", Status: "complete", CreatedAt: t3a,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn3AltID, 0, "text", "When would I still reach for a worker pool?", t3a); err != nil {
		return err
	}

	// Turn 4': assistant response on the second branch
	turn4AltID := "22222222-2222-2222-2222-222222222244"
	t4a := now.Add(5 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn4AltID, ChatID: SampleChatID, PrevTurnID: &turn3AltID,
		Role: "assistant", Status: "complete",
		Model: &model, InputTokens: intPtr(255), OutputTokens: intPtr(168),
		StopReason: strPtr("end_turn"), RequestParams: params,
		CreatedAt: t4a, CompletedAt: &t4a,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn4AltID, 0, "thinking",
		"Worker pools still matter for bounding concurrency, not for amortizing creation cost.", t4a); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn4AltID, 1, "text",
		"Spawning a goroutine is cheap, so pools exist to bound work rather than to amortize creation cost. Reach for one when you need to cap concurrent access to a resource, such as database connections or a rate-limited API, or when you want backpressure so producers slow down instead of queueing unbounded work.", t4a); err != nil {
		return err
	}

	// Turn 5: follow-up on the first branch
	turn5ID := "22222222-2222-2222-2222-222222222225"
	t5 := now.Add(6 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn5ID, ChatID: SampleChatID, PrevTurnID: &turn4ID,
		Role: "user", Status: "complete", CreatedAt: t5,
	}); err != nil {
		return err
	}
	if err := s.insertTextBlock(ctx, turn5ID, 0, "text", "Can you show a minimal example of that handoff?", t5); err != nil {
		return err
	}

	// Turn 6: interrupted assistant turn with a partial text block, matching
	// what the executor persists when a stream is cancelled
	turn6ID := "22222222-2222-2222-2222-222222222226"
	t6 := now.Add(7 * time.Second)
	if err := s.insertTurn(ctx, turnRow{
		ID: turn6ID, ChatID: SampleChatID, PrevTurnID: &turn5ID,
		Role: "assistant", Status: "error", Error: strPtr("context canceled"),
		Model: &model, RequestParams: params,
		CreatedAt: t6, CompletedAt: &t6,
	}); err != nil {
		return err
	}
	if err := s.insertPartialTextBlock(ctx, turn6ID, 0,
		"Here is a small program that forces a blocking syscall while other goroutines keep running:\n\n```go\npackage main\n\nimport (", t6); err != nil {
		return err
	}

	s.logger.Info("sample chat seeded", "chat_id", SampleChatID)
	return nil
}

func (s *LLMSeeder) insertTurn(ctx context.Context, t turnRow) error {
	query := `INSERT INTO ` + s.tables.Turns + ` (id, chat_id, prev_turn_id, role, status, error, model, input_tokens, output_tokens, stop_reason, request_params, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, t.ID, t.ChatID, t.PrevTurnID, t.Role, t.Status,
		t.Error, t.Model, t.InputTokens, t.OutputTokens, t.StopReason, t.RequestParams,
		t.CreatedAt, t.CompletedAt)
	return err
}

func (s *LLMSeeder) insertTextBlock(ctx context.Context, turnID string, sequence int, blockType, textContent string, createdAt time.Time) error {
	query := `INSERT INTO ` + s.tables.TurnBlocks + ` (turn_id, block_type, sequence, text_content, status, created_at)
		VALUES ($1, $2, $3, $4, 'complete', $5)
		ON CONFLICT (turn_id, sequence) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, turnID, blockType, sequence, textContent, createdAt)
	return err
}

func (s *LLMSeeder) insertPartialTextBlock(ctx context.Context, turnID string, sequence int, textContent string, createdAt time.Time) error {
	query := `INSERT INTO ` + s.tables.TurnBlocks + ` (turn_id, block_type, sequence, text_content, status, created_at)
		VALUES ($1, 'text', $2, $3, 'partial', $4)
		ON CONFLICT (turn_id, sequence) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, turnID, sequence, textContent, createdAt)
	return err
}

// insertReferenceBlock inserts a partial_reference block. The excerpt lives
// in text_content; the content JSONB carries the ref metadata.
func (s *LLMSeeder) insertReferenceBlock(ctx context.Context, turnID string, sequence int, refID, excerpt string, createdAt time.Time) error {
	content := map[string]interface{}{
		"ref_id":          refID,
		"ref_type":        "document",
		"selection_start": 0,
		"selection_end":   len(excerpt),
	}
	query := `INSERT INTO ` + s.tables.TurnBlocks + ` (turn_id, block_type, sequence, text_content, content, status, created_at)
		VALUES ($1, 'partial_reference', $2, $3, $4, 'complete', $5)
		ON CONFLICT (turn_id, sequence) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, turnID, sequence, excerpt, content, createdAt)
	return err
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
