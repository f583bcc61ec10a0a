package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	"strand/internal/config"
	"strand/internal/repository/postgres"
	"strand/internal/seed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Environment-prefixed schema. Statements are separated by --- lines and
// executed one at a time so failures point at the statement that broke.
const schema = `
CREATE TABLE IF NOT EXISTS {p}projects (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id       UUID NOT NULL,
    name          TEXT NOT NULL,
    system_prompt TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at    TIMESTAMPTZ
);
---
CREATE TABLE IF NOT EXISTS {p}documents (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    project_id UUID NOT NULL REFERENCES {p}projects(id) ON DELETE CASCADE,
    path       TEXT NOT NULL,
    name       TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ
);
---
CREATE UNIQUE INDEX IF NOT EXISTS {p}documents_project_path_key
    ON {p}documents (project_id, path) WHERE deleted_at IS NULL;
---
CREATE TABLE IF NOT EXISTS {p}chats (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    project_id          UUID NOT NULL REFERENCES {p}projects(id) ON DELETE CASCADE,
    user_id             UUID NOT NULL,
    title               TEXT NOT NULL,
    system_prompt       TEXT,
    last_viewed_turn_id UUID,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at          TIMESTAMPTZ
);
---
CREATE UNIQUE INDEX IF NOT EXISTS {p}chats_project_user_title_key
    ON {p}chats (project_id, user_id, title) WHERE deleted_at IS NULL;
---
CREATE INDEX IF NOT EXISTS {p}chats_project_user_idx
    ON {p}chats (project_id, user_id);
---
CREATE TABLE IF NOT EXISTS {p}turns (
    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    chat_id           UUID NOT NULL REFERENCES {p}chats(id) ON DELETE CASCADE,
    prev_turn_id      UUID REFERENCES {p}turns(id) ON DELETE CASCADE,
    role              TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    status            TEXT NOT NULL CHECK (status IN ('streaming', 'complete', 'error')),
    error             TEXT,
    model             TEXT,
    input_tokens      INTEGER,
    output_tokens     INTEGER,
    stop_reason       TEXT,
    request_params    JSONB,
    response_metadata JSONB,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at      TIMESTAMPTZ
);
---
CREATE INDEX IF NOT EXISTS {p}turns_chat_idx ON {p}turns (chat_id);
---
CREATE INDEX IF NOT EXISTS {p}turns_prev_idx ON {p}turns (prev_turn_id);
---
CREATE TABLE IF NOT EXISTS {p}turn_blocks (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    turn_id      UUID NOT NULL REFERENCES {p}turns(id) ON DELETE CASCADE,
    block_type   TEXT NOT NULL,
    sequence     INTEGER NOT NULL,
    text_content TEXT,
    content      JSONB,
    status       TEXT NOT NULL DEFAULT 'complete' CHECK (status IN ('complete', 'partial')),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (turn_id, sequence)
);
---
CREATE INDEX IF NOT EXISTS {p}turn_blocks_content_idx ON {p}turn_blocks USING GIN (content);
`

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed demo data")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("🚫 BLOCKED: Cannot run --drop-tables in production environment")
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *schemaOnly {
		log.Printf("🏗️  Setting up schema only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else {
		log.Printf("🌱 Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	}

	// Create database connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Drop tables if requested
	if *dropTables {
		log.Println("🗑️  Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✅ Tables dropped")
	}

	// Run schema to ensure tables exist
	log.Println("📋 Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("✅ Schema ready")

	if *schemaOnly {
		log.Println("✅ Schema setup complete (schema-only mode)")
		return
	}

	// Ensure the dev project and sample skill exist
	if err := ensureDevFixtures(ctx, pool, tables, cfg); err != nil {
		log.Fatalf("Failed to ensure dev fixtures: %v", err)
	}
	log.Printf("✅ Dev project ready (project: %s, user: %s)", cfg.DevProjectID, cfg.DevUserID)

	// Seed a sample branching conversation
	seeder := seed.NewLLMSeeder(pool, tables, logger)
	if err := seeder.SeedChatData(ctx, cfg.DevProjectID, cfg.DevUserID); err != nil {
		log.Fatalf("Failed to seed chat data: %v", err)
	}

	log.Println("🎉 Seeding complete!")
}

// runSchema creates tables if they don't exist
func runSchema(ctx context.Context, pool *pgxpool.Pool, tablePrefix string) error {
	statements := strings.Split(strings.ReplaceAll(schema, "{p}", tablePrefix), "---")
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dropAllTables drops all tables, children first
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	tableNames := []string{
		tables.TurnBlocks,
		tables.Turns,
		tables.Chats,
		tables.Documents,
		tables.Projects,
	}

	for _, table := range tableNames {
		dropSQL := "DROP TABLE IF EXISTS " + table + " CASCADE"
		if _, err := pool.Exec(ctx, dropSQL); err != nil {
			return err
		}
		log.Printf("  ✓ Dropped %s", table)
	}

	return nil
}

// ensureDevFixtures inserts the fixed dev project and the sample skill
// document the whole dev loop assumes. IDs stay stable so curl examples and
// the CLI script work against a fresh database.
func ensureDevFixtures(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, cfg *config.Config) error {
	query := `
		INSERT INTO ` + tables.Projects + ` (id, user_id, name, system_prompt)
		VALUES ($1, $2, 'Scratch', 'You are a helpful assistant.')
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := pool.Exec(ctx, query, cfg.DevProjectID, cfg.DevUserID); err != nil {
		return err
	}

	query = `
		INSERT INTO ` + tables.Documents + ` (id, project_id, path, name, content)
		VALUES ($1, $2, '.skills/concise/SKILL', 'SKILL', 'Prefer short, direct answers. Skip preamble.')
		ON CONFLICT (id) DO NOTHING
	`
	_, err := pool.Exec(ctx, query, seed.SampleSkillDocID, cfg.DevProjectID)
	return err
}
