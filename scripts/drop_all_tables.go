//go:build ignore

// Drops every table for the current environment prefix. Run with:
//
//	go run scripts/drop_all_tables.go
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	prefix := tablePrefix()

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }() // Error ignored: script exiting

	// Drop order doesn't matter with CASCADE, but keep children first anyway
	for _, table := range []string{"turn_blocks", "turns", "chats", "documents", "projects"} {
		if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s%s CASCADE", prefix, table)); err != nil {
			log.Fatalf("Failed to drop %s%s: %v", prefix, table, err)
		}
	}

	fmt.Printf("All tables dropped successfully (prefix: %s)\n", prefix)
}

// tablePrefix mirrors config.Load: explicit TABLE_PREFIX wins, otherwise the
// prefix derives from ENVIRONMENT.
func tablePrefix() string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}
	switch os.Getenv("ENVIRONMENT") {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}
