package migrations

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping migration integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return pool
}

func runSQL(t *testing.T, pool *pgxpool.Pool, filename string) {
	t.Helper()
	sql, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = pool.Exec(ctx, string(sql))
	if err != nil {
		t.Fatalf("failed to execute %s: %v", filename, err)
	}
}

func TestMigration_UpCreatesTable(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")

	ctx := context.Background()
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)",
		"critic_acceptance_memory",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("critic_acceptance_memory does not exist after up migration")
	}
}

func TestMigration_UpIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")
	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")
}

func TestMigration_DownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.down.sql")
	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")

	ctx := context.Background()
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)",
		"critic_acceptance_memory",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("critic_acceptance_memory does not exist after down+up cycle")
	}
}

func TestMigration_VectorColumnExists(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")

	ctx := context.Background()
	var dataType string
	err := pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = 'critic_acceptance_memory' AND column_name = 'query_embedding'
	`).Scan(&dataType)
	if err != nil {
		t.Fatalf("failed to check query_embedding column: %v", err)
	}
	if dataType != "vector" {
		t.Errorf("query_embedding column type = %q, want %q", dataType, "vector")
	}
}

func TestMigration_QueryHashIsGenerated(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")

	ctx := context.Background()
	var generationExpr string
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(generation_expression, '') FROM information_schema.columns
		WHERE table_name = 'critic_acceptance_memory' AND column_name = 'query_hash'
	`).Scan(&generationExpr)
	if err != nil {
		t.Fatalf("failed to check query_hash column: %v", err)
	}
	if generationExpr == "" {
		t.Error("query_hash should be a generated column")
	}
}

func TestMigration_ScoreCheckConstraintsReject(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_critic_acceptance_memory.up.sql")

	ctx := context.Background()
	zeroVec := make([]float32, 1536)
	_, err := pool.Exec(ctx, `
		INSERT INTO critic_acceptance_memory
			(research_query, query_embedding, pmid, relevance_score, methodology_score, quality_score, iteration)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, "test query", zeroVec, "999999", 1.5, 0.5, 0.5, 1)
	if err == nil {
		t.Error("expected check constraint violation for relevance_score > 1, got none")
	}
}
