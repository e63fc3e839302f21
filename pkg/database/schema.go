package database

import (
	"context"
	"fmt"
)

// InitSchema creates the checkpoint, search cache, report and log tables.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Search cache, one row per (run, query)
	cacheQuery := `
		CREATE TABLE IF NOT EXISTS search_results (
			run_id TEXT NOT NULL,
			query TEXT NOT NULL,
			raw_result TEXT NOT NULL,
			learnings TEXT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (run_id, query)
		);
	`
	if _, err := db.Pool.Exec(ctx, cacheQuery); err != nil {
		return fmt.Errorf("failed to create search_results table: %w", err)
	}

	// 2. Checkpoints, append-only; the highest step_seq per run is authoritative
	checkpointQuery := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			step_seq BIGINT NOT NULL,
			state JSONB NOT NULL,
			next_node TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (run_id, step_seq)
		);
	`
	if _, err := db.Pool.Exec(ctx, checkpointQuery); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	// 3. Reports
	reportQuery := `
		CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			report TEXT NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, reportQuery); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}

	// 4. Run logs
	logsQuery := `
		CREATE TABLE IF NOT EXISTS run_logs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create run_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on run_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on checkpoints: %w", err)
	}

	return nil
}
