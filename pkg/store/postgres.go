package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	DB *database.PostgresDB
}

// NewPostgresStore connects to databaseURL and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := database.NewPostgresDB(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO checkpoints (run_id, step_seq, state, next_node, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, cp.RunID, cp.Seq, cp.State, cp.Next, createdAt(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint %s/%d: %w", cp.RunID, cp.Seq, err)
	}
	return nil
}

func (s *PostgresStore) GetLatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT run_id, step_seq, state, next_node, created_at
		FROM checkpoints
		WHERE run_id = $1
		ORDER BY step_seq DESC
		LIMIT 1
	`, runID).Scan(&cp.RunID, &cp.Seq, &cp.State, &cp.Next, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT run_id, step_seq, state, next_node, created_at
		FROM checkpoints
		WHERE run_id = $1
		ORDER BY step_seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Seq, &cp.State, &cp.Next, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT run_id, step_seq, state, next_node, created_at FROM (
			SELECT DISTINCT ON (run_id) run_id, step_seq, state, next_node, created_at
			FROM checkpoints
			ORDER BY run_id, step_seq DESC
		) latest
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Seq, &cp.State, &cp.Next, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (s *PostgresStore) PutCache(ctx context.Context, entry CacheEntry) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO search_results (run_id, query, raw_result, learnings, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, query) DO UPDATE
		SET raw_result = EXCLUDED.raw_result, learnings = EXCLUDED.learnings, timestamp = EXCLUDED.timestamp
	`, entry.RunID, entry.Query, string(entry.RawResult), entry.Learnings, createdAt(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save search result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCache(ctx context.Context, runID, query string) (*CacheEntry, error) {
	entry := &CacheEntry{}
	var raw string
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT run_id, query, raw_result, learnings, timestamp
		FROM search_results
		WHERE run_id = $1 AND query = $2
	`, runID, query).Scan(&entry.RunID, &entry.Query, &raw, &entry.Learnings, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search result: %w", err)
	}
	entry.RawResult = []byte(raw)
	return entry, nil
}

func (s *PostgresStore) PutReport(ctx context.Context, runID, text string) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO reports (run_id, report, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (run_id) DO UPDATE SET report = EXCLUDED.report, updated_at = NOW()
	`, runID, text)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, runID string) (string, error) {
	var report string
	err := s.DB.Pool.QueryRow(ctx, `SELECT report FROM reports WHERE run_id = $1`, runID).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry LogEntry) error {
	meta := entry.Metadata
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.RunID, createdAt(entry.Timestamp), entry.Level, entry.Message, meta)
	return err
}

func (s *PostgresStore) ListLogs(ctx context.Context, runID string) ([]LogEntry, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT id, run_id, timestamp, level, message, metadata
		FROM run_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *PostgresStore) Close() error {
	s.DB.Close()
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
