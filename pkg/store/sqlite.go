package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikeboe/deep-research/pkg/database"
)

// SQLiteStore implements Store on a local SQLite file. It is the default backend
// for the CLI and the backend used by tests.
type SQLiteStore struct {
	DB *database.SQLiteDB
}

// NewSQLiteStore opens path and initializes the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := database.NewSQLiteDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.DB.DB.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step_seq, state, next_node, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, cp.RunID, cp.Seq, cp.State, cp.Next, createdAt(cp.CreatedAt).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint %s/%d: %w", cp.RunID, cp.Seq, err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.DB.DB.QueryRowContext(ctx, `
		SELECT run_id, step_seq, state, next_node, created_at
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY step_seq DESC
		LIMIT 1
	`, runID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.DB.DB.QueryContext(ctx, `
		SELECT run_id, step_seq, state, next_node, created_at
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY step_seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return collectCheckpoints(rows)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.DB.QueryContext(ctx, `
		SELECT c.run_id, c.step_seq, c.state, c.next_node, c.created_at
		FROM checkpoints c
		JOIN (
			SELECT run_id, MAX(step_seq) AS step_seq FROM checkpoints GROUP BY run_id
		) latest ON latest.run_id = c.run_id AND latest.step_seq = c.step_seq
		ORDER BY c.created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return collectCheckpoints(rows)
}

func (s *SQLiteStore) PutCache(ctx context.Context, entry CacheEntry) error {
	_, err := s.DB.DB.ExecContext(ctx, `
		INSERT INTO search_results (run_id, query, raw_result, learnings, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, query) DO UPDATE
		SET raw_result = excluded.raw_result, learnings = excluded.learnings, timestamp = excluded.timestamp
	`, entry.RunID, entry.Query, string(entry.RawResult), entry.Learnings, createdAt(entry.CreatedAt).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save search result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCache(ctx context.Context, runID, query string) (*CacheEntry, error) {
	entry := &CacheEntry{}
	var raw string
	var ts int64
	err := s.DB.DB.QueryRowContext(ctx, `
		SELECT run_id, query, raw_result, learnings, timestamp
		FROM search_results
		WHERE run_id = ? AND query = ?
	`, runID, query).Scan(&entry.RunID, &entry.Query, &raw, &entry.Learnings, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search result: %w", err)
	}
	entry.RawResult = []byte(raw)
	entry.CreatedAt = time.Unix(0, ts).UTC()
	return entry, nil
}

func (s *SQLiteStore) PutReport(ctx context.Context, runID, text string) error {
	_, err := s.DB.DB.ExecContext(ctx, `
		INSERT INTO reports (run_id, report, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at
	`, runID, text, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (string, error) {
	var report string
	err := s.DB.DB.QueryRowContext(ctx, `SELECT report FROM reports WHERE run_id = ?`, runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.DB.DB.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, entry.RunID, createdAt(entry.Timestamp).UnixNano(), entry.Level, entry.Message, string(entry.Metadata))
	return err
}

func (s *SQLiteStore) ListLogs(ctx context.Context, runID string) ([]LogEntry, error) {
	rows, err := s.DB.DB.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, metadata
		FROM run_logs
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var (
			l    LogEntry
			ts   int64
			meta sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message, &meta); err != nil {
			continue
		}
		l.Timestamp = time.Unix(0, ts).UTC()
		l.Metadata = json.RawMessage(meta.String)
		if len(l.Metadata) == 0 {
			l.Metadata = json.RawMessage("{}")
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp Checkpoint
		ts int64
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &cp.State, &cp.Next, &ts); err != nil {
		return nil, err
	}
	cp.CreatedAt = time.Unix(0, ts).UTC()
	return &cp, nil
}

func collectCheckpoints(rows *sql.Rows) ([]Checkpoint, error) {
	defer rows.Close()
	var cps []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}
