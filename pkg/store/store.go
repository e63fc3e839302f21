package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Checkpoint is an immutable snapshot of a run's state plus the node to execute next.
// State is the opaque serialized RunState.
type Checkpoint struct {
	RunID     string
	Seq       int64
	State     []byte
	Next      string
	CreatedAt time.Time
}

// CacheEntry is a memoized search resolution for (RunID, Query).
type CacheEntry struct {
	RunID     string
	Query     string
	RawResult []byte
	Learnings string
	CreatedAt time.Time
}

// LogEntry is a single structured log record attached to a run.
type LogEntry struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Store is the durable backing for checkpoints, the per-run search cache and reports.
//
// Every operation is atomic at the granularity of a single row. Writes to different
// run ids never contend; a single run id is expected to have one writer at a time.
type Store interface {
	PutCheckpoint(ctx context.Context, cp Checkpoint) error
	// GetLatestCheckpoint returns the checkpoint with the highest Seq for runID.
	GetLatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error)
	// ListRuns returns the latest checkpoint of the most recently updated runs.
	ListRuns(ctx context.Context, limit int) ([]Checkpoint, error)

	// PutCache upserts; the last write wins.
	PutCache(ctx context.Context, entry CacheEntry) error
	GetCache(ctx context.Context, runID, query string) (*CacheEntry, error)

	PutReport(ctx context.Context, runID, text string) error
	GetReport(ctx context.Context, runID string) (string, error)

	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, runID string) ([]LogEntry, error)

	Close() error
}
