package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDB wraps a database/sql handle backed by the pure-Go SQLite driver.
type SQLiteDB struct {
	DB *sql.DB
}

// NewSQLiteDB opens (creating if needed) the SQLite database at path.
func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; funnel everything through one connection
	// so concurrent search tasks queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteDB{DB: db}, nil
}

func sqliteDSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		path = "checkpoints.db"
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database handle
func (db *SQLiteDB) Close() error {
	return db.DB.Close()
}

// InitSchema creates the checkpoint, search cache, report and log tables.
func (db *SQLiteDB) InitSchema(ctx context.Context) error {
	statements := []struct {
		name  string
		query string
	}{
		{"search_results", `
			CREATE TABLE IF NOT EXISTS search_results (
				run_id TEXT NOT NULL,
				query TEXT NOT NULL,
				raw_result TEXT NOT NULL,
				learnings TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				PRIMARY KEY (run_id, query)
			)`},
		{"checkpoints", `
			CREATE TABLE IF NOT EXISTS checkpoints (
				run_id TEXT NOT NULL,
				step_seq INTEGER NOT NULL,
				state BLOB NOT NULL,
				next_node TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (run_id, step_seq)
			)`},
		{"reports", `
			CREATE TABLE IF NOT EXISTS reports (
				run_id TEXT PRIMARY KEY,
				report TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`},
		{"run_logs", `
			CREATE TABLE IF NOT EXISTS run_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				metadata TEXT
			)`},
		{"idx_run_logs_run_id", `CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id)`},
	}

	for _, stmt := range statements {
		if _, err := db.DB.ExecContext(ctx, stmt.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}
