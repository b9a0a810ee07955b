// Package dblog persists every forwarded request to a local SQLite
// database, giving the gateway a durable, queryable request history beyond
// the bounded 50-entry ring kept in memory by the stats sidecar.
package dblog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flemzord/llmgate/internal/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
	id            TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	status        INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost          REAL NOT NULL,
	path          TEXT NOT NULL,
	client_agent  TEXT NOT NULL,
	api_type      TEXT NOT NULL,
	cached        INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS request_log_timestamp_idx ON request_log (timestamp);
CREATE INDEX IF NOT EXISTS request_log_provider_idx ON request_log (provider);
`

// Store is a durable append-only log of RequestLog rows backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures its schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dblog: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dblog: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one request record.
func (s *Store) Insert(ctx context.Context, log stats.RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO request_log
			(id, timestamp, provider, model, status, duration_ms, input_tokens,
			 output_tokens, cost, path, client_agent, api_type, cached, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Timestamp, log.Provider, log.Model, log.Status, log.DurationMS,
		log.InputTokens, log.OutputTokens, log.Cost, log.Path, log.ClientAgent,
		log.APIType, boolToInt(log.Cached), log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("dblog: inserting request log: %w", err)
	}
	return nil
}

// Recent returns up to limit rows ordered newest-first.
func (s *Store) Recent(ctx context.Context, limit int) ([]stats.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, provider, model, status, duration_ms, input_tokens,
		       output_tokens, cost, path, client_agent, api_type, cached, error_message
		FROM request_log
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dblog: querying recent requests: %w", err)
	}
	defer rows.Close()

	var out []stats.RequestLog
	for rows.Next() {
		var log stats.RequestLog
		var cached int
		if err := rows.Scan(&log.ID, &log.Timestamp, &log.Provider, &log.Model, &log.Status,
			&log.DurationMS, &log.InputTokens, &log.OutputTokens, &log.Cost, &log.Path,
			&log.ClientAgent, &log.APIType, &cached, &log.ErrorMessage); err != nil {
			return nil, fmt.Errorf("dblog: scanning row: %w", err)
		}
		log.Cached = cached != 0
		out = append(out, log)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes rows older than the retention window and returns
// how many were removed. Intended for a scheduled cron job, mirroring the
// response cache's own janitor.
func (s *Store) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dblog: pruning old rows: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
