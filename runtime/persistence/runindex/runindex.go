// Package runindex implements the Persistence Layer's IndexRun side: a
// relational run index backed by SQLite (modernc.org/sqlite, pure Go, no
// cgo) across two tables — pipeline_runs for cheap index queries and
// pipeline_results for the full serialized payload — so listing runs never
// requires loading every result body.
package runindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id       TEXT PRIMARY KEY,
	issue_id     TEXT NOT NULL,
	verdict      TEXT,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS pipeline_results (
	run_id      TEXT PRIMARY KEY REFERENCES pipeline_runs(run_id),
	result_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_issue_id ON pipeline_runs (issue_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_completed_at ON pipeline_runs (completed_at);
`

// Index is a SQLite-backed relational run index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite run index at path and applies
// the schema. The caller owns the returned Index and must call Close.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, perr.New(perr.KindInvalidInput, "runindex: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, "opening run index database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under our own pool

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, "applying run index schema")
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// IndexRun inserts row into the run index within a single transaction
// spanning both tables. A duplicate run_id is rejected (the primary key
// constraint surfaces as a wrapped error); pipeline_results is populated
// only when row.ResultJSON is non-empty (error runs write no result row).
func (idx *Index) IndexRun(ctx context.Context, row pipeline.RunIndexRow) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.Wrap(perr.KindPersistenceFailed, err, "beginning run index transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, issue_id, verdict, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.RunID, row.IssueID, nullIfEmpty(row.Verdict), row.StartedAt, row.CompletedAt, nullIfEmpty(row.Error),
	)
	if err != nil {
		return perr.Wrap(perr.KindPersistenceFailed, err, fmt.Sprintf("inserting run %s into pipeline_runs", row.RunID))
	}

	if row.ResultJSON != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipeline_results (run_id, result_json) VALUES (?, ?)`,
			row.RunID, row.ResultJSON,
		)
		if err != nil {
			return perr.Wrap(perr.KindPersistenceFailed, err, fmt.Sprintf("inserting run %s into pipeline_results", row.RunID))
		}
	}

	if err := tx.Commit(); err != nil {
		return perr.Wrap(perr.KindPersistenceFailed, err, "committing run index transaction")
	}
	return nil
}

// Row is one queried record from pipeline_runs, with its result payload
// joined in when present.
type Row struct {
	RunID       string
	IssueID     string
	Verdict     string
	StartedAt   string
	CompletedAt string
	Error       string
	ResultJSON  string
}

// GetRun looks up a single run by id, joining in its result payload when
// one was recorded. It returns nil, nil when no such run exists.
func (idx *Index) GetRun(ctx context.Context, runID string) (*Row, error) {
	const q = `
		SELECT r.run_id, r.issue_id, COALESCE(r.verdict, ''), r.started_at, r.completed_at, COALESCE(r.error, ''),
		       COALESCE(res.result_json, '')
		FROM pipeline_runs r
		LEFT JOIN pipeline_results res ON res.run_id = r.run_id
		WHERE r.run_id = ?`
	var out Row
	err := idx.db.QueryRowContext(ctx, q, runID).Scan(
		&out.RunID, &out.IssueID, &out.Verdict, &out.StartedAt, &out.CompletedAt, &out.Error, &out.ResultJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, fmt.Sprintf("querying run %s", runID))
	}
	return &out, nil
}

// ListRuns returns run index rows ordered by started_at descending, most
// recent first, without loading result payloads.
func (idx *Index) ListRuns(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := idx.db.QueryContext(ctx,
		`SELECT run_id, issue_id, COALESCE(verdict, ''), started_at, completed_at, COALESCE(error, '')
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, "listing runs")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.RunID, &r.IssueID, &r.Verdict, &r.StartedAt, &r.CompletedAt, &r.Error); err != nil {
			return nil, perr.Wrap(perr.KindPersistenceFailed, err, "scanning run row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, "iterating run rows")
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
