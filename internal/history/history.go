// Package history keeps the append-only run journal.
//
// The journal is the engine's memory between invocations: it is how a
// Delete retry proves the corresponding Export succeeded, and how an
// operator triages leftover markers. Rows are inserted once and never
// updated or deleted.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldpipe/coldpipe/internal/report"
)

// DefaultPath is the journal filename, created next to the config file.
const DefaultPath = ".coldpipe-journal.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	target_table TEXT NOT NULL,
	dry_run INTEGER NOT NULL,
	phase_reached TEXT NOT NULL,
	rows_marked INTEGER NOT NULL,
	rows_exported INTEGER NOT NULL,
	rows_deleted INTEGER NOT NULL,
	unexported_rows INTEGER NOT NULL,
	already_exported_rows INTEGER NOT NULL,
	total_rows INTEGER NOT NULL,
	statement_count INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_table_started ON runs(target_table, started_at);
`

// ErrNoRuns is returned when a table has no journal entries yet.
var ErrNoRuns = errors.New("no recorded runs")

// Journal is a SQLite-backed run log.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path. The modernc sqlite driver
// must be registered by the importing binary.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records a finalized outcome. Outcomes are insert-only; a retry
// appends a new row rather than rewriting the failed one.
func (j *Journal) Append(o *report.RunOutcome) error {
	if !o.Finalized() {
		return fmt.Errorf("refusing to journal an unfinalized outcome")
	}
	_, err := j.db.Exec(`
		INSERT INTO runs (
			run_id, target_table, dry_run, phase_reached,
			rows_marked, rows_exported, rows_deleted,
			unexported_rows, already_exported_rows, total_rows,
			statement_count, started_at, finished_at, elapsed_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Table, boolToInt(o.DryRun), o.PhaseReached,
		o.RowsMarked, o.RowsExported, o.RowsDeleted,
		o.UnexportedRows, o.AlreadyExportedRows, o.TotalRows,
		o.StatementCount,
		o.StartedAt.UTC().Format(time.RFC3339Nano),
		o.FinishedAt.UTC().Format(time.RFC3339Nano),
		o.ElapsedMS, o.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append run outcome: %w", err)
	}
	return nil
}

// Last returns the most recent outcome for a table.
func (j *Journal) Last(table string) (*report.RunOutcome, error) {
	rows, err := j.Recent(table, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRuns
	}
	return &rows[0], nil
}

// LastLive returns the most recent non-dry-run outcome for a table. This
// is what the delete-retry guard inspects: dry runs in between must not
// mask an interrupted live cycle.
func (j *Journal) LastLive(table string) (*report.RunOutcome, error) {
	rows, err := j.query(
		`SELECT `+selectCols+` FROM runs WHERE target_table = ? AND dry_run = 0 ORDER BY id DESC LIMIT 1`,
		table,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRuns
	}
	return &rows[0], nil
}

// Recent returns up to n outcomes for a table, newest first.
func (j *Journal) Recent(table string, n int) ([]report.RunOutcome, error) {
	return j.query(
		`SELECT `+selectCols+` FROM runs WHERE target_table = ? ORDER BY id DESC LIMIT ?`,
		table, n,
	)
}

const selectCols = `run_id, target_table, dry_run, phase_reached,
	rows_marked, rows_exported, rows_deleted,
	unexported_rows, already_exported_rows, total_rows,
	statement_count, started_at, finished_at, elapsed_ms, error`

func (j *Journal) query(q string, args ...any) ([]report.RunOutcome, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []report.RunOutcome
	for rows.Next() {
		var (
			o                 report.RunOutcome
			dryRun            int
			started, finished string
		)
		if err := rows.Scan(
			&o.RunID, &o.Table, &dryRun, &o.PhaseReached,
			&o.RowsMarked, &o.RowsExported, &o.RowsDeleted,
			&o.UnexportedRows, &o.AlreadyExportedRows, &o.TotalRows,
			&o.StatementCount, &started, &finished, &o.ElapsedMS, &o.Error,
		); err != nil {
			return nil, fmt.Errorf("journal scan failed: %w", err)
		}
		o.DryRun = dryRun != 0
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			o.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			o.FinishedAt = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
