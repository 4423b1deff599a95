package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/engine"
	"github.com/coldpipe/coldpipe/internal/history"
	"github.com/coldpipe/coldpipe/internal/report"
	"github.com/coldpipe/coldpipe/internal/retry"
	"github.com/coldpipe/coldpipe/internal/script"
	"github.com/coldpipe/coldpipe/internal/store"
)

const lifecycleScript = `
UPDATE events SET exported = 1 WHERE exported = 0;
INSERT INTO archive SELECT id, exported FROM events WHERE exported = 1;
DELETE FROM events WHERE exported = 1;
`

func openTestStore(t *testing.T) (*store.SQLStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE events (id INTEGER PRIMARY KEY, exported INTEGER NOT NULL DEFAULT 0)`,
		`CREATE TABLE archive (id INTEGER, exported INTEGER)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	return store.NewSQLStore(db, 0), db
}

func insertEvents(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := db.Exec(`INSERT INTO events (exported) VALUES (0)`); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func tableCount(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func parseLifecycle(t *testing.T) *script.Plan {
	t.Helper()
	plan, err := script.Parse(lifecycleScript)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return plan
}

func TestLifecycleAgainstSQLite(t *testing.T) {
	st, db := openTestStore(t)
	insertEvents(t, db, 5)

	journal, err := history.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer func() { _ = journal.Close() }()

	ex := engine.New(st, journal, engine.Config{
		Table: "events",
		Live:  true,
		Retry: retry.Policy{MaxAttempts: 1},
	})

	outcome, err := ex.Run(context.Background(), parseLifecycle(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.RowsMarked != 5 || outcome.RowsExported != 5 || outcome.RowsDeleted != 5 {
		t.Errorf("counts = %d/%d/%d, want 5/5/5", outcome.RowsMarked, outcome.RowsExported, outcome.RowsDeleted)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM archive`); got != 5 {
		t.Errorf("archive rows = %d, want 5", got)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM events`); got != 0 {
		t.Errorf("events rows = %d, want 0", got)
	}

	last, err := journal.Last("events")
	if err != nil {
		t.Fatalf("journal.Last: %v", err)
	}
	if last.PhaseReached != report.PhaseCompleted {
		t.Errorf("journaled phase = %s, want completed", last.PhaseReached)
	}

	// Rows arriving after the cycle wait, unmarked, for the next one.
	insertEvents(t, db, 3)
	outcome, err = ex.Run(context.Background(), parseLifecycle(t))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if outcome.RowsDeleted != 3 {
		t.Errorf("second batch deleted %d rows, want 3", outcome.RowsDeleted)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM archive`); got != 8 {
		t.Errorf("archive rows after second run = %d, want 8", got)
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	st, db := openTestStore(t)
	insertEvents(t, db, 4)

	ex := engine.New(st, nil, engine.Config{
		Table: "events",
		Retry: retry.Policy{MaxAttempts: 1},
	})

	outcome, err := ex.Run(context.Background(), parseLifecycle(t))
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if outcome.UnexportedRows != 4 {
		t.Errorf("UnexportedRows = %d, want 4", outcome.UnexportedRows)
	}
	if outcome.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", outcome.TotalRows)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM events WHERE exported = 0`); got != 4 {
		t.Errorf("dry run changed marker state: %d unmarked, want 4", got)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM archive`); got != 0 {
		t.Errorf("dry run wrote to archive: %d rows", got)
	}
}

func TestDryRunRefusesDDLInScript(t *testing.T) {
	st, db := openTestStore(t)
	insertEvents(t, db, 4)

	plan, err := script.Parse(lifecycleScript + "DROP TABLE archive;\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ex := engine.New(st, nil, engine.Config{
		Table: "events",
		Retry: retry.Policy{MaxAttempts: 1},
	})

	_, err = ex.Run(context.Background(), plan)
	var classErr *dryrun.ClassificationError
	if !errors.As(err, &classErr) {
		t.Fatalf("error = %v, want *dryrun.ClassificationError", err)
	}

	// The refused run must not have reached the store at all.
	if got := tableCount(t, db, `SELECT count(*) FROM archive`); got != 0 {
		t.Errorf("archive rows = %d, want 0", got)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM events WHERE exported = 0`); got != 4 {
		t.Errorf("unmarked events = %d, want 4", got)
	}
}

func TestLiveRunRefusesLeftoverMarkers(t *testing.T) {
	st, db := openTestStore(t)
	insertEvents(t, db, 2)
	if _, err := db.Exec(`UPDATE events SET exported = 1 WHERE id = 1`); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ex := engine.New(st, nil, engine.Config{
		Table: "events",
		Live:  true,
		Retry: retry.Policy{MaxAttempts: 1},
	})

	_, err := ex.Run(context.Background(), parseLifecycle(t))
	var violation *engine.ConsistencyViolation
	if !errors.As(err, &violation) {
		t.Fatalf("error = %v, want *ConsistencyViolation", err)
	}
	if got := tableCount(t, db, `SELECT count(*) FROM events`); got != 2 {
		t.Errorf("refused run still mutated the table: %d rows", got)
	}
}
