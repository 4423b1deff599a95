package dryrun

import (
	"errors"
	"testing"

	"github.com/coldpipe/coldpipe/internal/script"
)

func mustParse(t *testing.T, text string) *script.Plan {
	t.Helper()
	plan, err := script.Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return plan
}

func TestCountRewrite(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			"plain update",
			"UPDATE events SET exported = 1 WHERE exported = 0;",
			"SELECT count(*) FROM events WHERE exported = 0",
		},
		{
			"clickhouse mutation update",
			"ALTER TABLE ipfix.flows UPDATE exported = 1 WHERE exported = 0 SETTINGS mutations_sync = 2;",
			"SELECT count(*) FROM ipfix.flows WHERE exported = 0",
		},
		{
			"clickhouse mutation delete",
			"ALTER TABLE ipfix.flows DELETE WHERE exported = 1 SETTINGS mutations_sync = 2;",
			"SELECT count(*) FROM ipfix.flows WHERE exported = 1",
		},
		{
			"plain delete",
			"DELETE FROM events WHERE exported = 1;",
			"SELECT count(*) FROM events WHERE exported = 1",
		},
		{
			"export through s3 function",
			"INSERT INTO FUNCTION s3('http://minio:9000/a/k.parquet', 'ak', 'sk', 'Parquet') SELECT * FROM ipfix.flows WHERE exported = 1;",
			"SELECT count(*) FROM ipfix.flows WHERE exported = 1",
		},
		{
			"multiline statement",
			"ALTER TABLE events\n    UPDATE exported = 1\n    WHERE exported = 0;",
			"SELECT count(*) FROM events WHERE exported = 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustParse(t, tt.sql)
			got, err := CountRewrite(plan.Statements[0])
			if err != nil {
				t.Fatalf("CountRewrite failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("rewrite = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountRewriteFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"unbounded update", "UPDATE events SET exported = 1;"},
		{"unbounded delete", "DELETE FROM events;"},
		{"export without select", "INSERT INTO archive VALUES (1);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustParse(t, tt.sql)
			_, err := CountRewrite(plan.Statements[0])
			if err == nil {
				t.Fatal("expected classification error, got nil")
			}
			var classErr *ClassificationError
			if !errors.As(err, &classErr) {
				t.Errorf("error type = %T, want *ClassificationError", err)
			}
		})
	}
}

func TestBuildDryRun(t *testing.T) {
	plan := mustParse(t, `
SELECT count(*) FROM events;
UPDATE events SET exported = 1 WHERE exported = 0;
INSERT INTO archive SELECT * FROM events WHERE exported = 1;
DELETE FROM events WHERE exported = 1;
`)
	gated, err := Build(plan, true)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(gated.Actions) != 4 {
		t.Fatalf("expected 4 actions, got %d", len(gated.Actions))
	}

	// Informational statements pass through; every mutating statement is a
	// count query.
	if gated.Actions[0].CountOnly {
		t.Error("informational statement was gated")
	}
	for i, action := range gated.Actions[1:] {
		if !action.CountOnly {
			t.Errorf("action %d: mutating statement not gated", i+1)
		}
		if action.SQL == action.Source.SQL {
			t.Errorf("action %d: SQL unchanged in dry run", i+1)
		}
	}
}

func TestBuildLivePassesThrough(t *testing.T) {
	plan := mustParse(t, "UPDATE events SET exported = 1 WHERE exported = 0;")
	gated, err := Build(plan, false)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if gated.Actions[0].CountOnly {
		t.Error("live plan gated a statement")
	}
	if gated.Actions[0].SQL != plan.Statements[0].SQL {
		t.Errorf("live SQL rewritten: %q", gated.Actions[0].SQL)
	}
}

func TestBuildRejectsUnclassifiableMutation(t *testing.T) {
	plan := mustParse(t, "UPDATE events SET exported = 1;")
	if _, err := Build(plan, true); err == nil {
		t.Fatal("expected Build to fail closed on an unbounded mutation")
	}
}

func TestBuildDryRunRefusesUnknownStatements(t *testing.T) {
	// Statements outside the lifecycle roles still reach the store in a
	// dry run, so anything not provably a read is refused.
	tests := []struct {
		name string
		sql  string
	}{
		{"drop table", "DROP TABLE archive;"},
		{"truncate", "TRUNCATE TABLE events;"},
		{"optimize final", "OPTIMIZE TABLE events FINAL;"},
		{"grant", "GRANT SELECT ON events TO reader;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustParse(t, tt.sql)
			_, err := Build(plan, true)
			var classErr *ClassificationError
			if !errors.As(err, &classErr) {
				t.Fatalf("error = %v, want *ClassificationError", err)
			}
		})
	}
}

func TestBuildDryRunVerifiesReads(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantSkip bool
	}{
		{"parseable select", "SELECT count(*) FROM events;", false},
		{"parseable cte", "WITH n AS (SELECT 1) SELECT * FROM n;", false},
		{"clickhouse describe", "DESCRIBE TABLE events;", true},
		{"clickhouse show", "SHOW CREATE TABLE events;", true},
		{"exists", "EXISTS TABLE events;", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustParse(t, tt.sql)
			gated, err := Build(plan, true)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if got := gated.Actions[0].Skip; got != tt.wantSkip {
				t.Errorf("Skip = %v, want %v", got, tt.wantSkip)
			}
		})
	}
}

func TestBuildLiveNeverSkips(t *testing.T) {
	plan := mustParse(t, "DROP TABLE archive;")
	gated, err := Build(plan, false)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if gated.Actions[0].Skip {
		t.Error("live plan skipped a statement")
	}
	if gated.Actions[0].SQL != plan.Statements[0].SQL {
		t.Errorf("live SQL rewritten: %q", gated.Actions[0].SQL)
	}
}
