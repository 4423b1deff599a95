// Package dryrun builds execution plans that are guaranteed side-effect
// free when dry-run mode is on.
//
// The substitution is predicate-based, not text-based: for each mutating
// statement the gate extracts the target table and row-selection predicate
// and emits SELECT count(*) over the same predicate. If it cannot extract
// both with confidence, it fails closed and nothing is executed.
package dryrun

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/coldpipe/coldpipe/internal/script"
)

// ClassificationError means the gate could not safely derive a read-only
// substitute for a mutating statement. It is fatal: guessing here risks an
// unintended mutation.
type ClassificationError struct {
	Line   int
	Reason string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("cannot classify statement at line %d: %s", e.Line, e.Reason)
}

// Target identifies the rows a mutating statement operates on.
type Target struct {
	Table     string
	Predicate string
}

// Action is one executable unit of a gated plan. CountOnly actions are
// read-only count queries whose results feed the run report. Skip marks
// an informational statement the gate could not verify read-only; a dry
// run logs and skips it instead of sending it.
type Action struct {
	Source    script.Statement
	SQL       string
	CountOnly bool
	Skip      bool
}

// Plan is a gated execution plan. When DryRun is set, no action carries a
// mutating statement.
type Plan struct {
	DryRun  bool
	Actions []Action
}

// Build gates a statement plan. With dryRun set, every Mark, Export, and
// Delete statement is replaced by its count rewrite, and informational
// statements must prove themselves read-only: a statement whose leading
// keyword is not a known read form is refused, and a known read form the
// verifier cannot parse is marked Skip rather than sent. In live mode
// everything passes through unchanged.
func Build(p *script.Plan, dryRun bool) (*Plan, error) {
	out := &Plan{DryRun: dryRun}
	for _, stmt := range p.Statements {
		if stmt.Role == script.RoleInfo {
			action := Action{Source: stmt, SQL: stmt.SQL}
			if dryRun {
				skip, err := verifyInfo(stmt)
				if err != nil {
					return nil, err
				}
				action.Skip = skip
			}
			out.Actions = append(out.Actions, action)
			continue
		}
		if !dryRun {
			out.Actions = append(out.Actions, Action{Source: stmt, SQL: stmt.SQL})
			continue
		}
		count, err := CountRewrite(stmt)
		if err != nil {
			return nil, err
		}
		out.Actions = append(out.Actions, Action{Source: stmt, SQL: count, CountOnly: true})
	}
	return out, nil
}

// readKeywords are the leading keywords the gate accepts as read-only
// statement forms. Anything else that reaches the Info role (DROP,
// TRUNCATE, OPTIMIZE, CREATE, ...) is a mutation the classifier has no
// phase for, and a dry run must refuse it rather than pass it through.
var readKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"EXISTS":   true,
}

// verifyInfo decides how a dry run treats an informational statement.
// skip=true means the leading keyword is a read form but the statement is
// dialect the verifier cannot parse; the executor logs and skips it.
func verifyInfo(stmt script.Statement) (skip bool, err error) {
	word := leadingKeyword(stmt.SQL)
	if !readKeywords[word] {
		return false, &ClassificationError{
			Line:   stmt.Line,
			Reason: fmt.Sprintf("statement starting with %s is not a known read-only form; refusing to send it during a dry run", word),
		}
	}
	if parsesAsRead(stmt.SQL) {
		return false, nil
	}
	return true, nil
}

// leadingKeyword returns the first identifier-like token, upper-cased.
func leadingKeyword(sql string) string {
	sql = strings.TrimSpace(sql)
	end := 0
	for end < len(sql) && isKeywordChar(sql[end]) {
		end++
	}
	return strings.ToUpper(sql[:end])
}

func isKeywordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// parsesAsRead reports whether sql parses as a single read-only statement.
func parsesAsRead(sql string) bool {
	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) != 1 {
		return false
	}
	switch tree.Stmts[0].Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_ExplainStmt, *pg_query.Node_VariableShowStmt:
		return true
	}
	return false
}

// CountRewrite derives the read-only count query equivalent to a mutating
// statement's row selection.
func CountRewrite(stmt script.Statement) (string, error) {
	target, err := ExtractTarget(stmt)
	if err != nil {
		return "", err
	}
	return CountQuery(target), nil
}

// CountQuery builds the count statement for a target and verifies it.
func CountQuery(t Target) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", t.Table, t.Predicate)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*`)

// ExtractTarget pulls the target table and WHERE predicate out of a
// mutating statement, then verifies that the resulting count query parses
// as a single plain SELECT. Statements the gate cannot decompose are
// refused rather than guessed at.
func ExtractTarget(stmt script.Statement) (Target, error) {
	var (
		table string
		err   error
	)
	sql := normalizeSpace(strings.TrimSpace(stmt.SQL))

	switch stmt.Role {
	case script.RoleMark:
		table, err = tableAfter(sql, "ALTER TABLE", "UPDATE")
	case script.RoleDelete:
		// Covers DELETE FROM t and the mutation form ALTER TABLE t DELETE.
		table, err = tableAfter(sql, "ALTER TABLE", "FROM")
	case script.RoleExport:
		// Export reads through an inner SELECT; its FROM clause names the
		// table regardless of the sink form (INSERT INTO FUNCTION s3(...)
		// keeps the sink arguments inside parentheses).
		if script.FindKeyword(sql, "SELECT") < 0 {
			return Target{}, &ClassificationError{Line: stmt.Line, Reason: "export statement has no SELECT source"}
		}
		table, err = tableAfter(sql, "FROM")
	default:
		return Target{}, &ClassificationError{Line: stmt.Line, Reason: "statement is not a mutating phase"}
	}
	if err != nil {
		return Target{}, &ClassificationError{Line: stmt.Line, Reason: err.Error()}
	}

	predicate, err := extractPredicate(sql)
	if err != nil {
		return Target{}, &ClassificationError{Line: stmt.Line, Reason: err.Error()}
	}

	target := Target{Table: table, Predicate: predicate}
	if err := verifyCountQuery(CountQuery(target)); err != nil {
		return Target{}, &ClassificationError{Line: stmt.Line, Reason: err.Error()}
	}
	return target, nil
}

// tableAfter returns the identifier following the first keyword from kws
// that occurs at the top level of sql.
func tableAfter(sql string, kws ...string) (string, error) {
	for _, kw := range kws {
		pos := script.FindKeyword(sql, kw)
		if pos < 0 {
			continue
		}
		rest := strings.TrimSpace(sql[pos+len(kw):])
		if m := identRe.FindString(rest); m != "" {
			return m, nil
		}
	}
	return "", fmt.Errorf("could not extract target table")
}

// extractPredicate returns the text of the last top-level WHERE clause,
// with any trailing SETTINGS clause removed.
func extractPredicate(sql string) (string, error) {
	pos := script.FindKeyword(sql, "WHERE")
	if pos < 0 {
		return "", fmt.Errorf("statement has no WHERE predicate; refusing an unbounded mutation")
	}
	// Take the last WHERE in case a subquery-free statement repeats it.
	for {
		next := script.FindKeyword(sql[pos+len("WHERE"):], "WHERE")
		if next < 0 {
			break
		}
		pos += len("WHERE") + next
	}

	pred := sql[pos+len("WHERE"):]
	if cut := script.FindKeyword(pred, "SETTINGS"); cut >= 0 {
		pred = pred[:cut]
	}
	pred = strings.TrimSpace(pred)
	if pred == "" {
		return "", fmt.Errorf("empty WHERE predicate")
	}
	return pred, nil
}

// normalizeSpace collapses whitespace runs outside quoted literals into
// single spaces so multi-line statements match keyword pairs like
// "ALTER TABLE".
func normalizeSpace(sql string) string {
	var (
		b     strings.Builder
		quote byte
		ws    bool
	)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			b.WriteByte(c)
			ws = false
		case ' ', '\t', '\n', '\r':
			if !ws {
				b.WriteByte(' ')
				ws = true
			}
		default:
			b.WriteByte(c)
			ws = false
		}
	}
	return b.String()
}

// verifyCountQuery parses the rewritten query with pg_query and requires a
// single plain SELECT. Anything else means the extraction went wrong, and
// the gate fails closed.
func verifyCountQuery(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("count rewrite does not parse: %w", err)
	}
	if len(tree.Stmts) != 1 {
		return fmt.Errorf("count rewrite produced %d statements, want 1", len(tree.Stmts))
	}
	if _, ok := tree.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt); !ok {
		return fmt.Errorf("count rewrite is not a SELECT")
	}
	return nil
}
