// Package script parses export scripts into ordered statement plans.
//
// A script is a sequence of SQL-like statements separated by semicolons,
// with -- line comments. Comment stripping and statement splitting are
// lexical: a -- or ; inside a quoted literal never terminates anything.
package script

import (
	"fmt"
	"strings"
)

// Role classifies a statement by the lifecycle phase it belongs to.
type Role string

const (
	RoleMark   Role = "mark"
	RoleExport Role = "export"
	RoleDelete Role = "delete"
	RoleInfo   Role = "info"
)

// Statement is a single executable unit of a script.
type Statement struct {
	SQL  string
	Role Role
	Line int // 1-based line where the statement starts
}

// Plan is an ordered, read-only sequence of statements.
type Plan struct {
	Statements []Statement
}

// Count returns the number of parsed statements. Callers can assert an
// expected count to guard against silent truncation.
func (p *Plan) Count() int {
	return len(p.Statements)
}

// ByRole returns the statements with the given role, in script order.
func (p *Plan) ByRole(role Role) []Statement {
	var out []Statement
	for _, s := range p.Statements {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// ParseError reports a malformed script. No statements from a script that
// fails to parse are ever executed.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("script parse error at line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("script parse error: %s", e.Msg)
}

// roleRank orders the mutating phases. Info statements are unordered.
func roleRank(r Role) int {
	switch r {
	case RoleMark:
		return 1
	case RoleExport:
		return 2
	case RoleDelete:
		return 3
	}
	return 0
}

// Parse lexes a script into a Plan. It strips comments, splits on
// statement separators, classifies each statement, and verifies that the
// mutating phases appear in Mark, Export, Delete order.
func Parse(text string) (*Plan, error) {
	raw, err := split(text)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &ParseError{Msg: "no statements after comment stripping"}
	}

	plan := &Plan{}
	maxRank := 0
	for _, rs := range raw {
		stmt := Statement{
			SQL:  rs.sql,
			Role: Classify(rs.sql),
			Line: rs.line,
		}
		if rank := roleRank(stmt.Role); rank > 0 {
			if rank < maxRank {
				return nil, &ParseError{
					Line: rs.line,
					Msg:  fmt.Sprintf("%s statement appears after a later phase; phases must be ordered mark, export, delete", stmt.Role),
				}
			}
			maxRank = rank
		}
		plan.Statements = append(plan.Statements, stmt)
	}
	return plan, nil
}

// Classify determines a statement's role from its leading keywords.
// UPDATE and ALTER TABLE ... UPDATE mark rows, INSERT exports them
// (including INSERT INTO FUNCTION external-sink forms), DELETE and
// ALTER TABLE ... DELETE remove them. Everything else is informational
// and is executed read-only regardless of dry-run mode.
func Classify(sql string) Role {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(upper, "UPDATE"):
		return RoleMark
	case strings.HasPrefix(upper, "ALTER TABLE"):
		// ClickHouse mutations: ALTER TABLE t UPDATE ... / ALTER TABLE t DELETE ...
		if containsTopLevelWord(upper, "DELETE") {
			return RoleDelete
		}
		if containsTopLevelWord(upper, "UPDATE") {
			return RoleMark
		}
		return RoleInfo
	case strings.HasPrefix(upper, "INSERT"):
		return RoleExport
	case strings.HasPrefix(upper, "DELETE"):
		return RoleDelete
	default:
		return RoleInfo
	}
}

// containsTopLevelWord reports whether word occurs outside quotes and
// parentheses in the (already upper-cased) statement.
func containsTopLevelWord(upper, word string) bool {
	return FindKeyword(upper, word) >= 0
}
