package script

import "strings"

// rawStatement is a comment-stripped statement with its starting line.
type rawStatement struct {
	sql  string
	line int
}

// split walks the script character by character, tracking quoted literals,
// and produces statements terminated by top-level semicolons. A trailing
// statement with no terminator is an error rather than a silent accept:
// a truncated script must never execute a partial delete.
func split(text string) ([]rawStatement, error) {
	var (
		statements []rawStatement
		current    strings.Builder
		quote      rune // 0 when outside a literal, otherwise ' or "
		line       = 1
		stmtLine   = 0 // line of first meaningful char of current statement
	)

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\n' {
			line++
		}

		if quote != 0 {
			current.WriteRune(c)
			if c == quote {
				// SQL escapes a quote by doubling it; a pair stays inside
				// the literal.
				if i+1 < len(runes) && runes[i+1] == quote {
					current.WriteRune(runes[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"':
			quote = c
			if stmtLine == 0 {
				stmtLine = line
			}
			current.WriteRune(c)

		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			// Line comment: discard to end of line, keep the newline so
			// multi-line statements stay intact.
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				line++
				current.WriteRune('\n')
			}

		case c == ';':
			sql := strings.TrimSpace(current.String())
			if sql != "" {
				statements = append(statements, rawStatement{sql: sql, line: stmtLine})
			}
			current.Reset()
			stmtLine = 0

		default:
			if stmtLine == 0 && !isSpace(c) {
				stmtLine = line
			}
			current.WriteRune(c)
		}
	}

	if quote != 0 {
		return nil, &ParseError{Line: line, Msg: "unterminated quoted literal"}
	}
	if trailing := strings.TrimSpace(current.String()); trailing != "" {
		return nil, &ParseError{
			Line: stmtLine,
			Msg:  "statement has no closing separator ';'",
		}
	}

	return statements, nil
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// FindKeyword returns the byte index of the first occurrence of the
// upper-case keyword kw in sql that sits outside quoted literals and
// parentheses and is delimited by non-identifier characters. Returns -1
// if absent. Quote, paren, and keyword characters are all ASCII, so a
// byte scan is exact.
func FindKeyword(sql, kw string) int {
	var (
		quote byte
		depth int
	)
	upper := strings.ToUpper(sql)

	for i := 0; i < len(upper); i++ {
		c := upper[i]

		if quote != 0 {
			if c == quote {
				if i+1 < len(upper) && upper[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 && c == kw[0] && i+len(kw) <= len(upper) {
				if upper[i:i+len(kw)] == kw &&
					(i == 0 || !isWordChar(upper[i-1])) &&
					(i+len(kw) == len(upper) || !isWordChar(upper[i+len(kw)])) {
					return i
				}
			}
		}
	}
	return -1
}

func isWordChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}
