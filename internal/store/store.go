// Package store connects the lifecycle engine to the hot store.
//
// The engine treats the store as a SQL-executing service: it sends one
// statement at a time and requires mutations to be fully applied before
// the call returns. Drivers are selected from the connection string the
// same way for every supported engine.
package store

import (
	"context"
	"os"
	"strings"
	"time"
)

// Store is the single-owner hot-store handle for one run.
type Store interface {
	// Exec runs a statement and does not return until the store confirms
	// the mutation has fully applied.
	Exec(ctx context.Context, sql string) error
	// Count runs a read-only count query and returns its single value.
	Count(ctx context.Context, sql string) (int64, error)
	Close() error
}

// Options carry per-run store settings.
type Options struct {
	// Timeout bounds each statement; zero means no per-statement bound
	// beyond the caller's context.
	Timeout time.Duration
}

// DetectDriver determines the driver name from a connection string.
func DetectDriver(connString string) string {
	lower := strings.ToLower(connString)

	switch {
	case strings.HasPrefix(lower, "clickhouse://"),
		strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"):
		return "clickhouse"
	case strings.HasPrefix(lower, "postgres://"),
		strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"):
		return "libsql"
	case strings.HasPrefix(lower, "file:"),
		lower == ":memory:",
		strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite"
	}

	// A bare path that exists on disk is a SQLite file.
	if _, err := os.Stat(connString); err == nil {
		return "sqlite"
	}
	return "postgres"
}

// GetSQLDriverName maps a detected driver to its database/sql driver name.
func GetSQLDriverName(driver string) string {
	switch driver {
	case "sqlite":
		return "sqlite"
	case "libsql":
		return "libsql"
	default:
		return "postgres"
	}
}

// Open connects to the hot store named by connString.
func Open(connString string, opts Options) (Store, error) {
	if DetectDriver(connString) == "clickhouse" {
		return OpenClickHouse(connString, opts)
	}
	return OpenSQL(connString, opts)
}
