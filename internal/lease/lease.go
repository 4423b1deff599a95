// Package lease provides the run-level mutual exclusion the engine
// requires: at most one in-flight run per target table.
//
// Two concurrent Mark phases would select overlapping unmarked rows, and
// a Delete from one run can race a Mark from another, so the lease is
// held for the whole run, not per phase. Scope is per table.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// ErrHeld means another run owns the lease for this table.
var ErrHeld = errors.New("another run holds the lease for this table")

// Lease is a held run lock. Release exactly once, after the run finishes.
type Lease interface {
	Release() error
}

// Acquire takes the per-table lease. On Postgres hot stores this is a
// session advisory lock on the store itself, so the exclusion holds
// across hosts. Everywhere else it falls back to an exclusive lockfile
// in dir (cooperating processes must share dir).
func Acquire(ctx context.Context, db *sql.DB, table, dir string) (Lease, error) {
	if db != nil {
		return acquireAdvisory(ctx, db, table)
	}
	return acquireFile(table, dir)
}

// key hashes the qualified table name into the advisory lock keyspace.
func key(table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(table))
	return int64(h.Sum64())
}

type advisoryLease struct {
	conn  *sql.Conn
	table string
}

// acquireAdvisory takes pg_try_advisory_lock on a dedicated session.
// The lock lives as long as the session, so the connection is pinned
// until Release.
func acquireAdvisory(ctx context.Context, db *sql.DB, table string) (Lease, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease session: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key(table)).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock query failed: %w", err)
	}
	if !got {
		_ = conn.Close()
		return nil, fmt.Errorf("table %s: %w", table, ErrHeld)
	}
	return &advisoryLease{conn: conn, table: table}, nil
}

func (l *advisoryLease) Release() error {
	defer func() { _ = l.conn.Close() }()
	var released bool
	if err := l.conn.QueryRowContext(context.Background(), "SELECT pg_advisory_unlock($1)", key(l.table)).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock failed: %w", err)
	}
	if !released {
		return fmt.Errorf("advisory lock for %s was not held at release", l.table)
	}
	return nil
}

type fileLease struct {
	path string
}

// acquireFile creates the lockfile with O_EXCL; existence means held.
func acquireFile(table, dir string) (Lease, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("coldpipe-%s.lock", sanitize(table))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("table %s (lockfile %s): %w", table, path, ErrHeld)
		}
		return nil, fmt.Errorf("failed to create lockfile: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lockfile: %w", err)
	}
	return &fileLease{path: path}, nil
}

func (l *fileLease) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

func sanitize(table string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, table)
}
