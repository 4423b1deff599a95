package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore backs Postgres, SQLite, and libSQL hot stores through
// database/sql. All three drivers apply mutations synchronously, so Exec
// returning without error is the confirmation the engine requires.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

// OpenSQL opens a database/sql backed store. The driver is detected from
// the connection string; the corresponding driver package must be
// registered by the importing binary.
func OpenSQL(connString string, opts Options) (*SQLStore, error) {
	driverName := GetSQLDriverName(DetectDriver(connString))
	db, err := sql.Open(driverName, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}
	return &SQLStore{db: db, timeout: opts.Timeout}, nil
}

// NewSQLStore wraps an existing connection. Tests use this with in-memory
// SQLite.
func NewSQLStore(db *sql.DB, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, timeout: timeout}
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *SQLStore) Exec(ctx context.Context, sqlText string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("statement failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, sqlText string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, sqlText).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the lease package, which needs a
// session-scoped advisory lock on the same server.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}
