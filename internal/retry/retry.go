// Package retry classifies phase failures and drives bounded re-attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/coldpipe/coldpipe/internal/report"
)

// Class is the failure classification that decides retry vs. abort.
type Class int

const (
	// Transient failures (connection drops, timeouts) may be retried in
	// the same phase.
	Transient Class = iota
	// Fatal failures (malformed statements, authentication) abort the run
	// and surface to the operator.
	Fatal
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// transientMarkers are substrings of error text from the store or the
// network layer that indicate a retry is worth attempting.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"i/o timeout",
	"temporarily unavailable",
	"too many connections",
	"eof",
}

// fatalMarkers override: these never get better on retry.
var fatalMarkers = []string{
	"syntax error",
	"authentication failed",
	"password authentication",
	"permission denied",
	"access denied",
	"unknown table",
	"doesn't exist",
	"does not exist",
	"no such table",
}

// Classify decides whether an error is worth retrying. A nil error is
// classified Fatal: nil means success, and success is never retried.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return Fatal
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return Transient
		}
	}
	return Fatal
}

// Policy bounds the retry loop. The zero value retries nothing.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	Backoff     time.Duration // delay before the second attempt
	MaxBackoff  time.Duration // cap for the doubling schedule
}

// DefaultPolicy mirrors the two retries the original job used, with a
// short doubling backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// Do runs fn until it succeeds, fails fatally, or attempts are exhausted.
// Only classified-transient failures are retried. The last error is
// returned; it is never swallowed.
func (p Policy) Do(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == Fatal {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		log.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// CanRetryDelete decides whether re-running the Delete phase alone is
// safe. It requires proof, from the recorded outcome of the failed run,
// that the corresponding Export succeeded; without that proof a delete
// would destroy un-archived records, so the controller refuses.
func CanRetryDelete(last *report.RunOutcome) error {
	if last == nil {
		return fmt.Errorf("no recorded run for this table; cannot prove the batch was exported")
	}
	if last.DryRun {
		return fmt.Errorf("last recorded run was a dry run; nothing was exported")
	}
	if !last.ExportedButNotDeleted() {
		return fmt.Errorf("last run reached %q; delete retry requires a confirmed export with a failed delete", last.PhaseReached)
	}
	if last.RowsExported == 0 || last.RowsExported != last.RowsMarked {
		return fmt.Errorf("export of the last run is not confirmed complete (marked=%d exported=%d)", last.RowsMarked, last.RowsExported)
	}
	return nil
}
