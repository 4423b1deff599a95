// Package engine runs the export-and-purge lifecycle: Mark, then Export,
// then Delete, in that order, with synchronous confirmation of each phase
// before the next begins.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/report"
	"github.com/coldpipe/coldpipe/internal/retry"
	"github.com/coldpipe/coldpipe/internal/script"
	"github.com/coldpipe/coldpipe/internal/store"
)

// Journal receives finalized run outcomes. Append-only.
type Journal interface {
	Append(o *report.RunOutcome) error
}

// Config controls one executor. The zero value is a dry run; mutating
// the store is always an explicit caller decision.
type Config struct {
	// Table is the qualified hot-store table, used for reporting and the
	// preflight census. Derived from the script when empty.
	Table string
	// MarkerColumn is the per-record export marker. Default "exported".
	MarkerColumn string
	// Live disables the dry-run gate and sends the mutating statements.
	// When false, every mutating statement becomes a count query.
	Live bool
	// ExpectStatements, when non-zero, asserts the parsed statement count
	// as a guard against silent script truncation.
	ExpectStatements int
	// RunID, when set, names the run; callers that embed the run ID in the
	// artifact key pass it so journal and artifact agree. Empty generates
	// a fresh UUID.
	RunID string
	// Retry bounds per-phase re-attempts for transient failures.
	Retry retry.Policy
}

// Executor drives one run at a time against a single-owner store handle.
type Executor struct {
	store   store.Store
	journal Journal
	cfg     Config
	log     *slog.Logger
}

// New builds an executor. journal may be nil (outcomes are then only
// returned, not persisted). A zero cfg runs dry; cfg.Live must be set
// explicitly for the run to mutate the store.
func New(st store.Store, journal Journal, cfg Config) *Executor {
	if cfg.MarkerColumn == "" {
		cfg.MarkerColumn = "exported"
	}
	return &Executor{
		store:   st,
		journal: journal,
		cfg:     cfg,
		log:     slog.Default().With("component", "engine", "table", cfg.Table),
	}
}

// targets holds the count queries derived from the script's own
// predicates. Counting through the statements' predicates rather than
// fixed SQL keeps the dry-run guarantee even when the script changes.
type targets struct {
	table       string
	unmarkedSQL string // rows the Mark phase would select
	markedSQL   string // rows Export and Delete operate on
	totalSQL    string
}

func (e *Executor) deriveTargets(plan *script.Plan) (*targets, error) {
	t := &targets{table: e.cfg.Table}

	if marks := plan.ByRole(script.RoleMark); len(marks) > 0 {
		target, err := dryrun.ExtractTarget(marks[0])
		if err != nil {
			return nil, err
		}
		t.unmarkedSQL = dryrun.CountQuery(target)
		if t.table == "" {
			t.table = target.Table
		}
	}

	// The marked-rows predicate comes from the Delete statement when
	// present, else from the Export source.
	scoped := plan.ByRole(script.RoleDelete)
	if len(scoped) == 0 {
		scoped = plan.ByRole(script.RoleExport)
	}
	if len(scoped) > 0 {
		target, err := dryrun.ExtractTarget(scoped[0])
		if err != nil {
			return nil, err
		}
		t.markedSQL = dryrun.CountQuery(target)
		if t.table == "" {
			t.table = target.Table
		}
	}

	if t.table != "" {
		t.totalSQL = fmt.Sprintf("SELECT count(*) FROM %s", t.table)
	}
	return t, nil
}

// checkExportScope enforces the core safety property: Export must select
// only rows carrying the marker, never the unmarked-inclusive table.
func (e *Executor) checkExportScope(plan *script.Plan) error {
	markerRe := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.cfg.MarkerColumn) + `\b`)
	for _, st := range plan.ByRole(script.RoleExport) {
		target, err := dryrun.ExtractTarget(st)
		if err != nil {
			return err
		}
		if !markerRe.MatchString(target.Predicate) {
			return fmt.Errorf("statement at line %d selects on %q: %w", st.Line, target.Predicate, ErrExportNotMarkerScoped)
		}
	}
	return nil
}

// Run executes the plan and returns the finalized outcome. The outcome is
// journaled (when a journal is configured) on every path, success or
// abort.
func (e *Executor) Run(ctx context.Context, plan *script.Plan) (*report.RunOutcome, error) {
	outcome := report.NewRunOutcome(e.runID(), e.cfg.Table, !e.cfg.Live)
	outcome.StatementCount = plan.Count()

	err := e.run(ctx, plan, outcome)
	outcome.Finalize(err)
	e.appendJournal(outcome)
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (e *Executor) run(ctx context.Context, plan *script.Plan, outcome *report.RunOutcome) error {
	if e.cfg.ExpectStatements > 0 && plan.Count() != e.cfg.ExpectStatements {
		return fmt.Errorf("%w: parsed %d, expected %d", ErrStatementCountMismatch, plan.Count(), e.cfg.ExpectStatements)
	}
	if err := e.checkExportScope(plan); err != nil {
		return err
	}

	gated, err := dryrun.Build(plan, !e.cfg.Live)
	if err != nil {
		return err
	}

	t, err := e.deriveTargets(plan)
	if err != nil {
		return err
	}
	if outcome.Table == "" {
		outcome.Table = t.table
	}

	if !e.cfg.Live {
		return e.runDry(ctx, gated, t, outcome)
	}
	return e.runLive(ctx, plan, t, outcome)
}

// runDry executes only the gated count queries and the informational
// statements the gate verified read-only. The store is read, never
// written.
func (e *Executor) runDry(ctx context.Context, gated *dryrun.Plan, t *targets, outcome *report.RunOutcome) error {
	e.log.Info("dry run: counting rows only, no export or delete will happen")

	for _, action := range gated.Actions {
		if action.Skip {
			e.log.Warn("dry run: statement could not be verified read-only, skipping",
				"line", action.Source.Line)
			continue
		}
		if !action.CountOnly {
			if err := e.store.Exec(ctx, action.SQL); err != nil {
				return &ValidationError{Cause: fmt.Errorf("informational statement at line %d: %w", action.Source.Line, err)}
			}
			continue
		}
		n, err := e.store.Count(ctx, action.SQL)
		if err != nil {
			return &ValidationError{Cause: fmt.Errorf("count for %s statement at line %d: %w", action.Source.Role, action.Source.Line, err)}
		}
		switch action.Source.Role {
		case script.RoleMark:
			outcome.UnexportedRows = n
		case script.RoleExport, script.RoleDelete:
			outcome.AlreadyExportedRows = n
		}
		e.log.Info("dry run count", "role", string(action.Source.Role), "rows", n)
	}

	if t.totalSQL != "" {
		n, err := e.store.Count(ctx, t.totalSQL)
		if err != nil {
			return &ValidationError{Cause: fmt.Errorf("total row count: %w", err)}
		}
		outcome.TotalRows = n
	}

	outcome.PhaseReached = report.PhaseCompleted
	return nil
}

// runLive walks the statements in script order. Parsing has already
// verified that mutating roles appear in Mark, Export, Delete order, so
// script order and phase order coincide; informational statements run in
// place, read-only.
func (e *Executor) runLive(ctx context.Context, plan *script.Plan, t *targets, outcome *report.RunOutcome) error {
	// Preflight: leftover markers mean an interrupted cycle, not a fresh
	// batch. Starting anyway could delete rows whose export was never
	// confirmed.
	if t.markedSQL != "" {
		marked, err := e.store.Count(ctx, t.markedSQL)
		if err != nil {
			return &PhaseFailure{Phase: "preflight", Cause: err}
		}
		if marked > 0 {
			return &ConsistencyViolation{Table: t.table, MarkedRows: marked}
		}
	}

	// Empty batch: a valid, immediately-successful run. No statement is
	// issued and no artifact is written.
	if t.unmarkedSQL != "" {
		unmarked, err := e.store.Count(ctx, t.unmarkedSQL)
		if err != nil {
			return &PhaseFailure{Phase: "preflight", Cause: err}
		}
		if unmarked == 0 && len(plan.ByRole(script.RoleMark)) > 0 {
			e.log.Info("no unmarked rows; completing with zero counts")
			outcome.PhaseReached = report.PhaseCompleted
			return nil
		}
	}

	for _, st := range plan.Statements {
		// Cancellation is honored between phases only; once a mutation is
		// sent we wait for its confirmed completion or failure.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled at phase boundary (%s): %w", outcome.PhaseReached, err)
		}

		switch st.Role {
		case script.RoleInfo:
			if err := e.store.Exec(ctx, st.SQL); err != nil {
				return fmt.Errorf("informational statement at line %d failed: %w", st.Line, err)
			}

		case script.RoleMark:
			outcome.PhaseReached = report.PhaseMarking
			if err := e.execPhase(ctx, "mark", st.SQL); err != nil {
				return &PhaseFailure{Phase: "mark", Cause: err}
			}

		case script.RoleExport:
			if err := e.confirmMark(ctx, t, outcome); err != nil {
				return err
			}
			outcome.PhaseReached = report.PhaseExporting
			// Export retries are idempotent by predicate: re-running
			// reproduces the same marked batch.
			if err := e.execPhase(ctx, "export", st.SQL); err != nil {
				return &PhaseFailure{Phase: "export", Cause: err}
			}
			outcome.PhaseReached = report.PhaseExported
			outcome.RowsExported = outcome.RowsMarked

		case script.RoleDelete:
			if outcome.PhaseReached != report.PhaseExported &&
				outcome.PhaseReached != report.PhaseDeleting {
				// Delete without a confirmed export in this run: only legal
				// when the script has no export statement at all, which
				// checkExportScope/parse ordering already guarantees cannot
				// follow one that failed. Still, keep the invariant explicit.
				if len(plan.ByRole(script.RoleExport)) > 0 {
					return &PhaseFailure{Phase: "delete", Cause: fmt.Errorf("delete reached without confirmed export")}
				}
				if err := e.confirmMark(ctx, t, outcome); err != nil {
					return err
				}
			}
			outcome.PhaseReached = report.PhaseDeleting
			if err := e.execPhase(ctx, "delete", st.SQL); err != nil {
				// Reported distinctly: the batch is archived but still in
				// the hot store. See RunOutcome.ExportedButNotDeleted.
				return &PhaseFailure{Phase: "delete", Cause: err}
			}
		}
	}

	// Close out whichever phase the script ended in.
	if outcome.PhaseReached == report.PhaseMarking {
		if err := e.confirmMark(ctx, t, outcome); err != nil {
			return err
		}
	}
	if outcome.PhaseReached == report.PhaseDeleting {
		if err := e.confirmDelete(ctx, t, outcome); err != nil {
			return err
		}
	}

	outcome.PhaseReached = report.PhaseCompleted
	e.log.Info("run completed",
		"marked", outcome.RowsMarked,
		"exported", outcome.RowsExported,
		"deleted", outcome.RowsDeleted,
	)
	return nil
}

// confirmMark verifies the Mark mutation fully applied and freezes the
// batch size. The marked-rows count is immune to concurrent inserts:
// new rows arrive with the marker unset and are excluded from this batch.
func (e *Executor) confirmMark(ctx context.Context, t *targets, outcome *report.RunOutcome) error {
	if outcome.PhaseReached != report.PhaseMarking {
		return nil
	}
	if t.markedSQL != "" {
		marked, err := e.store.Count(ctx, t.markedSQL)
		if err != nil {
			return &PhaseFailure{Phase: "mark", Cause: fmt.Errorf("could not confirm mark completion: %w", err)}
		}
		outcome.RowsMarked = marked
	}
	outcome.PhaseReached = report.PhaseMarked
	return nil
}

// confirmDelete verifies the marked batch is gone from the hot store.
func (e *Executor) confirmDelete(ctx context.Context, t *targets, outcome *report.RunOutcome) error {
	deleted := outcome.RowsMarked
	if t.markedSQL != "" {
		remaining, err := e.store.Count(ctx, t.markedSQL)
		if err != nil {
			return &PhaseFailure{Phase: "delete", Cause: fmt.Errorf("could not confirm delete completion: %w", err)}
		}
		if remaining > 0 {
			return &PhaseFailure{Phase: "delete", Cause: fmt.Errorf("%d marked rows remain after delete", remaining)}
		}
	}
	outcome.RowsDeleted = deleted
	return nil
}

// execPhase sends one mutating statement with the retry policy. The
// statement's synchronous completion is the store's responsibility
// (mutations_sync for ClickHouse, transactional semantics elsewhere).
func (e *Executor) execPhase(ctx context.Context, phase, sqlText string) error {
	return e.cfg.Retry.Do(ctx, e.log, phase, func() error {
		return e.store.Exec(ctx, sqlText)
	})
}

func (e *Executor) runID() string {
	if e.cfg.RunID != "" {
		return e.cfg.RunID
	}
	return uuid.NewString()
}

func (e *Executor) appendJournal(outcome *report.RunOutcome) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(outcome); err != nil {
		e.log.Error("failed to journal run outcome", "run_id", outcome.RunID, "error", err)
	}
}

// ResumeDelete re-runs the Delete phase alone after a run that exported
// its batch but failed to delete it. It refuses unless the journal proves
// the export succeeded; it never re-invokes Export.
func (e *Executor) ResumeDelete(ctx context.Context, plan *script.Plan, last *report.RunOutcome) (*report.RunOutcome, error) {
	outcome := report.NewRunOutcome(e.runID(), e.cfg.Table, false)
	outcome.StatementCount = plan.Count()

	err := e.resumeDelete(ctx, plan, last, outcome)
	outcome.Finalize(err)
	e.appendJournal(outcome)
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (e *Executor) resumeDelete(ctx context.Context, plan *script.Plan, last *report.RunOutcome, outcome *report.RunOutcome) error {
	if err := retry.CanRetryDelete(last); err != nil {
		return fmt.Errorf("refusing delete retry: %w", err)
	}

	deletes := plan.ByRole(script.RoleDelete)
	if len(deletes) == 0 {
		return fmt.Errorf("script has no delete statement to resume")
	}

	t, err := e.deriveTargets(plan)
	if err != nil {
		return err
	}
	if outcome.Table == "" {
		outcome.Table = t.table
	}

	marked, err := e.store.Count(ctx, t.markedSQL)
	if err != nil {
		return &PhaseFailure{Phase: "preflight", Cause: err}
	}
	switch {
	case marked == 0:
		// The interrupted delete actually finished; nothing left to do.
		outcome.PhaseReached = report.PhaseCompleted
		return nil
	case marked > last.RowsExported:
		// More marked rows than the proven export covered. Deleting them
		// would lose data.
		return &ConsistencyViolation{Table: t.table, MarkedRows: marked}
	}

	outcome.RowsMarked = marked
	outcome.RowsExported = marked
	outcome.PhaseReached = report.PhaseDeleting

	for _, st := range deletes {
		if err := e.execPhase(ctx, "delete", st.SQL); err != nil {
			return &PhaseFailure{Phase: "delete", Cause: err}
		}
	}
	if err := e.confirmDelete(ctx, t, outcome); err != nil {
		return err
	}
	outcome.PhaseReached = report.PhaseCompleted
	e.log.Info("resumed delete completed", "deleted", outcome.RowsDeleted)
	return nil
}
