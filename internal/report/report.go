// Package report aggregates phase outcomes into a structured run summary.
//
// A RunOutcome is created when a run starts and finalized exactly once,
// at completion or abort. Retries append new outcomes; history is never
// overwritten.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase names as recorded in outcomes. These mirror the executor's state
// machine; "completed" means the full mark, export, delete cycle finished.
const (
	PhaseIdle      = "idle"
	PhaseMarking   = "marking"
	PhaseMarked    = "marked"
	PhaseExporting = "exporting"
	PhaseExported  = "exported"
	PhaseDeleting  = "deleting"
	PhaseCompleted = "completed"
)

// RunOutcome records one invocation of the lifecycle engine.
type RunOutcome struct {
	RunID        string `json:"run_id"`
	Table        string `json:"table"`
	DryRun       bool   `json:"dry_run"`
	PhaseReached string `json:"phase_reached"`

	RowsMarked   int64 `json:"rows_marked"`
	RowsExported int64 `json:"rows_exported"`
	RowsDeleted  int64 `json:"rows_deleted"`

	// Dry-run census: what a live run would touch, and what is already
	// marked from a previous incomplete cycle.
	UnexportedRows      int64 `json:"unexported_rows"`
	AlreadyExportedRows int64 `json:"already_exported_rows"`
	TotalRows           int64 `json:"total_rows"`

	StatementCount int       `json:"statement_count"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	Error          string    `json:"error,omitempty"`

	finalized bool
}

// NewRunOutcome starts the record for a run.
func NewRunOutcome(runID, table string, dryRun bool) *RunOutcome {
	return &RunOutcome{
		RunID:        runID,
		Table:        table,
		DryRun:       dryRun,
		PhaseReached: PhaseIdle,
		StartedAt:    time.Now().UTC(),
	}
}

// Finalize stamps the end time and error. It is a no-op after the first
// call; a finalized outcome never changes.
func (o *RunOutcome) Finalize(err error) {
	if o.finalized {
		return
	}
	o.finalized = true
	o.FinishedAt = time.Now().UTC()
	o.ElapsedMS = o.FinishedAt.Sub(o.StartedAt).Milliseconds()
	if err != nil {
		o.Error = err.Error()
	}
}

// Finalized reports whether the outcome has been sealed.
func (o *RunOutcome) Finalized() bool {
	return o.finalized
}

// ExportedButNotDeleted is the most dangerous incomplete state: the batch
// is safely archived but still present in the hot store. The operator can
// re-run Delete alone; re-running Export is unnecessary.
func (o *RunOutcome) ExportedButNotDeleted() bool {
	if o.DryRun {
		return false
	}
	return (o.PhaseReached == PhaseExported || o.PhaseReached == PhaseDeleting) && o.Error != ""
}

// Summary answers "were rows lost, duplicated, or safely archived"
// without re-querying the store.
func (o *RunOutcome) Summary() string {
	switch {
	case o.DryRun && o.Error == "":
		return fmt.Sprintf("dry run: would mark/export/delete %d rows, %d currently marked, %d total",
			o.UnexportedRows, o.AlreadyExportedRows, o.TotalRows)
	case o.DryRun:
		return fmt.Sprintf("dry run failed during validation: %s", o.Error)
	case o.Error == "" && o.PhaseReached == PhaseCompleted:
		return fmt.Sprintf("archived safely: marked=%d exported=%d deleted=%d in %dms",
			o.RowsMarked, o.RowsExported, o.RowsDeleted, o.ElapsedMS)
	case o.ExportedButNotDeleted():
		return fmt.Sprintf("exported but NOT deleted: %d rows remain in the hot store with the export marker set; re-run delete only (%s)",
			o.RowsExported, o.Error)
	default:
		return fmt.Sprintf("aborted during %s: %s (marked=%d exported=%d deleted=%d)",
			o.PhaseReached, o.Error, o.RowsMarked, o.RowsExported, o.RowsDeleted)
	}
}

// JSON renders the outcome for logging or the journal.
func (o *RunOutcome) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run outcome: %w", err)
	}
	return data, nil
}
