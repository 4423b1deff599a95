package engine

import (
	"errors"
	"fmt"
)

// PhaseFailure wraps an execution failure with the phase that produced
// it, so the caller can decide on remediation without parsing messages.
type PhaseFailure struct {
	Phase string
	Cause error
}

func (e *PhaseFailure) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Cause)
}

func (e *PhaseFailure) Unwrap() error {
	return e.Cause
}

// ConsistencyViolation means the store's marker state contradicts "no run
// in progress": rows with the export marker set were found at run start.
// A previous Export or Delete was interrupted; it must be resolved by the
// operator (resume-delete, or clearing the markers after verifying the
// archive), never by guessing.
type ConsistencyViolation struct {
	Table      string
	MarkedRows int64
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf(
		"table %s has %d rows with the export marker already set and no run in progress; an earlier cycle was interrupted and must be resolved before a new run starts",
		e.Table, e.MarkedRows,
	)
}

// ValidationError distinguishes failures of the read-only validation
// queries a dry run issues from execution errors of a live run. A dry run
// reporting a ValidationError has still mutated nothing.
type ValidationError struct {
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dry-run validation failed: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ErrExportNotMarkerScoped rejects export statements whose predicate does
// not restrict selection to marked rows. Exporting an unscoped selection
// would include records inserted after the batch was frozen.
var ErrExportNotMarkerScoped = errors.New("export statement is not scoped to the export marker")

// ErrStatementCountMismatch signals silent script truncation: the parsed
// statement count differs from what the caller declared.
var ErrStatementCountMismatch = errors.New("parsed statement count does not match expected count")
