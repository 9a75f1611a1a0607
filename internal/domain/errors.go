package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is returned when the caller cancels an analysis. It is an outcome,
	// not a failure of the pipeline.
	ErrCancelled = errors.New("analysis cancelled")

	// ErrEmptyDatabase is returned when matching runs without any reference medicine.
	ErrEmptyDatabase = errors.New("reference database is empty")

	// ErrMedicineNotFound is returned by catalog lookups.
	ErrMedicineNotFound = errors.New("reference medicine not found")
)

// ExtractionError reports an image that cannot be analysed at all. A different image
// is needed; retrying the same bytes fails the same way.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AnalysisTimeoutError reports a pipeline that exceeded its deadline. Timeout is the
// time the analysis had: the configured limit, or what was left of the caller's own
// deadline when that was shorter. CallerDeadline marks the latter.
type AnalysisTimeoutError struct {
	Stage          string
	Timeout        time.Duration
	CallerDeadline bool
}

func (e *AnalysisTimeoutError) Error() string {
	if e.CallerDeadline {
		return fmt.Sprintf("analysis hit the caller's deadline after %s during %s", e.Timeout, e.Stage)
	}
	return fmt.Sprintf("analysis timed out after %s during %s", e.Timeout, e.Stage)
}

// AnalysisFailedError wraps a stage failure with the stage that produced it.
type AnalysisFailedError struct {
	Stage string
	Err   error
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisFailedError) Unwrap() error { return e.Err }
