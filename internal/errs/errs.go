// Package errs defines the shared error taxonomy for the processing pipeline.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across components.
var (
	ErrNotFound   = errors.New("errs: not found")
	ErrValidation = errors.New("errs: validation failed")
	ErrTimeout    = errors.New("errs: operation timed out")
)

// ProcessingError records an isolated per-unit failure inside the pipeline.
// The pipeline keeps running; the error is logged and recorded for diagnostics.
type ProcessingError struct {
	Stage string
	Unit  string
	Err   error
	At    time.Time
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Unit, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a ProcessingError stamped with the current time.
func NewProcessingError(stage, unit string, err error) *ProcessingError {
	return &ProcessingError{
		Stage: stage,
		Unit:  unit,
		Err:   err,
		At:    time.Now().UTC(),
	}
}
