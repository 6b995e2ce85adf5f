package storage

import (
	"errors"
	"fmt"
)

// Storage error types for categorizing storage failures.
var (
	// ErrConnectionFailed indicates a failure to connect to the database.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrBatchInsertFailed indicates a batch insert failure.
	ErrBatchInsertFailed = errors.New("storage: batch insert failed")

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = errors.New("storage: operation timeout")

	// ErrWriterClosed indicates the batch writer has been closed.
	ErrWriterClosed = errors.New("storage: writer closed")
)

// StorageError wraps storage errors with additional context.
type StorageError struct {
	Op      string
	Table   string
	Err     error
	Retries int
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if the error is retryable (connection or timeout).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrTimeout)
}

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(op string, err error) error {
	return &StorageError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err),
	}
}

// WrapInsertError wraps a batch insert failure with its retry count.
func WrapInsertError(op, table string, err error, retries int) error {
	return &StorageError{
		Op:      op,
		Table:   table,
		Err:     fmt.Errorf("%w: %v", ErrBatchInsertFailed, err),
		Retries: retries,
	}
}
