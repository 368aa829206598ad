package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers.
var (
	// ErrNotFound is returned when a host or other entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt marks store corruption. It is fatal: ingestion halts and
	// the operator is surfaced the cause, with no automatic recovery.
	ErrCorrupt = errors.New("store corrupt")
)

// NormalizationError is a value carried in the MergeReport, not a control
// flow error: a malformed record is skipped and the batch continues.
type NormalizationError struct {
	Reason string `json:"reason"`
	Line   string `json:"line,omitempty"`
}

func (e *NormalizationError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("normalize: %s (%q)", e.Reason, e.Line)
	}
	return fmt.Sprintf("normalize: %s", e.Reason)
}

// StoreError wraps a graph store failure and classifies it. Transient
// failures (busy, locked, timeout) are retried with backoff; everything else
// fails the batch atomically.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransientStoreError reports whether err is a store failure worth
// retrying.
func IsTransientStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}
