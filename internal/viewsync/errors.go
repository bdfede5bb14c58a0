package viewsync

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord matches any *InvalidRecordError via errors.Is.
var ErrInvalidRecord = errors.New("invalid record")

// InvalidRecordError reports a malformed snapshot entry.
type InvalidRecordError struct {
	Index  int    // Position in the snapshot
	ID     string // Empty when the id itself is missing
	Reason string
}

func (e *InvalidRecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid record %q at index %d: %s", e.ID, e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid record at index %d: %s", e.Index, e.Reason)
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// FilterError reports that the filter panicked while evaluating a record.
type FilterError struct {
	ID    string
	Cause any
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter failed on record %q: %v", e.ID, e.Cause)
}

// Unwrap exposes the panic value when it was an error.
func (e *FilterError) Unwrap() error {
	err, _ := e.Cause.(error)
	return err
}

// ComparatorError reports that the sort comparator panicked.
type ComparatorError struct {
	A, B  string // ids being compared, when known
	Cause any
}

func (e *ComparatorError) Error() string {
	if e.A != "" || e.B != "" {
		return fmt.Sprintf("sort comparator failed comparing %q and %q: %v", e.A, e.B, e.Cause)
	}
	return fmt.Sprintf("sort comparator failed: %v", e.Cause)
}

func (e *ComparatorError) Unwrap() error {
	err, _ := e.Cause.(error)
	return err
}
