package contracts

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when an optimistic write loses against a
// concurrent transition. Callers reload and decide whether the work still
// applies.
var ErrVersionConflict = errors.New("version conflict")

// DataUnavailableError means a price source had no observation for the
// ticker on the requested date after the retry budget was spent.
type DataUnavailableError struct {
	Ticker string
	Date   time.Time
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no price for %s on %s", e.Ticker, e.Date.Format("2006-01-02"))
}

// IsDataUnavailable reports whether err wraps a DataUnavailableError.
func IsDataUnavailable(err error) bool {
	var target *DataUnavailableError
	return errors.As(err, &target)
}

// InvalidTaskStateError is returned when an operation is attempted on a
// task whose lifecycle state does not permit it.
type InvalidTaskStateError struct {
	TaskID string
	Status TaskStatus
	Op     string
}

func (e *InvalidTaskStateError) Error() string {
	return fmt.Sprintf("task %s: cannot %s in state %s", e.TaskID, e.Op, e.Status)
}

// IsInvalidTaskState reports whether err wraps an InvalidTaskStateError.
func IsInvalidTaskState(err error) bool {
	var target *InvalidTaskStateError
	return errors.As(err, &target)
}

// InvalidInputError flags malformed caller input such as an empty ticker
// list or a non-positive snapshot price.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsInvalidInput reports whether err wraps an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// SchemaMismatchError flags a feature vector that does not match the
// policy schema. Records carrying one are rejected, never coerced.
type SchemaMismatchError struct {
	Field   string
	Message string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s: %s", e.Field, e.Message)
}

// IsSchemaMismatch reports whether err wraps a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

// WeightBoundsViolation records an evolution step that had to be clamped
// to the configured weight bounds. It is logged, not returned: the clamp
// itself keeps the store consistent.
type WeightBoundsViolation struct {
	Feature   string
	Attempted float64
	Bound     float64
}

func (e *WeightBoundsViolation) Error() string {
	return fmt.Sprintf("weight for %s clamped from %.4f to bound %.1f", e.Feature, e.Attempted, e.Bound)
}
