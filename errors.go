package arbor

import (
	"errors"
	"fmt"

	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
)

var (
	// ErrLibraryNotFound is returned when an operation references an unknown
	// or deleted library.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrRecordNotFound is returned when a remove or update references an
	// unknown record id. Removal of an unknown id is an explicit error, not
	// a silent no-op: the boundary layer already knows whether the record
	// existed.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateRecord is returned when an add reuses a live record id.
	// Updates are modeled as remove-then-insert so the index never holds a
	// stale embedding under a live id.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrDegenerateVector is returned when a zero-norm vector is used with
	// the cosine metric.
	ErrDegenerateVector = errors.New("degenerate vector")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError normalizes index-layer errors into the facade vocabulary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var enf *index.ErrNodeNotFound
	if errors.As(err, &enf) {
		return fmt.Errorf("%w: %w", ErrRecordNotFound, err)
	}
	var eae *index.ErrNodeAlreadyExists
	if errors.As(err, &eae) {
		return fmt.Errorf("%w: %w", ErrDuplicateRecord, err)
	}
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, distance.ErrDegenerateVector) {
		return fmt.Errorf("%w: %w", ErrDegenerateVector, err)
	}

	return err
}
