package entidb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/index"
	"github.com/hupe1980/entidb/index/fuzzy"
	"github.com/hupe1980/entidb/store"
)

var (
	// ErrNotFound is returned when an operation references an absent
	// identifier.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID is returned when the identifier generator yields a
	// colliding value. This is a generator contract violation, not a caller
	// error.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrInvalidArgument is returned for out-of-range caller parameters,
	// e.g. a non-positive search limit or a threshold outside [0,1].
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExhausted is returned when the identifier space of a table is used
	// up and no further entities can be inserted.
	ErrExhausted = errors.New("identifier space exhausted")
)

// ErrUniqueConstraint indicates that a unique exact index already maps the
// target key to a different identifier. The failed operation mutated
// nothing; callers may retry with different data.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUniqueConstraint struct {
	Index      string
	Key        entity.Key
	ExistingID core.ID
	cause      error
}

func (e *ErrUniqueConstraint) Error() string {
	return fmt.Sprintf("unique constraint violation on index %q: key %s is held by %s", e.Index, e.Key, e.ExistingID)
}

func (e *ErrUniqueConstraint) Unwrap() error { return e.cause }

// ErrInvariantViolation indicates internal desynchronization between the
// record store and an index. It is never expected in correct operation and
// signals a defect; it is surfaced loudly, never absorbed.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvariantViolation struct {
	Index  string
	Reason string
	cause  error
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on index %q: %s", e.Index, e.Reason)
}

func (e *ErrInvariantViolation) Unwrap() error { return e.cause }

// translateError maps leaf-package errors onto the public error kinds.
func (t *Table[E]) translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, store.ErrDuplicateID) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}
	if errors.Is(err, store.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	var uv *index.UniqueViolationError
	if errors.As(err, &uv) {
		existing, _, _ := t.records.GetLocal(uv.Existing)
		return &ErrUniqueConstraint{Index: uv.Index, Key: uv.Key, ExistingID: existing, cause: err}
	}

	var iv *index.InvariantViolationError
	if errors.As(err, &iv) {
		return &ErrInvariantViolation{Index: iv.Index, Reason: iv.Reason, cause: err}
	}

	if errors.Is(err, fuzzy.ErrInvalidLimit) || errors.Is(err, fuzzy.ErrInvalidThreshold) || errors.Is(err, fuzzy.ErrQueryTooLong) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return err
}
