// Package index defines the contract between a table and its secondary
// indexes.
//
// Indexes hold only dense local identifiers and value-derived keys, never a
// second copy of the entity. They are not safe for concurrent use on their
// own: the owning table serializes all access (a table is the unit of
// locking).
package index

import (
	"fmt"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
)

// Index maintains a secondary structure over entities of type E.
//
// The owning table drives all mutations and guarantees that Insert and
// Remove are called with the entity value that is (or was) current in the
// record store, so an index never needs to consult the store itself.
type Index[E any] interface {
	// Name returns the index name, unique within its table.
	Name() string

	// Insert records the entity's projection for id.
	// Fails with *UniqueViolationError if a unique constraint would break;
	// in that case no state is mutated.
	Insert(id core.LocalID, e E) error

	// Check validates that Insert(id, e) would succeed, without mutating.
	Check(id core.LocalID, e E) error

	// Remove undoes Insert for the same entity value. Removing an id that is
	// not present under the entity's projection fails with
	// *InvariantViolationError: it means index and store have desynchronized.
	Remove(id core.LocalID, e E) error

	// Changed reports whether the indexed projection differs between old
	// and new. Tables skip index updates for unchanged projections.
	Changed(old, new E) bool

	// Clear drops all entries. Used when a table is rebuilt from a snapshot.
	Clear()
}

// UniqueViolationError is returned when an insert or update would map a key
// of a unique index to a second identifier.
type UniqueViolationError struct {
	Index    string
	Key      entity.Key
	Existing core.LocalID
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("index %q: unique constraint violation for key %s", e.Index, e.Key)
}

// InvariantViolationError signals that an index and its record store have
// desynchronized. It is never expected in correct operation; callers must
// surface it, not swallow it.
type InvariantViolationError struct {
	Index  string
	Local  core.LocalID
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("index %q: invariant violation for local id %d: %s", e.Index, e.Local, e.Reason)
}
