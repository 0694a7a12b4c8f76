// Package store provides the primary record store of a table: the canonical
// identifier -> entity mapping.
//
// Each live entity additionally carries a dense 32-bit local id so secondary
// indexes can keep their membership in Roaring bitmaps. Local ids are
// assigned in insertion order and never reused.
package store

import (
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/idgen"
)

var (
	// ErrNotFound is returned when an identifier is not present.
	ErrNotFound = errors.New("store: entity not found")

	// ErrDuplicateID is returned when the identifier generator yields a value
	// that is already live. This is a generator contract violation and is
	// never ignored.
	ErrDuplicateID = errors.New("store: duplicate identifier")

	// ErrExhausted is returned when the 32-bit local id space is used up.
	ErrExhausted = errors.New("store: local id space exhausted")
)

// Records is the in-memory primary store.
//
// It carries its own RWMutex so plain id lookups do not contend with the
// owning table's cross-structure lock; all mutations still come in through
// the table, serialized.
type Records[E any] struct {
	mu       sync.RWMutex
	gen      idgen.Generator
	byID     map[core.ID]core.LocalID
	entities map[core.LocalID]E
	ids      map[core.LocalID]core.ID
	next     core.LocalID
}

// New creates an empty record store minting identifiers from gen.
func New[E any](gen idgen.Generator) *Records[E] {
	return &Records[E]{
		gen:      gen,
		byID:     make(map[core.ID]core.LocalID),
		entities: make(map[core.LocalID]E),
		ids:      make(map[core.LocalID]core.ID),
	}
}

// Insert assigns a fresh identifier to e and stores it.
// A generator collision fails with ErrDuplicateID and stores nothing.
func (r *Records[E]) Insert(e E) (core.ID, core.LocalID, error) {
	id := r.gen.NextID()
	local, err := r.InsertWithID(id, e)
	return id, local, err
}

// InsertWithID stores e under a caller-supplied identifier. Snapshot restore
// uses this to preserve identifiers across the round-trip.
func (r *Records[E]) InsertWithID(id core.ID, e E) (core.LocalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return 0, ErrDuplicateID
	}
	if r.next == core.MaxLocalID {
		return 0, ErrExhausted
	}

	local := r.next
	r.next++

	r.byID[id] = local
	r.entities[local] = e
	r.ids[local] = id

	return local, nil
}

// Get returns the entity stored under id.
func (r *Records[E]) Get(id core.ID) (E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	local, ok := r.byID[id]
	if !ok {
		var zero E
		return zero, false
	}
	return r.entities[local], true
}

// GetLocal returns the entity and public identifier for a local id.
func (r *Records[E]) GetLocal(local core.LocalID) (core.ID, E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ids[local]
	if !ok {
		var zero E
		return "", zero, false
	}
	return id, r.entities[local], true
}

// Resolve returns the local id for a public identifier.
func (r *Records[E]) Resolve(id core.ID) (core.LocalID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	local, ok := r.byID[id]
	return local, ok
}

// Update replaces the entity stored under id, returning the previous value
// so the caller can compute index deltas. The local id is retained.
func (r *Records[E]) Update(id core.ID, e E) (E, core.LocalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	local, ok := r.byID[id]
	if !ok {
		var zero E
		return zero, 0, ErrNotFound
	}

	old := r.entities[local]
	r.entities[local] = e

	return old, local, nil
}

// Remove deletes the entity stored under id, returning the removed value.
func (r *Records[E]) Remove(id core.ID) (E, core.LocalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	local, ok := r.byID[id]
	if !ok {
		var zero E
		return zero, 0, ErrNotFound
	}

	old := r.entities[local]
	delete(r.byID, id)
	delete(r.entities, local)
	delete(r.ids, local)

	return old, local, nil
}

// Len returns the number of live entities.
func (r *Records[E]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// Scan returns a finite, restartable iteration over a consistent
// point-in-time view of the store, ascending by identifier. Mutations after
// Scan returns do not affect the yielded sequence.
func (r *Records[E]) Scan() iter.Seq2[core.ID, E] {
	r.mu.RLock()
	ids := make([]core.ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	entities := make([]E, len(ids))
	for i, id := range ids {
		entities[i] = r.entities[r.byID[id]]
	}
	r.mu.RUnlock()

	return func(yield func(core.ID, E) bool) {
		for i, id := range ids {
			if !yield(id, entities[i]) {
				return
			}
		}
	}
}

// Clear removes all entities. Local id assignment is NOT reset: ids must
// never be reused within a store's lifetime.
func (r *Records[E]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[core.ID]core.LocalID)
	r.entities = make(map[core.LocalID]E)
	r.ids = make(map[core.LocalID]core.ID)
}
