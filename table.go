package entidb

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/entidb/codec"
	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/index"
	"github.com/hupe1980/entidb/index/exact"
	"github.com/hupe1980/entidb/index/fuzzy"
	"github.com/hupe1980/entidb/store"
)

// Entry is one identifier/entity pair returned by reads.
type Entry[E any] struct {
	ID     core.ID
	Entity E
}

// SearchResult is one fuzzy search hit, scored in [0,1].
type SearchResult[E any] struct {
	ID     core.ID
	Entity E
	Score  float64
}

// Table is the transactional facade binding one record store to its
// attached indexes for a single entity type.
//
// All mutations go through the table and update the record store plus every
// attached index atomically with respect to readers: writers are serialized
// by the table lock, cross-structure reads take it shared, and a plain Get
// by identifier only touches the record store's own lock. Once a mutating
// call returns success, all subsequent reads observe its effect.
type Table[E any] struct {
	mu sync.RWMutex

	name    string
	records *store.Records[E]
	indexes []index.Index[E] // declaration order
	byName  map[string]index.Index[E]

	codec       codec.Codec
	compression Compression
	logger      *Logger
	metrics     MetricsCollector
}

// Name returns the table name.
func (t *Table[E]) Name() string { return t.name }

// Len returns the number of live entities.
func (t *Table[E]) Len() int { return t.records.Len() }

// Insert stores e under a freshly minted identifier and adds it to every
// attached index in declaration order. If any index add fails, everything
// already applied for this call is undone and the original error is
// returned; no partial state is observable to any other caller.
func (t *Table[E]) Insert(e E) (core.ID, error) {
	start := time.Now()
	id, err := t.insert(e)
	t.metrics.RecordInsert(time.Since(start), err)
	t.logger.LogInsert(t.name, string(id), err)
	return id, err
}

func (t *Table[E]) insert(e E) (core.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, local, err := t.records.Insert(e)
	if err != nil {
		return "", t.translateError(err)
	}

	for i, ix := range t.indexes {
		if err := ix.Insert(local, e); err != nil {
			return "", t.rollbackInsert(id, local, e, i, err)
		}
	}

	return id, nil
}

// rollbackInsert undoes the record insert and the index adds applied before
// position failed. Undo failures are invariant violations and are joined
// onto the original error, never swallowed.
func (t *Table[E]) rollbackInsert(id core.ID, local core.LocalID, e E, failed int, cause error) error {
	err := t.translateError(cause)

	for j := failed - 1; j >= 0; j-- {
		if uerr := t.indexes[j].Remove(local, e); uerr != nil {
			err = fmt.Errorf("%w; rollback: %w", err, t.translateError(uerr))
		}
	}
	if _, _, rerr := t.records.Remove(id); rerr != nil {
		err = fmt.Errorf("%w; rollback: %w", err, t.translateError(rerr))
	}

	return err
}

// Update replaces the entity stored under id. Unique constraints for every
// index whose projection changed are validated before anything is mutated;
// on validation failure the table is untouched and the error is returned.
func (t *Table[E]) Update(id core.ID, e E) error {
	start := time.Now()
	err := t.update(id, e)
	t.metrics.RecordUpdate(time.Since(start), err)
	t.logger.LogUpdate(t.name, string(id), err)
	return err
}

func (t *Table[E]) update(id core.ID, e E) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.records.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	local, _ := t.records.Resolve(id)

	var changed []index.Index[E]
	for _, ix := range t.indexes {
		if ix.Changed(old, e) {
			changed = append(changed, ix)
		}
	}

	// Validate before committing: a constraint failure must leave the
	// record store and every index exactly as they were.
	for _, ix := range changed {
		if err := ix.Check(local, e); err != nil {
			return t.translateError(err)
		}
	}

	if _, _, err := t.records.Update(id, e); err != nil {
		return t.translateError(err)
	}

	for i, ix := range changed {
		if err := ix.Remove(local, old); err != nil {
			return t.rollbackUpdate(id, local, old, e, changed[:i], nil, err)
		}
		if err := ix.Insert(local, e); err != nil {
			return t.rollbackUpdate(id, local, old, e, changed[:i], ix, err)
		}
	}

	return nil
}

// rollbackUpdate undoes a half-committed update: the record is restored to
// old, reinsert (the index whose Remove succeeded but whose Insert failed,
// if any) gets old back, and the already swapped indexes are swapped back
// in reverse order. Undo failures are joined onto the original error, never
// swallowed.
func (t *Table[E]) rollbackUpdate(id core.ID, local core.LocalID, old, e E, swapped []index.Index[E], reinsert index.Index[E], cause error) error {
	err := t.translateError(cause)

	if reinsert != nil {
		if uerr := reinsert.Insert(local, old); uerr != nil {
			err = fmt.Errorf("%w; rollback: %w", err, t.translateError(uerr))
		}
	}
	for j := len(swapped) - 1; j >= 0; j-- {
		if uerr := swapped[j].Remove(local, e); uerr != nil {
			err = fmt.Errorf("%w; rollback: %w", err, t.translateError(uerr))
		}
		if uerr := swapped[j].Insert(local, old); uerr != nil {
			err = fmt.Errorf("%w; rollback: %w", err, t.translateError(uerr))
		}
	}
	if _, _, uerr := t.records.Update(id, old); uerr != nil {
		err = fmt.Errorf("%w; rollback: %w", err, t.translateError(uerr))
	}

	return err
}

// Delete removes the entity stored under id from every attached index (in
// declaration order) and then from the record store. An unknown id fails
// with ErrNotFound and leaves all state unchanged.
func (t *Table[E]) Delete(id core.ID) error {
	start := time.Now()
	err := t.delete(id)
	t.metrics.RecordDelete(time.Since(start), err)
	t.logger.LogDelete(t.name, string(id), err)
	return err
}

func (t *Table[E]) delete(id core.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.records.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	local, _ := t.records.Resolve(id)

	for _, ix := range t.indexes {
		if err := ix.Remove(local, old); err != nil {
			return t.translateError(err)
		}
	}

	if _, _, err := t.records.Remove(id); err != nil {
		return t.translateError(err)
	}

	return nil
}

// Get returns the entity stored under id. This is a single-structure read:
// it takes only the record store's lock and never blocks on index-touching
// writers longer than the store update itself.
func (t *Table[E]) Get(id core.ID) (E, bool) {
	return t.records.Get(id)
}

// Lookup returns all entities whose indexed key equals key, ascending by
// identifier. The named index must be an exact index.
func (t *Table[E]) Lookup(indexName string, key entity.Key) ([]Entry[E], error) {
	start := time.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	ix, err := t.exactIndex(indexName)
	if err != nil {
		return nil, err
	}

	entries, err := t.dereference(ix.Lookup(key))
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	t.metrics.RecordLookup(time.Since(start), len(entries))
	return entries, nil
}

// LookupRange returns all entities whose indexed key falls in [low, high],
// ordered by key and then by identifier. The named index must be an exact
// index.
func (t *Table[E]) LookupRange(indexName string, low, high entity.Key) ([]Entry[E], error) {
	start := time.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	ix, err := t.exactIndex(indexName)
	if err != nil {
		return nil, err
	}

	entries, err := t.dereference(ix.Range(low, high))
	if err != nil {
		return nil, err
	}

	t.metrics.RecordLookup(time.Since(start), len(entries))
	return entries, nil
}

// Search runs a fuzzy query against the named fuzzy index. Results carry a
// similarity score in [0,1], descend by score with ties broken by
// identifier, and are cut off below threshold and after limit entries.
func (t *Table[E]) Search(indexName, query string, threshold float64, limit int) ([]SearchResult[E], error) {
	start := time.Now()
	results, err := t.search(indexName, query, threshold, limit)
	t.metrics.RecordSearch(time.Since(start), len(results), err)
	t.logger.LogSearch(t.name, indexName, len(results), err)
	return results, err
}

func (t *Table[E]) search(indexName, query string, threshold float64, limit int) ([]SearchResult[E], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ix, err := t.fuzzyIndex(indexName)
	if err != nil {
		return nil, err
	}

	matches, err := ix.Search(query, threshold, limit, t.records.GetLocal)
	if err != nil {
		return nil, t.translateError(err)
	}

	results := make([]SearchResult[E], 0, len(matches))
	for _, m := range matches {
		_, e, ok := t.records.GetLocal(m.Local)
		if !ok {
			return nil, &ErrInvariantViolation{Index: indexName, Reason: "search hit references unknown record"}
		}
		results = append(results, SearchResult[E]{ID: m.ID, Entity: e, Score: m.Score})
	}

	return results, nil
}

// Scan returns a finite, restartable iteration over a consistent
// point-in-time view of the table, ascending by identifier. It is the
// iteration snapshot encoding builds on: replaying the yielded inserts
// reconstructs the table, indexes included.
func (t *Table[E]) Scan() iter.Seq2[core.ID, E] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.records.Scan()
}

// AddIndex attaches an index and backfills it from the current records. If
// backfill hits a unique violation, the index is not attached and the table
// is unchanged.
func (t *Table[E]) AddIndex(ix index.Index[E]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[ix.Name()]; exists {
		return fmt.Errorf("%w: index %q already attached", ErrInvalidArgument, ix.Name())
	}

	var applied []Entry[E]
	for id, e := range t.records.Scan() {
		local, _ := t.records.Resolve(id)
		if err := ix.Insert(local, e); err != nil {
			terr := t.translateError(err)
			for _, a := range applied {
				l, _ := t.records.Resolve(a.ID)
				if uerr := ix.Remove(l, a.Entity); uerr != nil {
					terr = fmt.Errorf("%w; rollback: %w", terr, t.translateError(uerr))
				}
			}
			return terr
		}
		applied = append(applied, Entry[E]{ID: id, Entity: e})
	}

	t.indexes = append(t.indexes, ix)
	t.byName[ix.Name()] = ix

	return nil
}

// IndexNames returns the attached index names in declaration order.
func (t *Table[E]) IndexNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, len(t.indexes))
	for i, ix := range t.indexes {
		names[i] = ix.Name()
	}
	return names
}

func (t *Table[E]) exactIndex(name string) (*exact.Index[E], error) {
	ix, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrInvalidArgument, name)
	}
	ex, ok := ix.(*exact.Index[E])
	if !ok {
		return nil, fmt.Errorf("%w: index %q is not an exact index", ErrInvalidArgument, name)
	}
	return ex, nil
}

func (t *Table[E]) fuzzyIndex(name string) (*fuzzy.Index[E], error) {
	ix, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrInvalidArgument, name)
	}
	fx, ok := ix.(*fuzzy.Index[E])
	if !ok {
		return nil, fmt.Errorf("%w: index %q is not a fuzzy index", ErrInvalidArgument, name)
	}
	return fx, nil
}

// dereference resolves local ids into identifier/entity pairs, preserving
// order. A local id that no longer resolves is an invariant violation.
func (t *Table[E]) dereference(locals []core.LocalID) ([]Entry[E], error) {
	entries := make([]Entry[E], 0, len(locals))
	for _, local := range locals {
		id, e, ok := t.records.GetLocal(local)
		if !ok {
			return nil, &ErrInvariantViolation{Reason: fmt.Sprintf("index entry references unknown local id %d", local)}
		}
		entries = append(entries, Entry[E]{ID: id, Entity: e})
	}
	return entries, nil
}
