// Package exact provides the exact-match secondary index: a value -> id-set
// structure supporting point and range lookups, with optional uniqueness
// enforcement.
//
// Buckets are kept ordered in a B-tree so range lookups stream keys in
// order; each bucket's membership is a Roaring bitmap of local ids.
package exact

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/index"
)

const btreeDegree = 32

// Options configures an exact index.
type Options struct {
	// Unique enforces at most one id per key.
	Unique bool
}

// Index is an exact-match index over a projection of E.
//
// Not safe for concurrent use; the owning table serializes access.
type Index[E any] struct {
	name    string
	proj    entity.KeyFunc[E]
	unique  bool
	buckets *btree.BTreeG[*bucket]
}

type bucket struct {
	key entity.Key
	ids *roaring.Bitmap
}

// New creates an exact index named name over the given projection.
func New[E any](name string, proj entity.KeyFunc[E], optFns ...func(o *Options)) *Index[E] {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Index[E]{
		name:   name,
		proj:   proj,
		unique: opts.Unique,
		buckets: btree.NewG(btreeDegree, func(a, b *bucket) bool {
			return a.key.Compare(b.key) < 0
		}),
	}
}

// WithUnique enforces at most one id per key.
func WithUnique() func(o *Options) {
	return func(o *Options) {
		o.Unique = true
	}
}

// Name returns the index name.
func (ix *Index[E]) Name() string { return ix.name }

// Unique reports whether the index enforces uniqueness.
func (ix *Index[E]) Unique() bool { return ix.unique }

// Insert records the entity's key for id.
func (ix *Index[E]) Insert(id core.LocalID, e E) error {
	key := ix.proj(e)

	b, ok := ix.buckets.Get(&bucket{key: key})
	if !ok {
		b = &bucket{key: key, ids: roaring.New()}
		ix.buckets.ReplaceOrInsert(b)
	} else if err := ix.checkBucket(b, id, key); err != nil {
		return err
	}

	b.ids.Add(uint32(id))
	return nil
}

// Check validates that Insert(id, e) would succeed, without mutating.
func (ix *Index[E]) Check(id core.LocalID, e E) error {
	key := ix.proj(e)
	b, ok := ix.buckets.Get(&bucket{key: key})
	if !ok {
		return nil
	}
	return ix.checkBucket(b, id, key)
}

func (ix *Index[E]) checkBucket(b *bucket, id core.LocalID, key entity.Key) error {
	if !ix.unique || b.ids.IsEmpty() || b.ids.Contains(uint32(id)) {
		return nil
	}
	return &index.UniqueViolationError{
		Index:    ix.name,
		Key:      key,
		Existing: core.LocalID(b.ids.Minimum()),
	}
}

// Remove undoes Insert for the same entity value.
func (ix *Index[E]) Remove(id core.LocalID, e E) error {
	key := ix.proj(e)

	b, ok := ix.buckets.Get(&bucket{key: key})
	if !ok || !b.ids.Contains(uint32(id)) {
		return &index.InvariantViolationError{
			Index:  ix.name,
			Local:  id,
			Reason: "id not present in bucket " + key.String(),
		}
	}

	b.ids.Remove(uint32(id))
	if b.ids.IsEmpty() {
		ix.buckets.Delete(b)
	}

	return nil
}

// Changed reports whether the projected key differs between old and new.
func (ix *Index[E]) Changed(old, new E) bool {
	return !ix.proj(old).Equal(ix.proj(new))
}

// Clear drops all entries.
func (ix *Index[E]) Clear() {
	ix.buckets.Clear(false)
}

// Lookup returns the local ids currently holding key, ascending.
func (ix *Index[E]) Lookup(key entity.Key) []core.LocalID {
	b, ok := ix.buckets.Get(&bucket{key: key})
	if !ok {
		return nil
	}
	return localIDs(b.ids)
}

// Range returns the local ids whose key falls in [low, high], ordered by
// key then by id.
func (ix *Index[E]) Range(low, high entity.Key) []core.LocalID {
	if low.Compare(high) > 0 {
		return nil
	}

	var out []core.LocalID
	ix.buckets.AscendGreaterOrEqual(&bucket{key: low}, func(b *bucket) bool {
		if b.key.Compare(high) > 0 {
			return false
		}
		out = append(out, localIDs(b.ids)...)
		return true
	})

	return out
}

// Len returns the number of distinct keys currently indexed.
func (ix *Index[E]) Len() int { return ix.buckets.Len() }

func localIDs(ids *roaring.Bitmap) []core.LocalID {
	out := make([]core.LocalID, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, core.LocalID(it.Next()))
	}
	return out
}
