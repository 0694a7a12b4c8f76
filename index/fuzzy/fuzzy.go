// Package fuzzy provides the approximate-string secondary index.
//
// Values are decomposed into lowercased n-grams (default n=3); each n-gram
// maps to a Roaring bitmap of local ids. A search gathers candidates from
// the n-grams it shares with the query - never by scanning all entities -
// and then scores each candidate exactly with the Bitap algorithm
// (score = 1 - substitutions/len(query)). Decomposition size and the
// mismatch budget are fixed at construction.
package fuzzy

import (
	"errors"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/index"
)

var (
	// ErrInvalidLimit is returned when a search limit is not positive.
	ErrInvalidLimit = errors.New("fuzzy: limit must be positive")
	// ErrInvalidThreshold is returned when a threshold is outside [0,1].
	ErrInvalidThreshold = errors.New("fuzzy: threshold must be in [0,1]")
	// ErrQueryTooLong is returned when a query exceeds the Bitap word width.
	ErrQueryTooLong = errors.New("fuzzy: query longer than 32 runes")
)

// Options configures a fuzzy index.
type Options struct {
	// NGramSize is the decomposition fragment length. Default: 3.
	NGramSize int
	// MaxDistance is the Bitap mismatch budget per window. Default: 2.
	MaxDistance int
}

// Match is one scored search hit.
type Match struct {
	ID    core.ID
	Local core.LocalID
	Score float64
}

// Index is a fuzzy-text index over a string projection of E.
//
// Not safe for concurrent use; the owning table serializes access.
type Index[E any] struct {
	name        string
	proj        entity.TextFunc[E]
	ngramSize   int
	maxDistance int
	postings    map[string]*roaring.Bitmap
}

// New creates a fuzzy index named name over the given projection.
func New[E any](name string, proj entity.TextFunc[E], optFns ...func(o *Options)) *Index[E] {
	opts := Options{
		NGramSize:   3,
		MaxDistance: 2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Index[E]{
		name:        name,
		proj:        proj,
		ngramSize:   opts.NGramSize,
		maxDistance: opts.MaxDistance,
		postings:    make(map[string]*roaring.Bitmap),
	}
}

// Name returns the index name.
func (ix *Index[E]) Name() string { return ix.name }

// Insert decomposes the entity's projected values and records id against
// each derived n-gram.
func (ix *Index[E]) Insert(id core.LocalID, e E) error {
	for gram := range ix.gramsOf(e) {
		ids, ok := ix.postings[gram]
		if !ok {
			ids = roaring.New()
			ix.postings[gram] = ids
		}
		ids.Add(uint32(id))
	}
	return nil
}

// Check always succeeds: fuzzy indexes carry no constraints.
func (ix *Index[E]) Check(core.LocalID, E) error { return nil }

// Remove reverses Insert for the same entity value. The check pass runs
// before any mutation so a desync is reported with the index intact.
func (ix *Index[E]) Remove(id core.LocalID, e E) error {
	grams := ix.gramsOf(e)

	for gram := range grams {
		ids, ok := ix.postings[gram]
		if !ok || !ids.Contains(uint32(id)) {
			return &index.InvariantViolationError{
				Index:  ix.name,
				Local:  id,
				Reason: "id not present in posting list for " + gram,
			}
		}
	}

	for gram := range grams {
		ids := ix.postings[gram]
		ids.Remove(uint32(id))
		if ids.IsEmpty() {
			delete(ix.postings, gram)
		}
	}

	return nil
}

// Changed reports whether the projected values differ between old and new.
func (ix *Index[E]) Changed(old, new E) bool {
	a, b := ix.proj(old), ix.proj(new)
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// Clear drops all entries.
func (ix *Index[E]) Clear() {
	ix.postings = make(map[string]*roaring.Bitmap)
}

// Search returns entities whose projected value is approximately equal to
// query, scored in [0,1] and filtered by threshold (0 matches everything the
// candidate pass surfaces, 1 demands an exact window). Results descend by
// score; ties break by identifier ascending. At most limit results are
// returned.
//
// resolve maps a candidate local id back to its public identifier and
// current entity; the index itself holds no entity data.
func (ix *Index[E]) Search(query string, threshold float64, limit int, resolve func(core.LocalID) (core.ID, E, bool)) ([]Match, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if threshold < 0 || threshold > 1 {
		return nil, ErrInvalidThreshold
	}

	query = strings.ToLower(query)
	runes := []rune(query)
	if len(runes) == 0 {
		return nil, nil
	}
	if len(runes) > 32 {
		return nil, ErrQueryTooLong
	}

	candidates := roaring.New()
	for _, gram := range ix.ngrams(query) {
		if ids, ok := ix.postings[gram]; ok {
			candidates.Or(ids)
		}
	}

	scorer := newBitapScorer(runes, ix.maxDistance)

	var matches []Match
	it := candidates.Iterator()
	for it.HasNext() {
		local := core.LocalID(it.Next())

		id, e, ok := resolve(local)
		if !ok {
			return nil, &index.InvariantViolationError{
				Index:  ix.name,
				Local:  local,
				Reason: "posting list references unknown record",
			}
		}

		best, scored := -1.0, false
		for _, value := range ix.proj(e) {
			if score, ok := scorer.score(strings.ToLower(value)); ok && score > best {
				best, scored = score, true
			}
		}
		if scored && best >= threshold {
			matches = append(matches, Match{ID: id, Local: local, Score: best})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// gramsOf returns the deduplicated n-grams across all projected values of e.
func (ix *Index[E]) gramsOf(e E) map[string]struct{} {
	grams := make(map[string]struct{})
	for _, value := range ix.proj(e) {
		for _, gram := range ix.ngrams(strings.ToLower(value)) {
			grams[gram] = struct{}{}
		}
	}
	return grams
}

// ngrams decomposes input into its n-grams. Inputs shorter than the n-gram
// size produce none; such values are only reachable via exact candidates of
// other values, which keeps candidate generation sub-linear.
func (ix *Index[E]) ngrams(input string) []string {
	runes := []rune(input)
	if ix.ngramSize <= 0 || len(runes) < ix.ngramSize {
		return nil
	}

	out := make([]string, 0, len(runes)-ix.ngramSize+1)
	for i := 0; i+ix.ngramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+ix.ngramSize]))
	}
	return out
}
