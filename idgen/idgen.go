// Package idgen provides identifier generation for tables.
//
// Generators mint globally unique, monotonically non-decreasing identifiers.
// A table calls its generator exactly once per insert and treats a collision
// with an existing identifier as a generator contract violation.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/hupe1980/entidb/core"
)

// Generator mints identifiers on demand.
// Implementations must be safe for concurrent use.
type Generator interface {
	NextID() core.ID
}

// XID returns the default generator, backed by rs/xid: 12-byte globally
// unique values ordered by creation time (second granularity plus a
// per-process monotonic counter).
func XID() Generator { return xidGenerator{} }

type xidGenerator struct{}

func (xidGenerator) NextID() core.ID { return core.ID(xid.New().String()) }

// Sequential returns a deterministic generator for tests: prefix-0000000001,
// prefix-0000000002, ... Zero padding keeps lexicographic order aligned with
// issuance order.
func Sequential(prefix string) Generator {
	return &sequentialGenerator{prefix: prefix}
}

type sequentialGenerator struct {
	prefix string
	n      atomic.Uint64
}

func (g *sequentialGenerator) NextID() core.ID {
	return core.ID(fmt.Sprintf("%s-%010d", g.prefix, g.n.Add(1)))
}

// Fixed returns a generator that replays the given identifiers in order and
// then repeats the last one. It exists to exercise collision handling in
// tests; production code should never use it.
func Fixed(ids ...core.ID) Generator {
	return &fixedGenerator{ids: ids}
}

type fixedGenerator struct {
	ids []core.ID
	n   atomic.Uint64
}

func (g *fixedGenerator) NextID() core.ID {
	i := int(g.n.Add(1)) - 1
	if i >= len(g.ids) {
		i = len(g.ids) - 1
	}
	return g.ids[i]
}
