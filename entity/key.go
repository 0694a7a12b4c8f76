package entity

import (
	"cmp"
	"math"
	"strconv"
)

// Kind identifies the concrete type stored in a Key.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindInt represents an integer key.
	KindInt
	// KindFloat represents a float key.
	KindFloat
	// KindString represents a string key.
	KindString
	// KindBool represents a boolean key.
	KindBool
)

// Key is a small typed value projected out of an entity for exact indexing.
//
// The representation is designed to make index maintenance fast and
// predictable: no reflection and no fmt-based stringification. Keys are
// totally ordered (kind first, then value) so indexes can serve range
// lookups.
type Key struct {
	Kind Kind
	I64  int64
	F64  float64
	S    string
	B    bool
}

// String returns a string key.
func String(s string) Key { return Key{Kind: KindString, S: s} }

// Int returns an integer key.
func Int(i int64) Key { return Key{Kind: KindInt, I64: i} }

// Float returns a float key.
func Float(f float64) Key { return Key{Kind: KindFloat, F64: f} }

// Bool returns a boolean key.
func Bool(b bool) Key { return Key{Kind: KindBool, B: b} }

// Compare returns -1, 0 or +1 ordering k relative to other.
// Keys of different kinds order by kind so mixed buckets stay deterministic.
func (k Key) Compare(other Key) int {
	if k.Kind != other.Kind {
		if k.Kind < other.Kind {
			return -1
		}
		return 1
	}
	switch k.Kind {
	case KindInt:
		return cmp.Compare(k.I64, other.I64)
	case KindFloat:
		// cmp.Compare gives floats a total order: NaN sorts before every
		// other value and equals itself, so NaN keys land in their own
		// bucket instead of colliding with an arbitrary one.
		return cmp.Compare(k.F64, other.F64)
	case KindString:
		return cmp.Compare(k.S, other.S)
	case KindBool:
		if k.B == other.B {
			return 0
		}
		if !k.B {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Equal reports whether two keys are identical.
func (k Key) Equal(other Key) bool { return k.Compare(other) == 0 }

// String returns a stable textual representation for diagnostics and error
// messages. It must remain stable: unique-constraint errors embed it.
func (k Key) String() string {
	switch k.Kind {
	case KindInt:
		return "i:" + strconv.FormatInt(k.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(k.F64), 16)
	case KindString:
		return "s:" + k.S
	case KindBool:
		if k.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}
