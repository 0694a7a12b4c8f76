package core

// ID is the public, opaque identifier of an entity. It is assigned once at
// insertion and never reused. IDs compare lexicographically; generators are
// expected to mint monotonically non-decreasing values so that iteration
// order tracks insertion order.
type ID string

// LocalID is a dense, internal identifier for an entity within a single
// table. It is strictly 32-bit so index posting lists can use Roaring
// bitmaps. Used for all hot-path structures (bitmaps, posting lists).
type LocalID uint32

// MaxLocalID is the maximum possible value for a LocalID.
const MaxLocalID = ^LocalID(0)
