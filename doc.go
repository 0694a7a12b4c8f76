// Package entidb provides an embeddable, typed, in-process entity store for
// Go.
//
// A process links entidb directly - no server, no network protocol - to
// hold collections of structured records in memory, retrieve them by
// identity or by field value in sub-linear time, run fuzzy text queries
// over string fields, and snapshot/restore the whole store to a compact
// binary form.
//
// Features:
//
//   - Typed tables: Table[E] with type-safe fluent builders
//   - Exact-match secondary indexes with point and range lookups,
//     optionally unique, backed by Roaring bitmap posting lists
//   - Fuzzy text indexes: n-gram candidate generation plus Bitap scoring
//     with threshold and limit semantics
//   - Transactional consistency: every mutation updates the record store
//     and all attached indexes atomically with respect to readers
//   - Snapshots: self-describing binary format with pluggable codec,
//     CRC32 integrity checking and optional zstd/lz4 compression
//
// # Quick Start
//
// Build a table with a unique exact index and a fuzzy index:
//
//	type User struct {
//	    Name string `json:"name"`
//	    Age  int64  `json:"age"`
//	}
//
//	users, err := entidb.New[User]("users").
//	    UniqueIndex("name", func(u User) entity.Key { return entity.String(u.Name) }).
//	    Index("age", func(u User) entity.Key { return entity.Int(u.Age) }).
//	    FuzzyIndex("name_fuzzy", func(u User) []string { return []string{u.Name} }).
//	    Build()
//	if err != nil {
//	    panic(err)
//	}
//
// Insert, query and search:
//
//	id, err := users.Insert(User{Name: "Alice", Age: 30})
//
//	hits, err := users.Lookup("name", entity.String("Alice"))
//	adults, err := users.LookupRange("age", entity.Int(18), entity.Int(65))
//	close, err := users.Search("name_fuzzy", "Alise", 0.7, 5)
//
// Snapshot and restore:
//
//	if err := users.SnapshotToFile("users.snap"); err != nil { ... }
//
//	restored, _ := entidb.New[User]("users").
//	    UniqueIndex("name", byName).
//	    FuzzyIndex("name_fuzzy", nameText).
//	    Build()
//	if err := restored.RestoreFromFile("users.snap"); err != nil { ... }
//
// Snapshots persist entities only; indexes are always rebuilt by replaying
// inserts on restore, which guarantees the restored index state is
// consistent with the restored records.
//
// # Concurrency
//
// A table supports concurrent readers and serialized writers. All calls are
// synchronous and run to completion; there is no cancellation or timeout at
// this layer. Once a mutating call returns success, all subsequent reads
// observe its effect.
package entidb
