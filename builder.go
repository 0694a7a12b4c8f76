// Package entidb provides an embeddable, typed, in-process entity store.
//
// This file implements the fluent builder API for creating and configuring
// tables. Builders are immutable - each method returns a new builder with
// the updated configuration.
package entidb

import (
	"fmt"
	"slices"

	"github.com/hupe1980/entidb/codec"
	"github.com/hupe1980/entidb/entity"
	"github.com/hupe1980/entidb/idgen"
	"github.com/hupe1980/entidb/index"
	"github.com/hupe1980/entidb/index/exact"
	"github.com/hupe1980/entidb/index/fuzzy"
	"github.com/hupe1980/entidb/store"
)

// New creates a table builder for the entity type E.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration. This ensures thread-safety and prevents accidental
// state sharing.
//
// Example:
//
//	users, err := entidb.New[User]("users").
//	    UniqueIndex("name", func(u User) entity.Key { return entity.String(u.Name) }).
//	    FuzzyIndex("name_fuzzy", func(u User) []string { return []string{u.Name} }).
//	    Build()
func New[E any](name string) Builder[E] {
	return Builder[E]{name: name}
}

// Builder is an immutable fluent builder for creating Table instances.
// Each method returns a new builder with the updated configuration.
type Builder[E any] struct {
	name        string
	gen         idgen.Generator
	indexes     []index.Index[E]
	codec       codec.Codec
	compression Compression
	logger      *Logger
	metrics     MetricsCollector
}

// IDGenerator sets the identifier generator.
// Default: idgen.XID() (globally unique, monotonically non-decreasing).
func (b Builder[E]) IDGenerator(gen idgen.Generator) Builder[E] {
	b.gen = gen
	return b
}

// Index attaches an exact-match index over the given projection.
func (b Builder[E]) Index(name string, proj entity.KeyFunc[E], optFns ...func(o *exact.Options)) Builder[E] {
	b.indexes = append(slices.Clone(b.indexes), exact.New(name, proj, optFns...))
	return b
}

// UniqueIndex attaches an exact-match index that enforces at most one
// entity per key.
func (b Builder[E]) UniqueIndex(name string, proj entity.KeyFunc[E]) Builder[E] {
	return b.Index(name, proj, exact.WithUnique())
}

// FuzzyIndex attaches an approximate-string index over the given projection.
func (b Builder[E]) FuzzyIndex(name string, proj entity.TextFunc[E], optFns ...func(o *fuzzy.Options)) Builder[E] {
	b.indexes = append(slices.Clone(b.indexes), fuzzy.New(name, proj, optFns...))
	return b
}

// Schema attaches one index per declared schema field: an exact index for
// every key field and a fuzzy index for every text field, named after the
// field.
func (b Builder[E]) Schema(s *entity.Schema[E]) Builder[E] {
	for _, f := range s.Fields() {
		switch f.Kind {
		case entity.FieldKey:
			if proj, ok := s.Key(f.Name); ok {
				b = b.Index(f.Name, proj)
			}
		case entity.FieldText:
			if proj, ok := s.Text(f.Name); ok {
				b = b.FuzzyIndex(f.Name, proj)
			}
		}
	}
	return b
}

// Codec sets the snapshot codec. Default: codec.Default (go-json).
func (b Builder[E]) Codec(c codec.Codec) Builder[E] {
	b.codec = c
	return b
}

// Compress sets the snapshot compression. Default: CompressionNone.
func (b Builder[E]) Compress(c Compression) Builder[E] {
	b.compression = c
	return b
}

// Logger sets the logger. Default: NoopLogger().
func (b Builder[E]) Logger(l *Logger) Builder[E] {
	b.logger = l
	return b
}

// Metrics sets the metrics collector. Default: NoopMetricsCollector.
func (b Builder[E]) Metrics(m MetricsCollector) Builder[E] {
	b.metrics = m
	return b
}

// Build creates the table.
func (b Builder[E]) Build() (*Table[E], error) {
	if b.name == "" {
		return nil, fmt.Errorf("%w: table name must not be empty", ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(b.indexes))
	for _, ix := range b.indexes {
		if ix.Name() == "" {
			return nil, fmt.Errorf("%w: index name must not be empty", ErrInvalidArgument)
		}
		if _, dup := seen[ix.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate index name %q", ErrInvalidArgument, ix.Name())
		}
		seen[ix.Name()] = struct{}{}
	}

	gen := b.gen
	if gen == nil {
		gen = idgen.XID()
	}
	c := b.codec
	if c == nil {
		c = codec.Default
	}
	logger := b.logger
	if logger == nil {
		logger = NoopLogger()
	}
	metrics := b.metrics
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}

	byName := make(map[string]index.Index[E], len(b.indexes))
	for _, ix := range b.indexes {
		byName[ix.Name()] = ix
	}

	return &Table[E]{
		name:        b.name,
		records:     store.New[E](gen),
		indexes:     slices.Clone(b.indexes),
		byName:      byName,
		codec:       c,
		compression: b.compression,
		logger:      logger,
		metrics:     metrics,
	}, nil
}
