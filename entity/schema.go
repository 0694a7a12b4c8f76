package entity

// KeyFunc projects an exact-index key out of an entity.
type KeyFunc[E any] func(E) Key

// TextFunc projects the string values of a field out of an entity for fuzzy
// indexing. Multi-valued fields return one string per value; absent optional
// fields return nil.
type TextFunc[E any] func(E) []string

// FieldKind classifies a declared field.
type FieldKind uint8

const (
	// FieldKey is a comparable, orderable field usable by exact indexes.
	FieldKey FieldKind = iota
	// FieldText is a string field usable by fuzzy indexes.
	FieldText
)

// Field describes one declared field of an entity type.
type Field struct {
	Name string
	Kind FieldKind
}

// Schema binds a concrete record type to the engine: it enumerates the
// type's indexable fields with stable names and supplies the projection for
// each. Implementations are typically produced by code generation, but
// hand-written schemas are equivalent; the engine only ever consumes the
// enumerated fields and projections, never schema syntax.
type Schema[E any] struct {
	name   string
	fields []Field
	keys   map[string]KeyFunc[E]
	texts  map[string]TextFunc[E]
}

// NewSchema creates an empty schema for the entity type named name.
func NewSchema[E any](name string) *Schema[E] {
	return &Schema[E]{
		name:  name,
		keys:  make(map[string]KeyFunc[E]),
		texts: make(map[string]TextFunc[E]),
	}
}

// Name returns the declared entity type name.
func (s *Schema[E]) Name() string { return s.name }

// Fields enumerates the declared fields in declaration order.
func (s *Schema[E]) Fields() []Field { return s.fields }

// KeyField declares a comparable field and its projection.
// Redeclaring a name replaces the projection.
func (s *Schema[E]) KeyField(name string, fn KeyFunc[E]) *Schema[E] {
	if _, ok := s.keys[name]; !ok {
		s.fields = append(s.fields, Field{Name: name, Kind: FieldKey})
	}
	s.keys[name] = fn
	return s
}

// TextField declares a string field and its projection.
func (s *Schema[E]) TextField(name string, fn TextFunc[E]) *Schema[E] {
	if _, ok := s.texts[name]; !ok {
		s.fields = append(s.fields, Field{Name: name, Kind: FieldText})
	}
	s.texts[name] = fn
	return s
}

// Key returns the projection for a declared comparable field.
func (s *Schema[E]) Key(name string) (KeyFunc[E], bool) {
	fn, ok := s.keys[name]
	return fn, ok
}

// Text returns the projection for a declared string field.
func (s *Schema[E]) Text(name string) (TextFunc[E], bool) {
	fn, ok := s.texts[name]
	return fn, ok
}
