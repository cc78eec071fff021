// Package schema holds the typed record model shared by the host and the foreign side of the bridge:
// types, values, schemas, tuples, columnar batches, ports and large object handles.
package schema

import (
	"fmt"
	"strings"

	"github.com/cube2222/udfbridge/udferr"
)

// Port identifies an input or output channel of an operator.
type Port int

type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// Schema is an ordered list of fields. It's immutable once created and shared read-only
// by every tuple and batch it types.
type Schema struct {
	fields []Field
	index  map[string]int
}

func NewSchema(fields ...Field) (*Schema, error) {
	index := make(map[string]int, len(fields))
	for i, field := range fields {
		if field.Name == "" {
			return nil, udferr.New(udferr.KindSchemaViolation, "", "field %d has an empty name", i)
		}
		if _, ok := index[field.Name]; ok {
			return nil, udferr.New(udferr.KindSchemaViolation, "", "duplicate field '%s'", field.Name)
		}
		index[field.Name] = i
	}
	copied := make([]Field, len(fields))
	copy(copied, fields)

	return &Schema{
		fields: copied,
		index:  index,
	}, nil
}

// MustNewSchema is NewSchema for statically known schemas.
func MustNewSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int {
	return len(s.fields)
}

func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i := range s.fields {
		out[i] = s.fields[i].Name
	}
	return out
}

// Index returns the position of the named field, or -1.
func (s *Schema) Index(name string) int {
	i, ok := s.index[name]
	if !ok {
		return -1
	}
	return i
}

func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Name != other.fields[i].Name ||
			s.fields[i].Nullable != other.fields[i].Nullable ||
			!s.fields[i].Type.Is(other.fields[i].Type) {
			return false
		}
	}
	return true
}

// Extend returns a new schema with the given fields appended.
func (s *Schema) Extend(fields ...Field) (*Schema, error) {
	return NewSchema(append(s.Fields(), fields...)...)
}

func (s *Schema) String() string {
	fieldStrings := make([]string, len(s.fields))
	for i, field := range s.fields {
		nullable := ""
		if field.Nullable {
			nullable = "?"
		}
		fieldStrings[i] = fmt.Sprintf("%s: %s%s", field.Name, field.Type, nullable)
	}
	return fmt.Sprintf("(%s)", strings.Join(fieldStrings, ", "))
}
