package schema

import (
	"strings"

	"github.com/cube2222/udfbridge/udferr"
)

// Tuple is a single row conforming to a Schema.
// Its field set always equals the schema's field names, with no extras and no omissions.
type Tuple struct {
	schema *Schema
	values []Value
}

// NewTuple builds a tuple from a name to value mapping.
func NewTuple(schema *Schema, data map[string]Value) (Tuple, error) {
	for name := range data {
		if schema.Index(name) == -1 {
			return Tuple{}, udferr.New(udferr.KindSchemaViolation, "", "unexpected field '%s', schema is %s", name, schema)
		}
	}
	values := make([]Value, schema.Len())
	for i, field := range schema.fields {
		value, ok := data[field.Name]
		if !ok {
			return Tuple{}, udferr.New(udferr.KindSchemaViolation, "", "missing field '%s', schema is %s", field.Name, schema)
		}
		values[i] = value
	}
	return NewTupleFromSlice(schema, values)
}

// NewTupleFromSlice builds a tuple with values in schema order. The slice is owned by the tuple afterwards.
func NewTupleFromSlice(schema *Schema, values []Value) (Tuple, error) {
	if len(values) != schema.Len() {
		return Tuple{}, udferr.New(udferr.KindSchemaViolation, "", "got %d values for schema with %d fields %s", len(values), schema.Len(), schema)
	}
	for i, field := range schema.fields {
		if err := checkFieldValue(field, values[i]); err != nil {
			return Tuple{}, err
		}
	}
	return Tuple{
		schema: schema,
		values: values,
	}, nil
}

func checkFieldValue(field Field, value Value) error {
	if value.IsNull() {
		if !field.Nullable {
			return udferr.New(udferr.KindSchemaViolation, "", "null value for non-nullable field '%s'", field.Name)
		}
		return nil
	}
	if !value.Conforms(field.Type) {
		return udferr.New(udferr.KindSchemaViolation, "", "field '%s' has type %s, got %s value", field.Name, field.Type, value.Type)
	}
	return nil
}

func (t Tuple) Schema() *Schema {
	return t.schema
}

func (t Tuple) Len() int {
	return len(t.values)
}

func (t Tuple) Value(i int) Value {
	return t.values[i]
}

// Values returns a copy of the values in schema order.
func (t Tuple) Values() []Value {
	out := make([]Value, len(t.values))
	copy(out, t.values)
	return out
}

func (t Tuple) Get(name string) (Value, bool) {
	i := t.schema.Index(name)
	if i == -1 {
		return ZeroValue, false
	}
	return t.values[i], true
}

func (t Tuple) AsMap() map[string]Value {
	out := make(map[string]Value, len(t.values))
	for i, field := range t.schema.fields {
		out[field.Name] = t.values[i]
	}
	return out
}

// Partial projects the tuple onto the given fields, in the given order.
func (t Tuple) Partial(names []string) (Tuple, error) {
	fields := make([]Field, len(names))
	values := make([]Value, len(names))
	for i, name := range names {
		index := t.schema.Index(name)
		if index == -1 {
			return Tuple{}, udferr.New(udferr.KindSchemaViolation, "", "unknown field '%s'", name)
		}
		fields[i] = t.schema.fields[index]
		values[i] = t.values[index]
	}
	s, err := NewSchema(fields...)
	if err != nil {
		return Tuple{}, err
	}
	return Tuple{schema: s, values: values}, nil
}

func (t Tuple) Equal(other Tuple) bool {
	if !t.schema.Equal(other.schema) {
		return false
	}
	for i := range t.values {
		if !t.values[i].Equal(other.values[i]) {
			return false
		}
	}
	return true
}

func (t Tuple) String() string {
	builder := &strings.Builder{}
	builder.WriteString("{")
	for i, field := range t.schema.fields {
		builder.WriteString(field.Name)
		builder.WriteString(": ")
		t.values[i].append(builder)
		if i != len(t.values)-1 {
			builder.WriteString(", ")
		}
	}
	builder.WriteString("}")
	return builder.String()
}
