package marshal

import (
	"github.com/cube2222/udfbridge/schema"
)

// A string column is inferred as large binary when at least this share of its
// non-null values are handle URIs.
const largeBinaryInferenceRatio = 0.8

// InferType derives the type of a single foreign value.
func InferType(value schema.Value) schema.Type {
	switch value.Type.TypeID {
	case schema.TypeIDList:
		if value.Type.List.Element != nil {
			return value.Type
		}
		return schema.ListOf(InferColumnType(value.List))
	case schema.TypeIDStruct:
		fields := make([]schema.StructField, len(value.FieldValues))
		for i := range value.FieldValues {
			fields[i] = schema.StructField{
				Name: value.Type.Struct.Fields[i].Name,
				Type: InferType(value.FieldValues[i]),
			}
		}
		return schema.StructOf(fields...)
	}
	return value.Type
}

// InferColumnType derives a type for a column of foreign values.
// Integers mixed with floats widen to float, all-null columns are typed Null.
func InferColumnType(values []schema.Value) schema.Type {
	out := schema.Null
	var nonNull, handleLike int
	for _, value := range values {
		if value.IsNull() {
			continue
		}
		nonNull++
		if value.Type.TypeID == schema.TypeIDString && schema.LooksLikeHandleURI(value.Str) {
			handleLike++
		}
		t := InferType(value)
		switch {
		case out.TypeID == schema.TypeIDNull:
			out = t
		case out.TypeID == schema.TypeIDInt && t.TypeID == schema.TypeIDFloat:
			out = schema.Float
		}
	}
	if out.TypeID == schema.TypeIDString && nonNull > 0 &&
		float64(handleLike)/float64(nonNull) >= largeBinaryInferenceRatio {
		return schema.LargeBinary
	}
	return out
}

// InferSchema derives a schema for named foreign columns. Inferred fields are always nullable.
func InferSchema(names []string, columns [][]schema.Value) (*schema.Schema, error) {
	fields := make([]schema.Field, len(names))
	for i := range names {
		var column []schema.Value
		if i < len(columns) {
			column = columns[i]
		}
		fields[i] = schema.Field{
			Name:     names[i],
			Type:     InferColumnType(column),
			Nullable: true,
		}
	}
	return schema.NewSchema(fields...)
}

// InferTupleSchema derives the output schema of a tuple transform which didn't declare one.
// Fields carried over from the input come first, in input order and keeping their input type
// where the new value still fits it. New fields follow in the order the foreign code produced them.
func InferTupleSchema(input *schema.Schema, names []string, values []schema.Value) (*schema.Schema, error) {
	valueOf := make(map[string]schema.Value, len(names))
	for i := range names {
		valueOf[names[i]] = values[i]
	}

	fields := make([]schema.Field, 0, len(names))
	if input != nil {
		for _, field := range input.Fields() {
			value, ok := valueOf[field.Name]
			if !ok {
				continue
			}
			if _, fits := coerce(field.Type, value); !fits {
				field.Type = InferType(value)
			}
			field.Nullable = true
			fields = append(fields, field)
		}
	}
	for i, name := range names {
		if input != nil && input.Index(name) != -1 {
			continue
		}
		t := InferType(values[i])
		if t.TypeID == schema.TypeIDString && schema.LooksLikeHandleURI(values[i].Str) {
			t = schema.LargeBinary
		}
		fields = append(fields, schema.Field{
			Name:     name,
			Type:     t,
			Nullable: true,
		})
	}
	return schema.NewSchema(fields...)
}
