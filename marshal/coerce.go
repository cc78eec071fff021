package marshal

import (
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// Coerce adapts a foreign-produced value to the declared field type.
// The only implicit conversions are integer to float widening and handle URIs
// given as plain strings for large binary fields. Anything else is a SchemaViolation.
func Coerce(field schema.Field, value schema.Value) (schema.Value, error) {
	out, ok := coerce(field.Type, value)
	if !ok {
		return schema.Value{}, udferr.New(udferr.KindSchemaViolation, "", "field '%s' has type %s, got %s value %s", field.Name, field.Type, typeName(value), value)
	}
	if out.IsNull() && !field.Nullable {
		return schema.Value{}, udferr.New(udferr.KindSchemaViolation, "", "null value for non-nullable field '%s'", field.Name)
	}
	return out, nil
}

func coerce(t schema.Type, value schema.Value) (schema.Value, bool) {
	if value.IsNull() {
		return value, true
	}
	switch t.TypeID {
	case schema.TypeIDFloat:
		if value.Type.TypeID == schema.TypeIDInt {
			return schema.NewFloat(float64(value.Int)), true
		}
	case schema.TypeIDLargeBinary:
		if value.Type.TypeID == schema.TypeIDString {
			handle, err := schema.ParseHandle(value.Str)
			if err != nil {
				return value, false
			}
			return schema.NewLargeBinary(handle), true
		}
	case schema.TypeIDList:
		if value.Type.TypeID != schema.TypeIDList {
			return value, false
		}
		elements := make([]schema.Value, len(value.List))
		for i := range value.List {
			element, ok := coerce(*t.List.Element, value.List[i])
			if !ok {
				return value, false
			}
			elements[i] = element
		}
		out := schema.NewList(elements)
		out.Type = t
		return out, true
	case schema.TypeIDStruct:
		if value.Type.TypeID != schema.TypeIDStruct || len(value.FieldValues) != len(t.Struct.Fields) {
			return value, false
		}
		fieldValues := make([]schema.Value, len(value.FieldValues))
		for i := range value.FieldValues {
			if value.Type.Struct.Fields[i].Name != t.Struct.Fields[i].Name {
				return value, false
			}
			fieldValue, ok := coerce(t.Struct.Fields[i].Type, value.FieldValues[i])
			if !ok {
				return value, false
			}
			fieldValues[i] = fieldValue
		}
		return schema.Value{Type: t, FieldValues: fieldValues}, true
	}
	if !value.Conforms(t) {
		return value, false
	}
	return value, true
}

func typeName(value schema.Value) string {
	if value.Type.TypeID == schema.TypeIDList && value.Type.List.Element == nil {
		return "List"
	}
	return value.Type.String()
}
