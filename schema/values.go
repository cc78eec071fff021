package schema

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

var ZeroValue = Value{}

// Value is a single typed field value.
// Only the field matching Type.TypeID is meaningful.
type Value struct {
	Type        Type
	Int         int64
	Float       float64
	Boolean     bool
	Str         string
	Time        time.Time
	Bytes       []byte
	Handle      Handle
	List        []Value
	FieldValues []Value
}

func NewNull() Value {
	return Value{
		Type: Type{TypeID: TypeIDNull},
	}
}

func NewInt(value int64) Value {
	return Value{
		Type: Type{TypeID: TypeIDInt},
		Int:  value,
	}
}

func NewFloat(value float64) Value {
	return Value{
		Type:  Type{TypeID: TypeIDFloat},
		Float: value,
	}
}

func NewBoolean(value bool) Value {
	return Value{
		Type:    Type{TypeID: TypeIDBoolean},
		Boolean: value,
	}
}

func NewString(value string) Value {
	return Value{
		Type: Type{TypeID: TypeIDString},
		Str:  value,
	}
}

func NewTime(value time.Time) Value {
	return Value{
		Type: Type{TypeID: TypeIDTime},
		Time: value,
	}
}

func NewBinary(value []byte) Value {
	return Value{
		Type:  Type{TypeID: TypeIDBinary},
		Bytes: value,
	}
}

func NewLargeBinary(handle Handle) Value {
	return Value{
		Type:   Type{TypeID: TypeIDLargeBinary},
		Handle: handle,
	}
}

func NewList(value []Value) Value {
	return Value{
		Type: Type{TypeID: TypeIDList},
		List: value,
	}
}

func NewStruct(fields []StructField, values []Value) Value {
	return Value{
		Type:        StructOf(fields...),
		FieldValues: values,
	}
}

func (value Value) IsNull() bool {
	return value.Type.TypeID == TypeIDNull
}

func (value Value) Compare(other Value) int {
	if value.Type.TypeID != other.Type.TypeID {
		if value.Type.TypeID < other.Type.TypeID {
			return -1
		} else {
			return 1
		}
	}

	switch value.Type.TypeID {
	case TypeIDNull:
		return 0

	case TypeIDInt:
		if value.Int < other.Int {
			return -1
		} else if value.Int > other.Int {
			return 1
		} else {
			return 0
		}

	case TypeIDFloat:
		if value.Float < other.Float {
			return -1
		} else if value.Float > other.Float {
			return 1
		} else {
			return 0
		}

	case TypeIDBoolean:
		if value.Boolean == other.Boolean {
			return 0
		} else if !value.Boolean {
			return -1
		} else {
			return 1
		}

	case TypeIDString:
		return strings.Compare(value.Str, other.Str)

	case TypeIDTime:
		if value.Time.Before(other.Time) {
			return -1
		} else if value.Time.After(other.Time) {
			return 1
		} else {
			return 0
		}

	case TypeIDBinary:
		return bytes.Compare(value.Bytes, other.Bytes)

	case TypeIDLargeBinary:
		// Handles are compared by identity, never by payload.
		return strings.Compare(value.Handle.URI, other.Handle.URI)

	case TypeIDList:
		return compareSlices(value.List, other.List)

	case TypeIDStruct:
		return compareSlices(value.FieldValues, other.FieldValues)

	default:
		panic("impossible, type switch bug")
	}
}

func compareSlices(left, right []Value) int {
	maxLen := len(left)
	if len(right) > maxLen {
		maxLen = len(right)
	}

	for i := 0; i < maxLen; i++ {
		if i == len(left) {
			return -1
		} else if i == len(right) {
			return 1
		}

		if comp := left[i].Compare(right[i]); comp != 0 {
			return comp
		}
	}

	return 0
}

func (value Value) Equal(other Value) bool {
	return value.Compare(other) == 0
}

func (value Value) String() string {
	builder := &strings.Builder{}
	value.append(builder)
	return builder.String()
}

func (value Value) append(builder *strings.Builder) {
	switch value.Type.TypeID {
	case TypeIDNull:
		builder.WriteString("null")

	case TypeIDInt:
		builder.WriteString(fmt.Sprint(value.Int))

	case TypeIDFloat:
		builder.WriteString(fmt.Sprint(value.Float))

	case TypeIDBoolean:
		builder.WriteString(fmt.Sprint(value.Boolean))

	case TypeIDString:
		builder.WriteString(fmt.Sprintf("'%s'", value.Str))

	case TypeIDTime:
		builder.WriteString(value.Time.Format(time.RFC3339Nano))

	case TypeIDBinary:
		builder.WriteString(fmt.Sprintf("<%d bytes>", len(value.Bytes)))

	case TypeIDLargeBinary:
		builder.WriteString(value.Handle.URI)

	case TypeIDList:
		builder.WriteString("[")
		for i, v := range value.List {
			v.append(builder)
			if i != len(value.List)-1 {
				builder.WriteString(", ")
			}
		}
		builder.WriteString("]")

	case TypeIDStruct:
		builder.WriteString("{ ")
		for i, v := range value.FieldValues {
			builder.WriteString(value.Type.Struct.Fields[i].Name)
			builder.WriteString(": ")
			v.append(builder)
			if i != len(value.FieldValues)-1 {
				builder.WriteString(", ")
			}
		}
		builder.WriteString(" }")

	default:
		panic("impossible, type switch bug")
	}
}

func (value Value) ToRawGoValue() interface{} {
	switch value.Type.TypeID {
	case TypeIDNull:
		return nil
	case TypeIDInt:
		return value.Int
	case TypeIDFloat:
		return value.Float
	case TypeIDBoolean:
		return value.Boolean
	case TypeIDString:
		return value.Str
	case TypeIDTime:
		return value.Time
	case TypeIDBinary:
		return value.Bytes
	case TypeIDLargeBinary:
		return value.Handle.URI
	case TypeIDList:
		out := make([]interface{}, len(value.List))
		for i := range value.List {
			out[i] = value.List[i].ToRawGoValue()
		}
		return out
	case TypeIDStruct:
		out := make(map[string]interface{}, len(value.FieldValues))
		for i := range value.FieldValues {
			out[value.Type.Struct.Fields[i].Name] = value.FieldValues[i].ToRawGoValue()
		}
		return out
	default:
		panic("invalid schema.Value to get Raw Go value for")
	}
}

// Conforms reports whether value may be stored in a field of type t.
// Nulls conform to any type, nullability is checked by the field.
func (value Value) Conforms(t Type) bool {
	if value.Type.TypeID == TypeIDNull {
		return true
	}
	if value.Type.TypeID != t.TypeID {
		return false
	}
	switch t.TypeID {
	case TypeIDList:
		for i := range value.List {
			if !value.List[i].Conforms(*t.List.Element) {
				return false
			}
		}
	case TypeIDStruct:
		if len(value.FieldValues) != len(t.Struct.Fields) {
			return false
		}
		for i := range value.FieldValues {
			if !value.FieldValues[i].Conforms(t.Struct.Fields[i].Type) {
				return false
			}
		}
	}
	return true
}
