package schema

import (
	"fmt"
	"strings"
)

type TypeID int

const (
	TypeIDNull TypeID = iota
	TypeIDInt
	TypeIDFloat
	TypeIDBoolean
	TypeIDString
	TypeIDTime
	TypeIDBinary
	TypeIDLargeBinary
	TypeIDList
	TypeIDStruct
)

type Type struct {
	TypeID      TypeID
	Null        struct{}
	Int         struct{}
	Float       struct{}
	Boolean     struct{}
	Str         struct{}
	Time        struct{}
	Binary      struct{}
	LargeBinary struct{}
	List        struct {
		Element *Type
	}
	Struct struct {
		Fields []StructField
	}
}

type StructField struct {
	Name string
	Type Type
}

var (
	Null        Type = Type{TypeID: TypeIDNull}
	Int         Type = Type{TypeID: TypeIDInt}
	Float       Type = Type{TypeID: TypeIDFloat}
	Boolean     Type = Type{TypeID: TypeIDBoolean}
	String      Type = Type{TypeID: TypeIDString}
	Time        Type = Type{TypeID: TypeIDTime}
	Binary      Type = Type{TypeID: TypeIDBinary}
	LargeBinary Type = Type{TypeID: TypeIDLargeBinary}
)

func ListOf(element Type) Type {
	out := Type{TypeID: TypeIDList}
	out.List.Element = &element
	return out
}

func StructOf(fields ...StructField) Type {
	out := Type{TypeID: TypeIDStruct}
	out.Struct.Fields = fields
	return out
}

// Is reports whether t and other are structurally the same type.
// There's no subtyping, the only coercion the bridge knows about is integer to float widening in the marshalling layer.
func (t Type) Is(other Type) bool {
	if t.TypeID != other.TypeID {
		return false
	}
	switch t.TypeID {
	case TypeIDList:
		if t.List.Element == nil || other.List.Element == nil {
			return t.List.Element == other.List.Element
		}
		return t.List.Element.Is(*other.List.Element)
	case TypeIDStruct:
		if len(t.Struct.Fields) != len(other.Struct.Fields) {
			return false
		}
		for i := range t.Struct.Fields {
			if t.Struct.Fields[i].Name != other.Struct.Fields[i].Name {
				return false
			}
			if !t.Struct.Fields[i].Type.Is(other.Struct.Fields[i].Type) {
				return false
			}
		}
	}
	return true
}

func (t Type) String() string {
	switch t.TypeID {
	case TypeIDNull:
		return "NULL"
	case TypeIDInt:
		return "Int"
	case TypeIDFloat:
		return "Float"
	case TypeIDBoolean:
		return "Boolean"
	case TypeIDString:
		return "String"
	case TypeIDTime:
		return "Time"
	case TypeIDBinary:
		return "Binary"
	case TypeIDLargeBinary:
		return "LargeBinary"
	case TypeIDList:
		if t.List.Element == nil {
			// List values built without an element type.
			return "[?]"
		}
		return fmt.Sprintf("[%s]", *t.List.Element)
	case TypeIDStruct:
		fieldStrings := make([]string, len(t.Struct.Fields))
		for i, field := range t.Struct.Fields {
			fieldStrings[i] = fmt.Sprintf("%s: %s", field.Name, field.Type)
		}

		return fmt.Sprintf("{%s}", strings.Join(fieldStrings, "; "))
	}
	panic("impossible, type switch bug")
}

// ParseType parses the textual representation used in pipeline configuration files,
// e.g. "int", "string", "large_binary", "list<float>".
func ParseType(text string) (Type, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	switch text {
	case "int", "integer", "long":
		return Int, nil
	case "float", "double":
		return Float, nil
	case "bool", "boolean":
		return Boolean, nil
	case "string", "str":
		return String, nil
	case "time", "timestamp":
		return Time, nil
	case "binary", "bytes":
		return Binary, nil
	case "large_binary", "largebinary":
		return LargeBinary, nil
	}
	if strings.HasPrefix(text, "list<") && strings.HasSuffix(text, ">") {
		element, err := ParseType(text[len("list<") : len(text)-1])
		if err != nil {
			return Type{}, err
		}
		return ListOf(element), nil
	}
	return Type{}, fmt.Errorf("unknown type: '%s'", text)
}
