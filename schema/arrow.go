package schema

import (
	"github.com/apache/arrow/go/v13/arrow"

	"github.com/cube2222/udfbridge/udferr"
)

// Large binary columns are tagged with field metadata, so that any arrow producer can mark a column as holding handles.
const (
	TypeMetadataKey          = "texera_type"
	LargeBinaryMetadataValue = "LARGE_BINARY"
)

// The arrow representation of a handle.
var arrowHandleType = arrow.StructOf(
	arrow.Field{Name: "uri", Type: arrow.BinaryTypes.String},
	arrow.Field{Name: "size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
)

var largeBinaryMetadata = arrow.NewMetadata([]string{TypeMetadataKey}, []string{LargeBinaryMetadataValue})

func ToArrowSchema(s *Schema) *arrow.Schema {
	fields := make([]arrow.Field, s.Len())
	for i, field := range s.fields {
		fields[i] = ToArrowField(field)
	}
	return arrow.NewSchema(fields, nil)
}

func ToArrowField(field Field) arrow.Field {
	out := arrow.Field{
		Name:     field.Name,
		Type:     ToArrowType(field.Type),
		Nullable: field.Nullable,
	}
	if field.Type.TypeID == TypeIDLargeBinary {
		out.Metadata = largeBinaryMetadata
	}
	return out
}

func ToArrowType(t Type) arrow.DataType {
	switch t.TypeID {
	case TypeIDNull:
		return arrow.Null
	case TypeIDInt:
		return arrow.PrimitiveTypes.Int64
	case TypeIDFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeIDBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeIDString:
		return arrow.BinaryTypes.String
	case TypeIDTime:
		return arrow.FixedWidthTypes.Timestamp_us
	case TypeIDBinary:
		return arrow.BinaryTypes.Binary
	case TypeIDLargeBinary:
		return arrowHandleType
	case TypeIDList:
		return arrow.ListOfField(ToArrowField(Field{Name: "item", Type: *t.List.Element, Nullable: true}))
	case TypeIDStruct:
		fields := make([]arrow.Field, len(t.Struct.Fields))
		for i, field := range t.Struct.Fields {
			fields[i] = ToArrowField(Field{Name: field.Name, Type: field.Type, Nullable: true})
		}
		return arrow.StructOf(fields...)
	}
	panic("impossible, type switch bug")
}

// FromArrowSchema converts an arrow schema into a bridge schema.
// Arrow types with no bridge equivalent are reported as UnsupportedType.
func FromArrowSchema(s *arrow.Schema) (*Schema, error) {
	fields := make([]Field, len(s.Fields()))
	for i, arrowField := range s.Fields() {
		field, err := FromArrowField(arrowField)
		if err != nil {
			return nil, err
		}
		fields[i] = field
	}
	return NewSchema(fields...)
}

func FromArrowField(f arrow.Field) (Field, error) {
	if IsLargeBinaryField(f) {
		return Field{Name: f.Name, Type: LargeBinary, Nullable: f.Nullable}, nil
	}
	t, err := FromArrowType(f.Type)
	if err != nil {
		return Field{}, udferr.Wrap(udferr.KindUnsupportedType, "", err, "field '%s'", f.Name)
	}
	return Field{Name: f.Name, Type: t, Nullable: f.Nullable}, nil
}

// IsLargeBinaryField checks the large binary tag. Tagged columns may be either
// the handle struct or plain URI strings, the latter being what foreign producers usually emit.
func IsLargeBinaryField(f arrow.Field) bool {
	i := f.Metadata.FindKey(TypeMetadataKey)
	if i == -1 || f.Metadata.Values()[i] != LargeBinaryMetadataValue {
		return false
	}
	switch f.Type.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return true
	case arrow.STRUCT:
		return arrow.TypeEqual(f.Type, arrowHandleType)
	}
	return false
}

func FromArrowType(t arrow.DataType) (Type, error) {
	switch t.ID() {
	case arrow.NULL:
		return Null, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return Int, nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return Float, nil
	case arrow.BOOL:
		return Boolean, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return String, nil
	case arrow.TIMESTAMP:
		return Time, nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return Binary, nil
	case arrow.LIST:
		elementField := t.(*arrow.ListType).ElemField()
		element, err := FromArrowField(elementField)
		if err != nil {
			return Type{}, err
		}
		return ListOf(element.Type), nil
	case arrow.STRUCT:
		structType := t.(*arrow.StructType)
		fields := make([]StructField, len(structType.Fields()))
		for i := range fields {
			field, err := FromArrowField(structType.Field(i))
			if err != nil {
				return Type{}, err
			}
			fields[i] = StructField{Name: field.Name, Type: field.Type}
		}
		return StructOf(fields...), nil
	}
	return Type{}, udferr.New(udferr.KindUnsupportedType, "", "unsupported arrow type %s", t)
}
