package marshal

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"

	"github.com/cube2222/udfbridge/schema"
)

type columnAppender func(value schema.Value)

// makeColumnAppender returns a function appending already validated values to the builder.
func makeColumnAppender(t schema.Type, builder array.Builder) columnAppender {
	var appendValue columnAppender
	switch t.TypeID {
	case schema.TypeIDNull:
		return func(value schema.Value) { builder.AppendNull() }
	case schema.TypeIDInt:
		b := builder.(*array.Int64Builder)
		appendValue = func(value schema.Value) { b.Append(value.Int) }
	case schema.TypeIDFloat:
		b := builder.(*array.Float64Builder)
		appendValue = func(value schema.Value) { b.Append(value.Float) }
	case schema.TypeIDBoolean:
		b := builder.(*array.BooleanBuilder)
		appendValue = func(value schema.Value) { b.Append(value.Boolean) }
	case schema.TypeIDString:
		b := builder.(*array.StringBuilder)
		appendValue = func(value schema.Value) { b.Append(value.Str) }
	case schema.TypeIDTime:
		b := builder.(*array.TimestampBuilder)
		appendValue = func(value schema.Value) { b.Append(arrow.Timestamp(value.Time.UnixMicro())) }
	case schema.TypeIDBinary:
		b := builder.(*array.BinaryBuilder)
		appendValue = func(value schema.Value) { b.Append(value.Bytes) }
	case schema.TypeIDLargeBinary:
		b := builder.(*array.StructBuilder)
		uris := b.FieldBuilder(0).(*array.StringBuilder)
		sizes := b.FieldBuilder(1).(*array.Int64Builder)
		appendValue = func(value schema.Value) {
			b.Append(true)
			uris.Append(value.Handle.URI)
			if value.Handle.Committed() {
				sizes.Append(value.Handle.Size)
			} else {
				sizes.AppendNull()
			}
		}
	case schema.TypeIDList:
		b := builder.(*array.ListBuilder)
		appendElement := makeColumnAppender(*t.List.Element, b.ValueBuilder())
		appendValue = func(value schema.Value) {
			b.Append(true)
			for i := range value.List {
				appendElement(value.List[i])
			}
		}
	case schema.TypeIDStruct:
		b := builder.(*array.StructBuilder)
		fieldAppenders := make([]columnAppender, len(t.Struct.Fields))
		for i := range t.Struct.Fields {
			fieldAppenders[i] = makeColumnAppender(t.Struct.Fields[i].Type, b.FieldBuilder(i))
		}
		appendValue = func(value schema.Value) {
			b.Append(true)
			for i := range fieldAppenders {
				fieldAppenders[i](value.FieldValues[i])
			}
		}
	default:
		panic(fmt.Sprintf("invalid type to build arrow column for: %s", t))
	}

	return func(value schema.Value) {
		if value.IsNull() {
			appendNull(builder)
			return
		}
		appendValue(value)
	}
}

// appendNull keeps struct children aligned with the parent, older arrow releases
// don't append child nulls for a null struct slot.
func appendNull(builder array.Builder) {
	builder.AppendNull()
	if b, ok := builder.(*array.StructBuilder); ok {
		for i := 0; i < b.NumField(); i++ {
			if child := b.FieldBuilder(i); child.Len() < b.Len() {
				appendNull(child)
			}
		}
	}
}
