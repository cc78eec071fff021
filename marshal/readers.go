package marshal

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"

	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

type columnReader func(rowIndex int) schema.Value

// makeColumnReader does the type dispatch once per column, so reading a batch costs
// one switch per column instead of one per cell.
func makeColumnReader(field arrow.Field, arr arrow.Array) (columnReader, error) {
	if schema.IsLargeBinaryField(field) {
		return makeHandleReader(arr), nil
	}

	var read columnReader
	switch arr.DataType().ID() {
	case arrow.NULL:
		return func(rowIndex int) schema.Value { return schema.NewNull() }, nil
	case arrow.INT8:
		read = readerForType[int8](arr.(*array.Int8), func(v int8) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.INT16:
		read = readerForType[int16](arr.(*array.Int16), func(v int16) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.INT32:
		read = readerForType[int32](arr.(*array.Int32), func(v int32) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.INT64:
		read = readerForType[int64](arr.(*array.Int64), schema.NewInt)
	case arrow.UINT8:
		read = readerForType[uint8](arr.(*array.Uint8), func(v uint8) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.UINT16:
		read = readerForType[uint16](arr.(*array.Uint16), func(v uint16) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.UINT32:
		read = readerForType[uint32](arr.(*array.Uint32), func(v uint32) schema.Value { return schema.NewInt(int64(v)) })
	case arrow.FLOAT32:
		read = readerForType[float32](arr.(*array.Float32), func(v float32) schema.Value { return schema.NewFloat(float64(v)) })
	case arrow.FLOAT64:
		read = readerForType[float64](arr.(*array.Float64), schema.NewFloat)
	case arrow.BOOL:
		read = readerForType[bool](arr.(*array.Boolean), schema.NewBoolean)
	case arrow.STRING:
		read = readerForType[string](arr.(*array.String), schema.NewString)
	case arrow.LARGE_STRING:
		read = readerForType[string](arr.(*array.LargeString), schema.NewString)
	case arrow.BINARY:
		read = readerForType[[]byte](arr.(*array.Binary), copyBinary)
	case arrow.LARGE_BINARY:
		read = readerForType[[]byte](arr.(*array.LargeBinary), copyBinary)
	case arrow.TIMESTAMP:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		read = readerForType[arrow.Timestamp](arr.(*array.Timestamp), func(v arrow.Timestamp) schema.Value {
			return schema.NewTime(timestampToTime(v, unit))
		})
	case arrow.LIST:
		listArr := arr.(*array.List)
		elementReader, err := makeColumnReader(arr.DataType().(*arrow.ListType).ElemField(), listArr.ListValues())
		if err != nil {
			return nil, err
		}
		offsets := listArr.Offsets()
		read = func(rowIndex int) schema.Value {
			start, end := int(offsets[rowIndex]), int(offsets[rowIndex+1])
			out := make([]schema.Value, end-start)
			for i := start; i < end; i++ {
				out[i-start] = elementReader(i)
			}
			return schema.NewList(out)
		}
	case arrow.STRUCT:
		structArr := arr.(*array.Struct)
		structType := arr.DataType().(*arrow.StructType)
		t, err := schema.FromArrowType(structType)
		if err != nil {
			return nil, err
		}
		fieldReaders := make([]columnReader, structArr.NumField())
		for i := range fieldReaders {
			fieldReader, err := makeColumnReader(structType.Field(i), structArr.Field(i))
			if err != nil {
				return nil, err
			}
			fieldReaders[i] = fieldReader
		}
		read = func(rowIndex int) schema.Value {
			values := make([]schema.Value, len(fieldReaders))
			for i := range fieldReaders {
				values[i] = fieldReaders[i](rowIndex)
			}
			return schema.Value{Type: t, FieldValues: values}
		}
	default:
		return nil, udferr.New(udferr.KindUnsupportedType, "", "unsupported arrow type %s in column '%s'", arr.DataType(), field.Name)
	}

	if arr.NullN() == 0 {
		return read, nil
	}
	return func(rowIndex int) schema.Value {
		if arr.IsNull(rowIndex) {
			return schema.NewNull()
		}
		return read(rowIndex)
	}, nil
}

func readerForType[T any, ArrayType interface{ Value(i int) T }](arr ArrayType, wrap func(v T) schema.Value) columnReader {
	return func(rowIndex int) schema.Value {
		return wrap(arr.Value(rowIndex))
	}
}

func makeHandleReader(arr arrow.Array) columnReader {
	var read columnReader
	switch arr := arr.(type) {
	case *array.Struct:
		uris := arr.Field(0).(*array.String)
		sizes := arr.Field(1).(*array.Int64)
		read = func(rowIndex int) schema.Value {
			size := int64(-1)
			if sizes.IsValid(rowIndex) {
				size = sizes.Value(rowIndex)
			}
			return schema.NewLargeBinary(schema.Handle{URI: uris.Value(rowIndex), Size: size})
		}
	case *array.String:
		read = func(rowIndex int) schema.Value {
			return schema.NewLargeBinary(schema.Handle{URI: arr.Value(rowIndex), Size: -1})
		}
	case *array.LargeString:
		read = func(rowIndex int) schema.Value {
			return schema.NewLargeBinary(schema.Handle{URI: arr.Value(rowIndex), Size: -1})
		}
	default:
		panic(fmt.Sprintf("invalid large binary column type: %s", arr.DataType()))
	}
	return func(rowIndex int) schema.Value {
		if arr.IsNull(rowIndex) {
			return schema.NewNull()
		}
		return read(rowIndex)
	}
}

// Binary array values alias the arrow buffer, values leaving the marshalling layer must not.
func copyBinary(v []byte) schema.Value {
	out := make([]byte, len(v))
	copy(out, v)
	return schema.NewBinary(out)
}

func timestampToTime(v arrow.Timestamp, unit arrow.TimeUnit) time.Time {
	switch unit {
	case arrow.Second:
		return time.Unix(int64(v), 0).UTC()
	case arrow.Millisecond:
		return time.UnixMilli(int64(v)).UTC()
	case arrow.Microsecond:
		return time.UnixMicro(int64(v)).UTC()
	default:
		return time.Unix(0, int64(v)).UTC()
	}
}
