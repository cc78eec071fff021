package formats

import (
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/valyala/fastjson"

	"github.com/cube2222/udfbridge/schema"
)

// JSONFormatter writes one JSON object per tuple.
type JSONFormatter struct {
	buf   []byte
	arena *fastjson.Arena
	w     io.Writer
	names []string
}

func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{
		buf:   make([]byte, 0, 1024),
		arena: new(fastjson.Arena),
		w:     w,
	}
}

func (t *JSONFormatter) SetSchema(s *schema.Schema) {
	t.names = s.Names()
}

func (t *JSONFormatter) Write(values []schema.Value) error {
	obj := t.arena.NewObject()
	for i := range t.names {
		obj.Set(t.names[i], ValueToJson(t.arena, values[i]))
	}

	t.buf = obj.MarshalTo(t.buf)
	t.buf = append(t.buf, '\n')
	_, err := t.w.Write(t.buf)
	t.buf = t.buf[:0]
	t.arena.Reset()
	return err
}

// ValueToJson converts a value, large binaries are written as their URI.
func ValueToJson(arena *fastjson.Arena, value schema.Value) *fastjson.Value {
	switch value.Type.TypeID {
	case schema.TypeIDNull:
		return arena.NewNull()
	case schema.TypeIDInt:
		return arena.NewNumberInt(int(value.Int))
	case schema.TypeIDFloat:
		return arena.NewNumberFloat64(value.Float)
	case schema.TypeIDBoolean:
		if value.Boolean {
			return arena.NewTrue()
		} else {
			return arena.NewFalse()
		}
	case schema.TypeIDString:
		return arena.NewString(value.Str)
	case schema.TypeIDTime:
		return arena.NewString(value.Time.Format(time.RFC3339Nano))
	case schema.TypeIDBinary:
		return arena.NewString(base64.StdEncoding.EncodeToString(value.Bytes))
	case schema.TypeIDLargeBinary:
		return arena.NewString(value.Handle.URI)
	case schema.TypeIDList:
		arr := arena.NewArray()
		for i := range value.List {
			arr.SetArrayItem(i, ValueToJson(arena, value.List[i]))
		}
		return arr
	case schema.TypeIDStruct:
		obj := arena.NewObject()
		for i := range value.FieldValues {
			obj.Set(value.Type.Struct.Fields[i].Name, ValueToJson(arena, value.FieldValues[i]))
		}
		return obj
	default:
		panic(fmt.Sprintf("invalid value type to print: %s", value.Type))
	}
}

func (t *JSONFormatter) Close() error {
	return nil
}
