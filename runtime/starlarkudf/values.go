package starlarkudf

import (
	"fmt"
	"time"

	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// toStarlark converts a host value. Every call returns fresh, unshared containers.
func toStarlark(value schema.Value) starlark.Value {
	switch value.Type.TypeID {
	case schema.TypeIDNull:
		return starlark.None
	case schema.TypeIDInt:
		return starlark.MakeInt64(value.Int)
	case schema.TypeIDFloat:
		return starlark.Float(value.Float)
	case schema.TypeIDBoolean:
		return starlark.Bool(value.Boolean)
	case schema.TypeIDString:
		return starlark.String(value.Str)
	case schema.TypeIDTime:
		return starlarktime.Time(value.Time)
	case schema.TypeIDBinary:
		return starlark.Bytes(value.Bytes)
	case schema.TypeIDLargeBinary:
		return &handleValue{handle: value.Handle}
	case schema.TypeIDList:
		elements := make([]starlark.Value, len(value.List))
		for i := range value.List {
			elements[i] = toStarlark(value.List[i])
		}
		return starlark.NewList(elements)
	case schema.TypeIDStruct:
		members := make(starlark.StringDict, len(value.FieldValues))
		for i, field := range value.Type.Struct.Fields {
			members[field.Name] = toStarlark(value.FieldValues[i])
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	}
	panic(fmt.Sprintf("invalid value type: %s", value.Type))
}

func tupleToDict(tuple schema.Tuple) *starlark.Dict {
	fields := tuple.Schema().Fields()
	out := starlark.NewDict(len(fields))
	for i, field := range fields {
		// Keys are strings, this can't fail.
		_ = out.SetKey(starlark.String(field.Name), toStarlark(tuple.Value(i)))
	}
	return out
}

func batchToDict(batch *schema.Batch) (*starlark.Dict, error) {
	columns, err := marshal.Columns(batch)
	if err != nil {
		return nil, err
	}
	out := starlark.NewDict(len(columns))
	for i := range columns {
		elements := make([]starlark.Value, columns[i].Len)
		for row := range elements {
			elements[row] = toStarlark(columns[i].Value(row))
		}
		_ = out.SetKey(starlark.String(columns[i].Field.Name), starlark.NewList(elements))
	}
	return out, nil
}

func fromStarlark(value starlark.Value) (schema.Value, error) {
	switch value := value.(type) {
	case starlark.NoneType:
		return schema.NewNull(), nil
	case starlark.Bool:
		return schema.NewBoolean(bool(value)), nil
	case starlark.Int:
		i, ok := value.Int64()
		if !ok {
			return schema.Value{}, udferr.New(udferr.KindMarshalFailure, "", "integer %s overflows 64 bits", value)
		}
		return schema.NewInt(i), nil
	case starlark.Float:
		return schema.NewFloat(float64(value)), nil
	case starlark.String:
		return schema.NewString(string(value)), nil
	case starlark.Bytes:
		return schema.NewBinary([]byte(value)), nil
	case starlarktime.Time:
		return schema.NewTime(time.Time(value)), nil
	case *handleValue:
		return schema.NewLargeBinary(value.handle), nil
	case *starlark.List:
		return listFromIterable(value)
	case starlark.Tuple:
		return listFromIterable(value)
	case *starlarkstruct.Struct:
		names := value.AttrNames()
		fields := make([]schema.StructField, len(names))
		values := make([]schema.Value, len(names))
		for i, name := range names {
			member, err := value.Attr(name)
			if err != nil {
				return schema.Value{}, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't get struct field '%s'", name)
			}
			if values[i], err = fromStarlark(member); err != nil {
				return schema.Value{}, udferr.Annotate(err, "struct field '%s'", name)
			}
			fields[i] = schema.StructField{Name: name, Type: marshal.InferType(values[i])}
		}
		return schema.NewStruct(fields, values), nil
	case *starlark.Dict:
		items := value.Items()
		fields := make([]schema.StructField, len(items))
		values := make([]schema.Value, len(items))
		for i, item := range items {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return schema.Value{}, udferr.New(udferr.KindMarshalFailure, "", "nested dict keys must be strings, got %s", item[0].Type())
			}
			v, err := fromStarlark(item[1])
			if err != nil {
				return schema.Value{}, udferr.Annotate(err, "key '%s'", name)
			}
			fields[i] = schema.StructField{Name: name, Type: marshal.InferType(v)}
			values[i] = v
		}
		return schema.NewStruct(fields, values), nil
	}
	return schema.Value{}, udferr.New(udferr.KindUnsupportedType, "", "can't pass %s value out of starlark", value.Type())
}

func listFromIterable(value starlark.Iterable) (schema.Value, error) {
	iter := value.Iterate()
	defer iter.Done()

	var elements []schema.Value
	var element starlark.Value
	for iter.Next(&element) {
		v, err := fromStarlark(element)
		if err != nil {
			return schema.Value{}, udferr.Annotate(err, "list element %d", len(elements))
		}
		elements = append(elements, v)
	}
	return schema.NewList(elements), nil
}

// rowFromDict reads a tuple emitted by user code. Field order follows the dict's insertion order.
func rowFromDict(value starlark.Value) (names []string, values []schema.Value, err error) {
	dict, ok := value.(*starlark.Dict)
	if !ok {
		return nil, nil, udferr.New(udferr.KindSchemaViolation, "", "expected a dict, got %s", value.Type())
	}
	items := dict.Items()
	names = make([]string, len(items))
	values = make([]schema.Value, len(items))
	for i, item := range items {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, nil, udferr.New(udferr.KindSchemaViolation, "", "field names must be strings, got %s", item[0].Type())
		}
		names[i] = name
		if values[i], err = fromStarlark(item[1]); err != nil {
			return nil, nil, udferr.Annotate(err, "field '%s'", name)
		}
	}
	return names, values, nil
}

// columnsFromDict reads a table emitted by user code, a dict of column lists.
func columnsFromDict(value starlark.Value) (names []string, columns [][]schema.Value, err error) {
	dict, ok := value.(*starlark.Dict)
	if !ok {
		return nil, nil, udferr.New(udferr.KindSchemaViolation, "", "expected a dict of columns, got %s", value.Type())
	}
	items := dict.Items()
	names = make([]string, len(items))
	columns = make([][]schema.Value, len(items))
	for i, item := range items {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, nil, udferr.New(udferr.KindSchemaViolation, "", "column names must be strings, got %s", item[0].Type())
		}
		names[i] = name
		iterable, ok := item[1].(starlark.Iterable)
		if _, isDict := item[1].(*starlark.Dict); !ok || isDict {
			return nil, nil, udferr.New(udferr.KindSchemaViolation, "", "column '%s' must be a list, got %s", name, item[1].Type())
		}
		list, err := listFromIterable(iterable)
		if err != nil {
			return nil, nil, udferr.Annotate(err, "column '%s'", name)
		}
		columns[i] = list.List
	}
	return names, columns, nil
}
