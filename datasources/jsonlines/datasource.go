// Package jsonlines reads files with one JSON object per line as pipeline input.
package jsonlines

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/valyala/fastjson"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// Without a declared schema, it's inferred from this many leading lines.
const inferenceSampleSize = 100

type Datasource struct {
	Path string
	// Schema may be nil, in which case it's inferred and all fields are nullable.
	Schema    *schema.Schema
	BatchSize int
}

type row struct {
	names  []string
	values []schema.Value
}

func (d *Datasource) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("couldn't open file: %w", err)
	}
	defer f.Close()

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = execution.IdealBatchSize
	}

	sc := bufio.NewScanner(bufio.NewReaderSize(f, 4096*1024))
	sc.Buffer(nil, 1024*1024)

	s := d.Schema
	mem := memory.NewGoAllocator()
	produceCtx := execution.ProduceContext{Context: ctx}

	var sample []sampledRow
	var tuples []schema.Tuple
	flush := func() error {
		if len(tuples) == 0 {
			return nil
		}
		batch, err := marshal.BatchFromTuples(mem, s, tuples)
		if err != nil {
			return fmt.Errorf("couldn't build batch: %w", err)
		}
		defer batch.Release()
		tuples = tuples[:0]
		if err := produce(produceCtx, batch); err != nil {
			return fmt.Errorf("couldn't produce batch: %w", err)
		}
		return nil
	}
	add := func(line int, tuple schema.Tuple, err error) error {
		if err != nil {
			return udferr.Annotate(err, "line %d", line)
		}
		tuples = append(tuples, tuple)
		if len(tuples) >= batchSize {
			return flush()
		}
		return nil
	}
	// inferSchema fixes the schema based on the sampled rows and emits them.
	inferSchema := func() error {
		names, columns := sampleColumns(sample)
		inferred, err := marshal.InferSchema(names, columns)
		if err != nil {
			return fmt.Errorf("couldn't infer schema: %w", err)
		}
		s = inferred
		for i := range sample {
			tuple, err := tupleFromRow(s, sample[i].row)
			if err := add(sample[i].line, tuple, err); err != nil {
				return err
			}
		}
		sample = nil
		return nil
	}

	var p fastjson.Parser
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		v, err := p.ParseBytes(sc.Bytes())
		if err != nil {
			return fmt.Errorf("couldn't parse json on line %d: %w", line, err)
		}
		o, err := v.Object()
		if err != nil {
			return fmt.Errorf("expected JSON object on line %d, got '%s'", line, sc.Text())
		}

		if s == nil {
			sample = append(sample, sampledRow{line: line, row: untypedRow(o)})
			if len(sample) == inferenceSampleSize {
				if err := inferSchema(); err != nil {
					return err
				}
			}
			continue
		}
		tuple, err := typedTuple(s, o)
		if err := add(line, tuple, err); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("couldn't read file: %w", err)
	}
	if s == nil && len(sample) > 0 {
		if err := inferSchema(); err != nil {
			return err
		}
	}
	return flush()
}

type sampledRow struct {
	line int
	row  row
}

func untypedRow(o *fastjson.Object) row {
	var out row
	o.Visit(func(key []byte, v *fastjson.Value) {
		out.names = append(out.names, string(key))
		out.values = append(out.values, jsonValue(v))
	})
	return out
}

// sampleColumns lays out sampled rows as columns, in the order fields first appear.
func sampleColumns(sample []sampledRow) ([]string, [][]schema.Value) {
	index := map[string]int{}
	var names []string
	var columns [][]schema.Value
	for i := range sample {
		r := sample[i].row
		for j, name := range r.names {
			k, ok := index[name]
			if !ok {
				k = len(names)
				index[name] = k
				names = append(names, name)
				columns = append(columns, make([]schema.Value, 0, len(sample)))
			}
			columns[k] = append(columns[k], r.values[j])
		}
	}
	return names, columns
}

func tupleFromRow(s *schema.Schema, r row) (schema.Tuple, error) {
	values := make([]schema.Value, s.Len())
	for i := range values {
		values[i] = schema.NewNull()
	}
	for i, name := range r.names {
		index := s.Index(name)
		value, err := marshal.Coerce(s.Field(index), r.values[i])
		if err != nil {
			return schema.Tuple{}, err
		}
		values[index] = value
	}
	return schema.NewTupleFromSlice(s, values)
}

// typedTuple reads the schema's fields out of an object. Missing fields are null, others are ignored.
func typedTuple(s *schema.Schema, o *fastjson.Object) (schema.Tuple, error) {
	values := make([]schema.Value, s.Len())
	for i, field := range s.Fields() {
		value, err := fieldValue(field, o.Get(field.Name))
		if err != nil {
			return schema.Tuple{}, err
		}
		values[i] = value
	}
	return schema.NewTupleFromSlice(s, values)
}

func fieldValue(field schema.Field, v *fastjson.Value) (schema.Value, error) {
	if v == nil {
		return marshal.Coerce(field, schema.NewNull())
	}
	if v.Type() == fastjson.TypeString {
		str, _ := v.StringBytes()
		switch field.Type.TypeID {
		case schema.TypeIDTime:
			parsed, err := time.Parse(time.RFC3339Nano, string(str))
			if err != nil {
				return schema.Value{}, udferr.Wrap(udferr.KindSchemaViolation, "", err, "field '%s' has type Time", field.Name)
			}
			return schema.NewTime(parsed), nil
		case schema.TypeIDBinary:
			decoded, err := base64.StdEncoding.DecodeString(string(str))
			if err != nil {
				return schema.Value{}, udferr.Wrap(udferr.KindSchemaViolation, "", err, "field '%s' has type Binary", field.Name)
			}
			return schema.NewBinary(decoded), nil
		}
	}
	return marshal.Coerce(field, jsonValue(v))
}

// jsonValue converts a JSON value without a target type. Numbers without a fraction are ints.
func jsonValue(v *fastjson.Value) schema.Value {
	switch v.Type() {
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return schema.NewInt(i)
		}
		f, _ := v.Float64()
		return schema.NewFloat(f)
	case fastjson.TypeString:
		str, _ := v.StringBytes()
		return schema.NewString(string(str))
	case fastjson.TypeTrue:
		return schema.NewBoolean(true)
	case fastjson.TypeFalse:
		return schema.NewBoolean(false)
	case fastjson.TypeArray:
		arr, _ := v.Array()
		values := make([]schema.Value, len(arr))
		for i := range arr {
			values[i] = jsonValue(arr[i])
		}
		return schema.NewList(values)
	case fastjson.TypeObject:
		obj, _ := v.Object()
		var fields []schema.StructField
		var values []schema.Value
		obj.Visit(func(key []byte, v *fastjson.Value) {
			value := jsonValue(v)
			fields = append(fields, schema.StructField{Name: string(key), Type: marshal.InferType(value)})
			values = append(values, value)
		})
		return schema.NewStruct(fields, values)
	}
	return schema.NewNull()
}
