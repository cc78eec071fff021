// Package parquet reads flat parquet files as pipeline input.
package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/segmentio/parquet-go"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

type Datasource struct {
	Path string
	// Schema may be nil, in which case it's read from the file.
	Schema    *schema.Schema
	BatchSize int
}

// column is a leaf column of the file.
type column struct {
	index int
	field schema.Field
}

func openFile(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("couldn't stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size(), &parquet.FileConfig{
		SkipPageIndex:    true,
		SkipBloomFilters: true,
	})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("couldn't open parquet file: %w", err)
	}
	return f, pf, nil
}

// fileColumns maps the top-level fields of the file. Nested groups and repeated fields aren't supported.
func fileColumns(pf *parquet.File) ([]column, error) {
	fields := pf.Schema().Fields()
	out := make([]column, 0, len(fields))
	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return nil, udferr.New(udferr.KindUnsupportedType, "", "parquet column '%s' is nested or repeated, only flat files are supported", field.Name())
		}
		t, ok := leafType(field.Type().Kind())
		if !ok || field.Type().String() == "NULL" {
			return nil, udferr.New(udferr.KindUnsupportedType, "", "parquet column '%s' has unsupported type %s", field.Name(), field.Type())
		}
		out = append(out, column{
			index: i,
			field: schema.Field{
				Name:     field.Name(),
				Type:     t,
				Nullable: field.Optional(),
			},
		})
	}
	return out, nil
}

func leafType(kind parquet.Kind) (schema.Type, bool) {
	switch kind {
	case parquet.Boolean:
		return schema.Boolean, true
	case parquet.Int32, parquet.Int64:
		return schema.Int, true
	case parquet.Float, parquet.Double:
		return schema.Float, true
	case parquet.ByteArray, parquet.FixedLenByteArray, parquet.Int96:
		return schema.String, true
	}
	return schema.Type{}, false
}

// ReadSchema returns the schema of a parquet file.
func ReadSchema(path string) (*schema.Schema, error) {
	f, pf, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	columns, err := fileColumns(pf)
	if err != nil {
		return nil, err
	}
	return schemaOf(columns)
}

func schemaOf(columns []column) (*schema.Schema, error) {
	fields := make([]schema.Field, len(columns))
	for i := range columns {
		fields[i] = columns[i].field
	}
	return schema.NewSchema(fields...)
}

func (d *Datasource) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	f, pf, err := openFile(d.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	columns, err := fileColumns(pf)
	if err != nil {
		return err
	}
	s := d.Schema
	if s == nil {
		if s, err = schemaOf(columns); err != nil {
			return err
		}
	}

	// sources[i] is the file column of the i-th schema field, -1 if the file doesn't have it.
	sources := make([]int, s.Len())
	for i, field := range s.Fields() {
		sources[i] = -1
		for _, c := range columns {
			if c.field.Name == field.Name {
				sources[i] = c.index
				break
			}
		}
	}

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = execution.IdealBatchSize
	}
	mem := memory.NewGoAllocator()
	produceCtx := execution.ProduceContext{Context: ctx}

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

	cells := make([]parquet.Value, len(columns))
	pr := parquet.NewReader(pf)
	var row parquet.Row
	for rowIndex := 0; ; rowIndex++ {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		row, err = pr.ReadRow(row[:0])
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("couldn't read row: %w", err)
		}
		for _, v := range row {
			if c := v.Column(); c >= 0 && c < len(cells) {
				cells[c] = v
			}
		}

		values := make([]schema.Value, s.Len())
		for i, field := range s.Fields() {
			raw := schema.NewNull()
			if sources[i] != -1 {
				raw = hostValue(field, cells[sources[i]])
			}
			value, err := marshal.Coerce(field, raw)
			if err != nil {
				return udferr.Annotate(err, "row %d", rowIndex)
			}
			values[i] = value
		}
		tuple, err := schema.NewTupleFromSlice(s, values)
		if err != nil {
			return udferr.Annotate(err, "row %d", rowIndex)
		}
		tuples = append(tuples, tuple)
		if len(tuples) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// hostValue converts a parquet cell. Byte arrays become strings unless the field is declared Binary.
func hostValue(field schema.Field, v parquet.Value) schema.Value {
	if v.IsNull() {
		return schema.NewNull()
	}
	switch v.Kind() {
	case parquet.Boolean:
		return schema.NewBoolean(v.Boolean())
	case parquet.Int32:
		return schema.NewInt(int64(v.Int32()))
	case parquet.Int64:
		return schema.NewInt(v.Int64())
	case parquet.Int96:
		return schema.NewString(v.Int96().String())
	case parquet.Float:
		return schema.NewFloat(float64(v.Float()))
	case parquet.Double:
		return schema.NewFloat(v.Double())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if field.Type.TypeID == schema.TypeIDBinary {
			data := make([]byte, len(v.ByteArray()))
			copy(data, v.ByteArray())
			return schema.NewBinary(data)
		}
		return schema.NewString(string(v.ByteArray()))
	}
	return schema.NewNull()
}
