package marshal

import (
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"

	"github.com/cube2222/udfbridge/schema"
)

// Column is a typed view over one column of a batch, used to hand whole columns to foreign code.
// Exactly one of the vectors is set, depending on the field's type.
// Ints, Floats and Binaries alias the batch's buffers and are only valid while the batch is retained.
type Column struct {
	Field schema.Field
	Len   int
	// Valid is nil when the column has no nulls.
	Valid []bool

	Ints     []int64
	Floats   []float64
	Bools    []bool
	Strings  []string
	Times    []time.Time
	Binaries [][]byte
	Handles  []schema.Handle
	// Values holds nested and null typed columns.
	Values []schema.Value
}

func (c *Column) IsNull(i int) bool {
	return c.Valid != nil && !c.Valid[i]
}

// Value boxes a single cell.
func (c *Column) Value(i int) schema.Value {
	if c.IsNull(i) {
		return schema.NewNull()
	}
	switch {
	case c.Ints != nil:
		return schema.NewInt(c.Ints[i])
	case c.Floats != nil:
		return schema.NewFloat(c.Floats[i])
	case c.Bools != nil:
		return schema.NewBoolean(c.Bools[i])
	case c.Strings != nil:
		return schema.NewString(c.Strings[i])
	case c.Times != nil:
		return schema.NewTime(c.Times[i])
	case c.Binaries != nil:
		return schema.NewBinary(c.Binaries[i])
	case c.Handles != nil:
		return schema.NewLargeBinary(c.Handles[i])
	case c.Values != nil:
		return c.Values[i]
	}
	return schema.NewNull()
}

// Columns exposes the batch column-wise. Int64 and float64 columns are passed through without copying.
func Columns(b *schema.Batch) ([]Column, error) {
	record := b.Record()
	out := make([]Column, record.NumCols())
	for i, arrowField := range record.Schema().Fields() {
		column, err := makeColumn(b.Schema().Field(i), arrowField, record.Column(i))
		if err != nil {
			return nil, err
		}
		out[i] = column
	}
	return out, nil
}

func makeColumn(field schema.Field, arrowField arrow.Field, arr arrow.Array) (Column, error) {
	n := arr.Len()
	column := Column{
		Field: field,
		Len:   n,
	}
	if arr.NullN() > 0 {
		column.Valid = make([]bool, n)
		for i := 0; i < n; i++ {
			column.Valid[i] = arr.IsValid(i)
		}
	}

	switch arr := arr.(type) {
	case *array.Int64:
		column.Ints = arr.Int64Values()
		return column, nil
	case *array.Float64:
		column.Floats = arr.Float64Values()
		return column, nil
	case *array.Boolean:
		column.Bools = make([]bool, n)
		for i := 0; i < n; i++ {
			column.Bools[i] = arr.Value(i)
		}
		return column, nil
	case *array.String:
		if !schema.IsLargeBinaryField(arrowField) {
			column.Strings = make([]string, n)
			for i := 0; i < n; i++ {
				column.Strings[i] = arr.Value(i)
			}
			return column, nil
		}
	case *array.Binary:
		column.Binaries = make([][]byte, n)
		for i := 0; i < n; i++ {
			column.Binaries[i] = arr.Value(i)
		}
		return column, nil
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		column.Times = make([]time.Time, n)
		for i := 0; i < n; i++ {
			column.Times[i] = timestampToTime(arr.Value(i), unit)
		}
		return column, nil
	}

	read, err := makeColumnReader(arrowField, arr)
	if err != nil {
		return Column{}, err
	}
	if field.Type.TypeID == schema.TypeIDLargeBinary {
		column.Handles = make([]schema.Handle, n)
		for i := 0; i < n; i++ {
			column.Handles[i] = read(i).Handle
		}
		return column, nil
	}
	column.Values = make([]schema.Value, n)
	for i := 0; i < n; i++ {
		column.Values[i] = read(i)
	}
	return column, nil
}
