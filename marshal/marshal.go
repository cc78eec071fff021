// Package marshal converts between host tuples, host batches and the columnar arrow records
// exchanged with foreign runtimes. Everything the foreign side hands back is validated here
// against the declared schema before it reaches downstream operators.
package marshal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

func allocator(mem memory.Allocator) memory.Allocator {
	if mem == nil {
		return memory.DefaultAllocator
	}
	return mem
}

// ValidateNames checks that the given field names are exactly the schema's field names, in any order.
func ValidateNames(s *schema.Schema, names []string) error {
	seen := make(map[string]bool, len(names))
	var unexpected, duplicate []string
	for _, name := range names {
		if seen[name] {
			duplicate = append(duplicate, name)
			continue
		}
		seen[name] = true
		if s.Index(name) == -1 {
			unexpected = append(unexpected, name)
		}
	}
	var missing []string
	for _, name := range s.Names() {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(unexpected) == 0 && len(missing) == 0 && len(duplicate) == 0 {
		return nil
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing fields %s", quoteAll(missing)))
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		problems = append(problems, fmt.Sprintf("unexpected fields %s", quoteAll(unexpected)))
	}
	if len(duplicate) > 0 {
		problems = append(problems, fmt.Sprintf("duplicate fields %s", quoteAll(duplicate)))
	}
	return udferr.New(udferr.KindSchemaViolation, "", "output has %d fields, schema %s has %d: %s", len(names), s, s.Len(), strings.Join(problems, ", "))
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i := range names {
		quoted[i] = "'" + names[i] + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// TupleFromFields validates foreign output given as parallel name and value slices, and
// returns a tuple in schema order.
func TupleFromFields(s *schema.Schema, names []string, values []schema.Value) (schema.Tuple, error) {
	if len(names) != len(values) {
		return schema.Tuple{}, udferr.New(udferr.KindMarshalFailure, "", "got %d names for %d values", len(names), len(values))
	}
	if err := ValidateNames(s, names); err != nil {
		return schema.Tuple{}, err
	}
	ordered := make([]schema.Value, s.Len())
	for i, name := range names {
		index := s.Index(name)
		value, err := Coerce(s.Field(index), values[i])
		if err != nil {
			return schema.Tuple{}, err
		}
		ordered[index] = value
	}
	return schema.NewTupleFromSlice(s, ordered)
}

// BatchFromTuples builds a batch out of tuples. Tuples typed by an equal schema are
// appended directly, others are matched to the schema by field name.
func BatchFromTuples(mem memory.Allocator, s *schema.Schema, tuples []schema.Tuple) (*schema.Batch, error) {
	rows := make([][]schema.Value, len(tuples))
	for i := range tuples {
		if tuples[i].Schema().Equal(s) {
			rows[i] = tuples[i].Values()
			continue
		}
		tuple, err := TupleFromFields(s, tuples[i].Schema().Names(), tuples[i].Values())
		if err != nil {
			return nil, udferr.Annotate(err, "tuple %d", i)
		}
		rows[i] = tuple.Values()
	}

	return build(mem, s, func(appenders []columnAppender) {
		for _, row := range rows {
			for col := range appenders {
				appenders[col](row[col])
			}
		}
	})
}

// BatchFromColumns validates and builds a batch from named columns of equal length.
// Columns may come in any order, the batch follows the schema's order.
func BatchFromColumns(mem memory.Allocator, s *schema.Schema, names []string, columns [][]schema.Value) (*schema.Batch, error) {
	if len(names) != len(columns) {
		return nil, udferr.New(udferr.KindMarshalFailure, "", "got %d names for %d columns", len(names), len(columns))
	}
	if err := ValidateNames(s, names); err != nil {
		return nil, err
	}
	rowCount := 0
	if len(columns) > 0 {
		rowCount = len(columns[0])
	}
	for i, name := range names {
		if len(columns[i]) != rowCount {
			return nil, udferr.New(udferr.KindSchemaViolation, "", "column '%s' has %d rows, column '%s' has %d", name, len(columns[i]), names[0], rowCount)
		}
	}

	ordered := make([][]schema.Value, s.Len())
	var g errgroup.Group
	for i := range names {
		column := columns[i]
		index := s.Index(names[i])
		field := s.Field(index)
		g.Go(func() error {
			coerced := make([]schema.Value, rowCount)
			for row := range column {
				value, err := Coerce(field, column[row])
				if err != nil {
					return udferr.Annotate(err, "row %d", row)
				}
				coerced[row] = value
			}
			ordered[index] = coerced
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return build(mem, s, func(appenders []columnAppender) {
		for col := range appenders {
			for row := 0; row < rowCount; row++ {
				appenders[col](ordered[col][row])
			}
		}
	})
}

func build(mem memory.Allocator, s *schema.Schema, fill func(appenders []columnAppender)) (batch *schema.Batch, err error) {
	builder := array.NewRecordBuilder(allocator(mem), schema.ToArrowSchema(s))
	defer builder.Release()
	defer func() {
		if msg := recover(); msg != nil {
			batch = nil
			err = udferr.New(udferr.KindMarshalFailure, "", "couldn't build batch: %v", msg)
		}
	}()

	appenders := make([]columnAppender, s.Len())
	for i := range appenders {
		appenders[i] = makeColumnAppender(s.Field(i).Type, builder.Field(i))
	}
	fill(appenders)

	return schema.NewBatch(s, builder.NewRecord()), nil
}

// BatchFromRecord validates a record produced by foreign code against the declared schema.
// A record which already has the declared layout is wrapped without copying, otherwise it's
// rebuilt with columns reordered and values coerced.
func BatchFromRecord(mem memory.Allocator, s *schema.Schema, record arrow.Record) (*schema.Batch, error) {
	names := make([]string, record.NumCols())
	for i, field := range record.Schema().Fields() {
		names[i] = field.Name
	}
	if err := ValidateNames(s, names); err != nil {
		return nil, err
	}
	if recordConforms(s, record) {
		record.Retain()
		return schema.NewBatch(s, record), nil
	}

	_, columns, err := RecordValues(record)
	if err != nil {
		return nil, err
	}
	return BatchFromColumns(mem, s, names, columns)
}

func recordConforms(s *schema.Schema, record arrow.Record) bool {
	for i := 0; i < s.Len(); i++ {
		field := s.Field(i)
		arrowField := record.Schema().Field(i)
		if arrowField.Name != field.Name {
			return false
		}
		if field.Type.TypeID == schema.TypeIDLargeBinary && !schema.IsLargeBinaryField(arrowField) {
			return false
		}
		// For large binaries only the exact handle struct is zero-copy, tagged strings go through coercion.
		if !arrow.TypeEqual(arrowField.Type, schema.ToArrowType(field.Type)) {
			return false
		}
		if !field.Nullable && record.Column(i).NullN() > 0 {
			return false
		}
	}
	return true
}

// RecordValues reads a record column by column.
func RecordValues(record arrow.Record) (names []string, columns [][]schema.Value, err error) {
	names = make([]string, record.NumCols())
	columns = make([][]schema.Value, record.NumCols())
	rowCount := int(record.NumRows())
	for i, field := range record.Schema().Fields() {
		read, err := makeColumnReader(field, record.Column(i))
		if err != nil {
			return nil, nil, err
		}
		column := make([]schema.Value, rowCount)
		for row := range column {
			column[row] = read(row)
		}
		names[i] = field.Name
		columns[i] = column
	}
	return names, columns, nil
}

// TuplesFromBatch splits a batch into tuples typed by the batch's schema.
func TuplesFromBatch(b *schema.Batch) ([]schema.Tuple, error) {
	record := b.Record()
	readers := make([]columnReader, record.NumCols())
	for i, field := range record.Schema().Fields() {
		read, err := makeColumnReader(field, record.Column(i))
		if err != nil {
			return nil, err
		}
		readers[i] = read
	}

	out := make([]schema.Tuple, b.NumRows())
	for row := range out {
		values := make([]schema.Value, len(readers))
		for col := range readers {
			values[col] = readers[col](row)
		}
		tuple, err := schema.NewTupleFromSlice(b.Schema(), values)
		if err != nil {
			return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "row %d", row)
		}
		out[row] = tuple
	}
	return out, nil
}
