package schema

import (
	"github.com/apache/arrow/go/v13/arrow"
)

// Batch is a schema-conformant columnar collection of tuples, backed by an arrow record.
// Batches are never resized in place, transformations produce a new Batch.
type Batch struct {
	schema *Schema
	record arrow.Record
}

// NewBatch wraps a record which has already been validated against schema by the marshalling layer.
func NewBatch(schema *Schema, record arrow.Record) *Batch {
	return &Batch{
		schema: schema,
		record: record,
	}
}

func (b *Batch) Schema() *Schema {
	return b.schema
}

func (b *Batch) Record() arrow.Record {
	return b.record
}

func (b *Batch) NumRows() int {
	return int(b.record.NumRows())
}

func (b *Batch) Column(i int) arrow.Array {
	return b.record.Column(i)
}

func (b *Batch) Retain() {
	b.record.Retain()
}

func (b *Batch) Release() {
	b.record.Release()
}
