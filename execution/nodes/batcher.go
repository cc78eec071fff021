package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow/memory"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// batcher accumulates tuples in order and produces them as batches of up to size tuples.
// Without a declared schema it adopts the schema of the first tuple, every later tuple has to match it.
type batcher struct {
	schema  *schema.Schema
	size    int
	mem     memory.Allocator
	produce execution.ProduceFunc

	tuples []schema.Tuple
}

func newBatcher(s *schema.Schema, size int, produce execution.ProduceFunc) *batcher {
	if size <= 0 {
		size = execution.IdealBatchSize
	}
	return &batcher{
		schema:  s,
		size:    size,
		mem:     memory.NewGoAllocator(),
		produce: produce,
	}
}

func (b *batcher) add(produceCtx execution.ProduceContext, tuple schema.Tuple) error {
	if b.schema == nil {
		b.schema = tuple.Schema()
	} else if !tuple.Schema().Equal(b.schema) {
		return udferr.New(udferr.KindSchemaViolation, "", "tuple %s doesn't match output schema %s", tuple, b.schema)
	}
	b.tuples = append(b.tuples, tuple)
	if len(b.tuples) >= b.size {
		return b.flush(produceCtx)
	}
	return nil
}

func (b *batcher) flush(produceCtx execution.ProduceContext) error {
	if len(b.tuples) == 0 {
		return nil
	}
	batch, err := marshal.BatchFromTuples(b.mem, b.schema, b.tuples)
	if err != nil {
		return fmt.Errorf("couldn't build output batch: %w", err)
	}
	defer batch.Release()
	b.tuples = nil

	if err := produce(b.produce, produceCtx, batch); err != nil {
		return err
	}
	return nil
}

func produce(produceFn execution.ProduceFunc, produceCtx execution.ProduceContext, batch *schema.Batch) error {
	if err := produceFn(produceCtx, batch); err != nil {
		return fmt.Errorf("couldn't produce batch: %w", err)
	}
	return nil
}
