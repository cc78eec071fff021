package nodes

import (
	"context"
	"fmt"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
)

// TupleSource drains a single producer obtained from the executor.
type TupleSource struct {
	Executor execution.TupleSourceExecutor
	// Schema is the declared output schema, nil if it's inferred from the first tuple.
	Schema    *schema.Schema
	BatchSize int
}

func (s *TupleSource) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	producer, err := s.Executor.Produce(ctx.Context)
	if err != nil {
		return fmt.Errorf("couldn't start tuple source: %w", err)
	}
	defer producer.Close()

	b := newBatcher(s.Schema, s.BatchSize, produce)
	produceCtx := execution.ProduceContext{Context: ctx}
	if err := drainInto(ctx.Context, producer, b, produceCtx); err != nil {
		return err
	}
	return b.flush(produceCtx)
}

// TupleTransform calls the executor exactly once per input tuple and drains each resulting
// producer before moving on, so output keeps the input order.
// Sources are processed one after another, the i-th source feeding port i.
type TupleTransform struct {
	Executor  execution.TupleTransformExecutor
	Sources   []*execution.NodeWithMeta
	Schema    *schema.Schema
	BatchSize int
}

func (t *TupleTransform) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	b := newBatcher(t.Schema, t.BatchSize, produce)

	for port, source := range t.Sources {
		if err := source.Node.Run(ctx, func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
			tuples, err := marshal.TuplesFromBatch(batch)
			if err != nil {
				return fmt.Errorf("couldn't split input batch into tuples: %w", err)
			}
			for i := range tuples {
				if err := ctx.Context.Err(); err != nil {
					return err
				}
				producer, err := t.Executor.ProcessTuple(ctx.Context, tuples[i], schema.Port(port))
				if err != nil {
					return fmt.Errorf("couldn't process tuple: %w", err)
				}
				if err := drainInto(ctx.Context, producer, b, produceCtx); err != nil {
					producer.Close()
					return err
				}
				if err := producer.Close(); err != nil {
					return fmt.Errorf("couldn't close tuple producer: %w", err)
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("couldn't run source for port %d: %w", port, err)
		}
	}

	return b.flush(execution.ProduceContext{Context: ctx})
}

func drainInto(ctx context.Context, producer execution.Producer, b *batcher, produceCtx execution.ProduceContext) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tuple, err := producer.Next(ctx)
		if err == execution.ErrEndOfStream {
			return nil
		} else if err != nil {
			return fmt.Errorf("couldn't get next tuple: %w", err)
		}
		if err := b.add(produceCtx, tuple); err != nil {
			return err
		}
	}
}
