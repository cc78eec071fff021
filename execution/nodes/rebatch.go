package nodes

import (
	"fmt"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
)

// Rebatch regroups its source's output into batches of BatchSize tuples, keeping the order.
// It sits in front of table transforms fed by tuple operators, which may emit small batches.
type Rebatch struct {
	Source    *execution.NodeWithMeta
	BatchSize int
}

func (r *Rebatch) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	b := newBatcher(r.Source.Schema, r.BatchSize, produce)
	if err := r.Source.Node.Run(ctx, func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
		tuples, err := marshal.TuplesFromBatch(batch)
		if err != nil {
			return fmt.Errorf("couldn't split batch into tuples: %w", err)
		}
		for i := range tuples {
			if err := b.add(produceCtx, tuples[i]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("couldn't run source node: %w", err)
	}
	return b.flush(execution.ProduceContext{Context: ctx})
}

// Scan produces a fixed list of batches.
type Scan struct {
	Batches []*schema.Batch
}

func (s *Scan) Run(ctx execution.Context, produceFn execution.ProduceFunc) error {
	for i := range s.Batches {
		if err := produce(produceFn, execution.ProduceContext{Context: ctx}, s.Batches[i]); err != nil {
			return err
		}
	}
	return nil
}
