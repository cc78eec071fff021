package nodes

import (
	"fmt"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// TableSource calls the executor until it reports the end of the stream.
type TableSource struct {
	Executor execution.TableSourceExecutor
	Schema   *schema.Schema
}

func (s *TableSource) Run(ctx execution.Context, produceFn execution.ProduceFunc) error {
	produceCtx := execution.ProduceContext{Context: ctx}
	for {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		batch, err := s.Executor.ProduceTable(ctx.Context)
		if err == execution.ErrEndOfStream {
			return nil
		} else if err != nil {
			return fmt.Errorf("couldn't produce table: %w", err)
		}
		if err := checkBatchSchema(s.Schema, batch); err != nil {
			batch.Release()
			return err
		}
		err = produce(produceFn, produceCtx, batch)
		batch.Release()
		if err != nil {
			return err
		}
	}
}

// TableTransform calls the executor once per input batch.
// A failure anywhere in the batch fails the whole batch, no partial output is produced for it.
type TableTransform struct {
	Executor execution.TableTransformExecutor
	Sources  []*execution.NodeWithMeta
	Schema   *schema.Schema
}

func (t *TableTransform) Run(ctx execution.Context, produceFn execution.ProduceFunc) error {
	for port, source := range t.Sources {
		if err := source.Node.Run(ctx, func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
			if err := ctx.Context.Err(); err != nil {
				return err
			}
			out, err := t.Executor.ProcessTable(ctx.Context, batch, schema.Port(port))
			if err != nil {
				return fmt.Errorf("couldn't process table of %d rows: %w", batch.NumRows(), err)
			}
			defer out.Release()
			if err := checkBatchSchema(t.Schema, out); err != nil {
				return err
			}
			return produce(produceFn, produceCtx, out)
		}); err != nil {
			return fmt.Errorf("couldn't run source for port %d: %w", port, err)
		}
	}
	return nil
}

func checkBatchSchema(declared *schema.Schema, batch *schema.Batch) error {
	if declared == nil || declared.Equal(batch.Schema()) {
		return nil
	}
	return udferr.New(udferr.KindSchemaViolation, "", "batch schema %s doesn't match output schema %s", batch.Schema(), declared)
}
