// Package execution defines how loaded user code is driven: the executor contract foreign
// adapters implement, the pull-based producer protocol, and the node shape pipelines are built from.
package execution

import (
	"context"

	"github.com/cube2222/udfbridge/schema"
)

// All nodes will try to create batches of approximately this size. Different sizes are allowed.
const IdealBatchSize = 16 * 1024

type Context struct {
	Context context.Context
}

type ProduceContext struct {
	Context
}

type Node interface {
	Run(ctx Context, produce ProduceFunc) error
}

type NodeWithMeta struct {
	Node Node
	// Schema may be nil for nodes whose output schema is only known once they produce.
	Schema *schema.Schema
}

// ProduceFunc receives batches in order. The batch is only valid until the function returns,
// consumers keeping it around have to Retain it.
type ProduceFunc func(produceCtx ProduceContext, batch *schema.Batch) error

// TupleSourceExecutor is user code generating tuples without input.
type TupleSourceExecutor interface {
	Produce(ctx context.Context) (Producer, error)
}

// TupleTransformExecutor is user code turning a single tuple into zero or more tuples.
type TupleTransformExecutor interface {
	ProcessTuple(ctx context.Context, tuple schema.Tuple, port schema.Port) (Producer, error)
}

// TableSourceExecutor is user code generating whole tables without input.
// ProduceTable is called until it returns ErrEndOfStream.
type TableSourceExecutor interface {
	ProduceTable(ctx context.Context) (*schema.Batch, error)
}

// TableTransformExecutor is user code turning a batch into a batch, usually of a different schema.
type TableTransformExecutor interface {
	ProcessTable(ctx context.Context, batch *schema.Batch, port schema.Port) (*schema.Batch, error)
}
