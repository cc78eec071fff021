package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

var inputSchema = schema.MustNewSchema(
	schema.Field{Name: "col1", Type: schema.String},
	schema.Field{Name: "col2", Type: schema.Float},
)

var outputSchema = schema.MustNewSchema(
	schema.Field{Name: "col1", Type: schema.String},
	schema.Field{Name: "col2", Type: schema.Float},
	schema.Field{Name: "col3", Type: schema.Float},
)

func inputTuple(t *testing.T, col1 string, col2 float64) schema.Tuple {
	tuple, err := schema.NewTupleFromSlice(inputSchema, []schema.Value{schema.NewString(col1), schema.NewFloat(col2)})
	require.NoError(t, err)
	return tuple
}

func doubled(t *testing.T, in schema.Tuple) schema.Tuple {
	col2 := in.Value(1).Float
	tuple, err := schema.NewTupleFromSlice(outputSchema, []schema.Value{in.Value(0), schema.NewFloat(col2), schema.NewFloat(col2 * 2)})
	require.NoError(t, err)
	return tuple
}

type collected struct {
	batches int
	tuples  []schema.Tuple
}

func (c *collected) produce(t *testing.T) execution.ProduceFunc {
	return func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
		c.batches++
		tuples, err := marshal.TuplesFromBatch(batch)
		require.NoError(t, err)
		c.tuples = append(c.tuples, tuples...)
		return nil
	}
}

func testContext() execution.Context {
	return execution.Context{Context: context.Background()}
}

func inputNode(t *testing.T, batches ...[]schema.Tuple) *execution.NodeWithMeta {
	scan := &Scan{}
	for _, tuples := range batches {
		batch, err := marshal.BatchFromTuples(nil, inputSchema, tuples)
		require.NoError(t, err)
		scan.Batches = append(scan.Batches, batch)
	}
	return &execution.NodeWithMeta{Node: scan, Schema: inputSchema}
}

type sourceExecutor struct {
	tuples []schema.Tuple
	pulls  int
}

func (e *sourceExecutor) Produce(ctx context.Context) (execution.Producer, error) {
	return execution.Guard(&execution.FuncProducer{
		NextFn: func(ctx context.Context) (schema.Tuple, error) {
			e.pulls++
			if e.pulls > len(e.tuples) {
				return schema.Tuple{}, execution.ErrEndOfStream
			}
			return e.tuples[e.pulls-1], nil
		},
	}), nil
}

func TestTupleSourcePullsUntilExhausted(t *testing.T) {
	executor := &sourceExecutor{tuples: []schema.Tuple{
		inputTuple(t, "a", 1),
		inputTuple(t, "b", 2),
		inputTuple(t, "c", 3),
	}}
	node := &TupleSource{Executor: executor, Schema: inputSchema, BatchSize: 2}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))

	assert.Equal(t, 4, executor.pulls)
	assert.Equal(t, 2, out.batches)
	require.Len(t, out.tuples, 3)
	for i := range executor.tuples {
		assert.True(t, executor.tuples[i].Equal(out.tuples[i]))
	}
}

func TestTupleSourceEmpty(t *testing.T) {
	executor := &sourceExecutor{}
	node := &TupleSource{Executor: executor, Schema: inputSchema}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))
	assert.Equal(t, 1, executor.pulls)
	assert.Equal(t, 0, out.batches)
}

type transformExecutor struct {
	calls int
	ports []schema.Port
	fn    func(tuple schema.Tuple) []schema.Tuple
}

func (e *transformExecutor) ProcessTuple(ctx context.Context, tuple schema.Tuple, port schema.Port) (execution.Producer, error) {
	e.calls++
	e.ports = append(e.ports, port)
	return execution.SliceProducer(e.fn(tuple)...), nil
}

func TestTupleTransformOnePerInput(t *testing.T) {
	executor := &transformExecutor{fn: func(tuple schema.Tuple) []schema.Tuple {
		return []schema.Tuple{doubled(t, tuple)}
	}}
	node := &TupleTransform{
		Executor: executor,
		Sources: []*execution.NodeWithMeta{
			inputNode(t, []schema.Tuple{inputTuple(t, "a", 1), inputTuple(t, "b", 2)}, []schema.Tuple{inputTuple(t, "c", 3)}),
		},
		Schema: outputSchema,
	}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))

	assert.Equal(t, 3, executor.calls)
	require.Len(t, out.tuples, 3)
	assert.Equal(t, "{col1: 'a', col2: 1, col3: 2}", out.tuples[0].String())
	assert.Equal(t, "{col1: 'b', col2: 2, col3: 4}", out.tuples[1].String())
	assert.Equal(t, "{col1: 'c', col2: 3, col3: 6}", out.tuples[2].String())
}

func TestTupleTransformFanOutAndFilter(t *testing.T) {
	executor := &transformExecutor{fn: func(tuple schema.Tuple) []schema.Tuple {
		if tuple.Value(0).Str == "skip" {
			return nil
		}
		return []schema.Tuple{tuple, tuple}
	}}
	node := &TupleTransform{
		Executor: executor,
		Sources: []*execution.NodeWithMeta{
			inputNode(t, []schema.Tuple{inputTuple(t, "a", 1), inputTuple(t, "skip", 2)}),
			inputNode(t, []schema.Tuple{inputTuple(t, "b", 3)}),
		},
	}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))

	assert.Equal(t, []schema.Port{0, 0, 1}, executor.ports)
	require.Len(t, out.tuples, 4)
	assert.Equal(t, "a", out.tuples[1].Value(0).Str)
	assert.Equal(t, "b", out.tuples[2].Value(0).Str)
}

func TestTupleTransformSchemaViolation(t *testing.T) {
	executor := &transformExecutor{fn: func(tuple schema.Tuple) []schema.Tuple {
		return []schema.Tuple{tuple}
	}}
	node := &TupleTransform{
		Executor: executor,
		Sources:  []*execution.NodeWithMeta{inputNode(t, []schema.Tuple{inputTuple(t, "a", 1)})},
		Schema:   outputSchema,
	}

	var out collected
	err := node.Run(testContext(), out.produce(t))
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
	assert.Empty(t, out.tuples)
}

func TestTupleTransformCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := &transformExecutor{fn: func(tuple schema.Tuple) []schema.Tuple {
		cancel()
		return []schema.Tuple{doubled(t, tuple)}
	}}
	node := &TupleTransform{
		Executor: executor,
		Sources:  []*execution.NodeWithMeta{inputNode(t, []schema.Tuple{inputTuple(t, "a", 1), inputTuple(t, "b", 2)})},
		Schema:   outputSchema,
	}

	var out collected
	err := node.Run(execution.Context{Context: ctx}, out.produce(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, executor.calls)
}

type tableExecutor struct {
	calls int
	fail  bool
}

func (e *tableExecutor) ProcessTable(ctx context.Context, batch *schema.Batch, port schema.Port) (*schema.Batch, error) {
	e.calls++
	if e.fail {
		return nil, udferr.Foreign("process_table#1", "Error", errors.New("row 2 is broken"))
	}
	tuples, err := marshal.TuplesFromBatch(batch)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Tuple, len(tuples))
	for i := range tuples {
		col2 := tuples[i].Value(1).Float
		out[i], err = schema.NewTupleFromSlice(outputSchema, []schema.Value{tuples[i].Value(0), schema.NewFloat(col2), schema.NewFloat(col2 * 2)})
		if err != nil {
			return nil, err
		}
	}
	return marshal.BatchFromTuples(nil, outputSchema, out)
}

func TestTableTransform(t *testing.T) {
	executor := &tableExecutor{}
	node := &TableTransform{
		Executor: executor,
		Sources: []*execution.NodeWithMeta{
			inputNode(t, []schema.Tuple{inputTuple(t, "a", 1), inputTuple(t, "b", 2)}, []schema.Tuple{inputTuple(t, "c", 3)}),
		},
		Schema: outputSchema,
	}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))
	assert.Equal(t, 2, executor.calls)
	assert.Equal(t, 2, out.batches)
	require.Len(t, out.tuples, 3)
	assert.Equal(t, 6.0, out.tuples[2].Value(2).Float)
}

func TestTableTransformFailsWholeBatch(t *testing.T) {
	executor := &tableExecutor{fail: true}
	node := &TableTransform{
		Executor: executor,
		Sources:  []*execution.NodeWithMeta{inputNode(t, []schema.Tuple{inputTuple(t, "a", 1), inputTuple(t, "b", 2)})},
		Schema:   outputSchema,
	}

	var out collected
	err := node.Run(testContext(), out.produce(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, udferr.ErrForeignExecution))
	assert.Contains(t, err.Error(), "process_table#1")
	assert.Equal(t, 0, out.batches)
}

type tableSourceExecutor struct {
	batches []*schema.Batch
	calls   int
}

func (e *tableSourceExecutor) ProduceTable(ctx context.Context) (*schema.Batch, error) {
	e.calls++
	if e.calls > len(e.batches) {
		return nil, execution.ErrEndOfStream
	}
	return e.batches[e.calls-1], nil
}

func TestTableSource(t *testing.T) {
	batch, err := marshal.BatchFromTuples(nil, inputSchema, []schema.Tuple{inputTuple(t, "a", 1)})
	require.NoError(t, err)
	// Every produced batch is released by the node.
	batch.Retain()
	batch.Retain()
	executor := &tableSourceExecutor{batches: []*schema.Batch{batch, batch}}

	var out collected
	node := &TableSource{Executor: executor, Schema: inputSchema}
	require.NoError(t, node.Run(testContext(), out.produce(t)))

	assert.Equal(t, 3, executor.calls)
	assert.Len(t, out.tuples, 2)

	mismatched := &TableSource{Executor: &tableSourceExecutor{batches: []*schema.Batch{batch}}, Schema: outputSchema}
	err = mismatched.Run(testContext(), out.produce(t))
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
}

func TestRebatch(t *testing.T) {
	var small [][]schema.Tuple
	for i := 0; i < 5; i++ {
		small = append(small, []schema.Tuple{inputTuple(t, string(rune('a'+i)), float64(i))})
	}
	node := &Rebatch{Source: inputNode(t, small...), BatchSize: 2}

	var out collected
	require.NoError(t, node.Run(testContext(), out.produce(t)))

	assert.Equal(t, 3, out.batches)
	require.Len(t, out.tuples, 5)
	for i := range out.tuples {
		assert.Equal(t, float64(i), out.tuples[i].Value(1).Float)
	}
}
