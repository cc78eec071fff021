package runtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/apache/arrow/go/v13/arrow/memory"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/largebinary"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/metrics"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

type Options struct {
	// Store gives user code access to large binaries, it may be nil.
	Store     largebinary.Store
	Root      string
	Allocator memory.Allocator
}

// Bridge owns the runtime of one operator instance. It implements all executor interfaces,
// serializes every call into the runtime, validates everything coming back, and attributes
// failures to the call they originated from, e.g. process_tuple#17.
type Bridge struct {
	spec    OperatorSpec
	factory Factory
	opts    Options

	mu        sync.Mutex
	runtime   Runtime
	tracker   *largebinary.Tracker
	calls     map[string]int
	producers map[*tupleProducer]struct{}
	output    *schema.Schema
	closed    bool
}

var (
	_ execution.TupleSourceExecutor    = &Bridge{}
	_ execution.TupleTransformExecutor = &Bridge{}
	_ execution.TableSourceExecutor    = &Bridge{}
	_ execution.TableTransformExecutor = &Bridge{}
)

func NewBridge(spec OperatorSpec, factory Factory, opts Options) *Bridge {
	if opts.Allocator == nil {
		opts.Allocator = memory.NewGoAllocator()
	}
	return &Bridge{
		spec:      spec,
		factory:   factory,
		opts:      opts,
		calls:     make(map[string]int),
		producers: make(map[*tupleProducer]struct{}),
		output:    spec.OutputSchema,
	}
}

// Open creates and opens the runtime. Failing to load it is reported here, not on the first data call.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return udferr.New(udferr.KindRuntimeUnavailable, "open", "operator '%s' is already closed", b.spec.Name)
	}
	if b.runtime != nil {
		return nil
	}

	var store largebinary.Store
	if b.opts.Store != nil {
		b.tracker = largebinary.NewTracker(b.opts.Store)
		store = b.tracker
	}
	rt, err := b.factory(Config{
		Spec:  b.spec,
		Store: store,
		Root:  b.opts.Root,
	})
	if err != nil {
		return unavailable(b.spec.Language, err)
	}
	if err := rt.Open(ctx); err != nil {
		rt.Close()
		return unavailable(b.spec.Language, err)
	}
	b.runtime = rt
	log.Printf("opened %s operator '%s'", rt.Name(), b.spec.Name)
	return nil
}

func unavailable(language string, err error) error {
	if _, ok := udferr.As(err); ok {
		return udferr.WithOp(err, "open")
	}
	return udferr.Wrap(udferr.KindRuntimeUnavailable, "open", err, "couldn't load %s runtime", language)
}

// OutputSchema is the declared output schema, or the one inferred from the first output. Nil until then.
func (b *Bridge) OutputSchema() *schema.Schema {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// Calls returns how many times the given entry point has been called.
func (b *Bridge) Calls(fn string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[fn]
}

// call must be called with the mutex held.
func (b *Bridge) call(ctx context.Context, fn string, args ...interface{}) (interface{}, string, error) {
	b.calls[fn]++
	op := fmt.Sprintf("%s#%d", fn, b.calls[fn])
	if b.closed || b.runtime == nil {
		return nil, op, udferr.New(udferr.KindRuntimeUnavailable, op, "operator '%s' isn't open", b.spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, op, b.translate(ctx, op, err)
	}

	start := time.Now()
	out, err := b.runtime.Call(ctx, fn, args...)
	metrics.ObserveCall(b.spec.Language, fn, time.Since(start), err)
	if err != nil {
		return nil, op, b.translate(ctx, op, err)
	}
	return out, op, nil
}

func (b *Bridge) translate(ctx context.Context, op string, err error) error {
	if err == execution.ErrEndOfStream {
		return err
	}
	if ctx.Err() != nil {
		// Payloads written by an interrupted call must never become visible.
		if b.tracker != nil {
			if closeErr := b.tracker.CloseAll(); closeErr != nil {
				log.Printf("couldn't discard large binary streams of operator '%s': %s", b.spec.Name, closeErr)
			}
		}
		if _, ok := udferr.As(err); !ok {
			return udferr.Wrap(udferr.KindForeignExecutionError, op, err, "call cancelled")
		}
	}
	return udferr.WithOp(err, op)
}

func (b *Bridge) Produce(ctx context.Context) (execution.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, op, err := b.call(ctx, CallProduce)
	if err != nil {
		return nil, err
	}
	return b.newTupleProducer(op, nil, out)
}

func (b *Bridge) ProcessTuple(ctx context.Context, tuple schema.Tuple, port schema.Port) (execution.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, op, err := b.call(ctx, CallProcessTuple, tuple, port)
	if err != nil {
		return nil, err
	}
	return b.newTupleProducer(op, tuple.Schema(), out)
}

func (b *Bridge) newTupleProducer(op string, input *schema.Schema, out interface{}) (execution.Producer, error) {
	rows, ok := out.(RowIterator)
	if !ok {
		return nil, udferr.New(udferr.KindMarshalFailure, op, "runtime returned %T instead of a row iterator", out)
	}
	p := &tupleProducer{
		bridge: b,
		op:     op,
		input:  input,
		rows:   rows,
	}
	b.producers[p] = struct{}{}
	return execution.Guard(p), nil
}

// tupleFromRow must be called with the mutex held.
func (b *Bridge) tupleFromRow(input *schema.Schema, row Row) (schema.Tuple, error) {
	if b.output == nil {
		inferred, err := marshal.InferTupleSchema(input, row.Names, row.Values)
		if err != nil {
			return schema.Tuple{}, err
		}
		b.output = inferred
		log.Printf("operator '%s' output schema inferred as %s", b.spec.Name, inferred)
	}
	return marshal.TupleFromFields(b.output, row.Names, row.Values)
}

func (b *Bridge) ProduceTable(ctx context.Context) (*schema.Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, op, err := b.call(ctx, CallProduce)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, execution.ErrEndOfStream
	}
	return b.batchFromTable(op, out)
}

func (b *Bridge) ProcessTable(ctx context.Context, batch *schema.Batch, port schema.Port) (*schema.Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, op, err := b.call(ctx, CallProcessTable, batch, port)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, udferr.New(udferr.KindSchemaViolation, op, "table transform returned no table")
	}
	return b.batchFromTable(op, out)
}

// batchFromTable must be called with the mutex held.
func (b *Bridge) batchFromTable(op string, out interface{}) (*schema.Batch, error) {
	table, ok := out.(*Table)
	if !ok {
		return nil, udferr.New(udferr.KindMarshalFailure, op, "runtime returned %T instead of a table", out)
	}

	if table.Record != nil {
		defer table.Record.Release()
		if b.output == nil {
			s, err := schema.FromArrowSchema(table.Record.Schema())
			if err != nil {
				return nil, udferr.WithOp(err, op)
			}
			b.output = s
		}
		batch, err := marshal.BatchFromRecord(b.opts.Allocator, b.output, table.Record)
		if err != nil {
			return nil, udferr.WithOp(err, op)
		}
		return batch, nil
	}

	if b.output == nil {
		s, err := marshal.InferSchema(table.Names, table.Columns)
		if err != nil {
			return nil, udferr.WithOp(err, op)
		}
		b.output = s
		log.Printf("operator '%s' output schema inferred as %s", b.spec.Name, s)
	}
	batch, err := marshal.BatchFromColumns(b.opts.Allocator, b.output, table.Names, table.Columns)
	if err != nil {
		return nil, udferr.WithOp(err, op)
	}
	return batch, nil
}

// Close abandons producers still suspended, discards large binary streams left open and closes the runtime.
// Closing twice is a no-op.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for p := range b.producers {
		p.finish()
	}
	var firstErr error
	if b.tracker != nil {
		if err := b.tracker.CloseAll(); err != nil {
			firstErr = err
		}
	}
	if b.runtime != nil {
		if err := b.runtime.Close(); err != nil && firstErr == nil {
			firstErr = udferr.WithOp(err, "close")
		}
		log.Printf("closed %s operator '%s'", b.runtime.Name(), b.spec.Name)
	}
	return firstErr
}

// tupleProducer pulls rows out of a foreign generator, one call into the runtime per row.
type tupleProducer struct {
	bridge *Bridge
	op     string
	input  *schema.Schema
	rows   RowIterator
	done   bool
}

func (p *tupleProducer) Next(ctx context.Context) (schema.Tuple, error) {
	b := p.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.done {
		return schema.Tuple{}, execution.ErrEndOfStream
	}
	if b.closed {
		p.finish()
		return schema.Tuple{}, udferr.New(udferr.KindForeignExecutionError, p.op, "operator '%s' was closed", b.spec.Name)
	}

	row, err := p.rows.Next(ctx)
	if err == execution.ErrEndOfStream {
		p.finish()
		return schema.Tuple{}, execution.ErrEndOfStream
	} else if err != nil {
		p.finish()
		return schema.Tuple{}, b.translate(ctx, p.op, err)
	}
	tuple, err := b.tupleFromRow(p.input, row)
	if err != nil {
		p.finish()
		return schema.Tuple{}, udferr.WithOp(err, p.op)
	}
	return tuple, nil
}

func (p *tupleProducer) Close() error {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	p.finish()
	return nil
}

// finish must be called with the bridge's mutex held.
func (p *tupleProducer) finish() {
	if p.done {
		return
	}
	p.done = true
	if err := p.rows.Close(); err != nil {
		log.Printf("couldn't close producer of %s: %s", p.op, err)
	}
	delete(p.bridge.producers, p)
}
