package execution

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cube2222/udfbridge/schema"
)

// ErrEndOfStream is returned by Next once a producer is exhausted, and on every call after that.
var ErrEndOfStream = errors.New("end of stream")

// ErrConcurrentPull is returned when a producer is pulled from while another pull is still in progress.
var ErrConcurrentPull = errors.New("producer is already being pulled from")

// Producer is a lazy, pull-based sequence of tuples. Nothing is computed until Next is called.
// It must be driven by a single caller at a time.
type Producer interface {
	Next(ctx context.Context) (schema.Tuple, error)
	// Close abandons the producer, it's safe to call at any point and more than once.
	Close() error
}

type sliceProducer struct {
	tuples []schema.Tuple
	i      int
}

// SliceProducer produces the given tuples in order.
func SliceProducer(tuples ...schema.Tuple) Producer {
	return &sliceProducer{tuples: tuples}
}

func (p *sliceProducer) Next(ctx context.Context) (schema.Tuple, error) {
	if p.i >= len(p.tuples) {
		return schema.Tuple{}, ErrEndOfStream
	}
	p.i++
	return p.tuples[p.i-1], nil
}

func (p *sliceProducer) Close() error {
	p.i = len(p.tuples)
	return nil
}

// EmptyProducer is exhausted from the start.
func EmptyProducer() Producer {
	return &sliceProducer{}
}

// FuncProducer adapts a next function into a Producer. CloseFn may be nil.
type FuncProducer struct {
	NextFn  func(ctx context.Context) (schema.Tuple, error)
	CloseFn func() error
}

func (p *FuncProducer) Next(ctx context.Context) (schema.Tuple, error) {
	return p.NextFn(ctx)
}

func (p *FuncProducer) Close() error {
	if p.CloseFn == nil {
		return nil
	}
	return p.CloseFn()
}

type guardedProducer struct {
	inner     Producer
	pulling   atomic.Bool
	exhausted atomic.Bool
	closed    atomic.Bool
	// err is the inner producer's failure, returned again on every later pull.
	// Only touched by the single pull let through.
	err error
}

// Guard makes a producer detect being driven concurrently, returning ErrConcurrentPull instead of
// entering it. It also stops pulling from the inner producer once it's exhausted, failed or closed.
func Guard(inner Producer) Producer {
	return &guardedProducer{inner: inner}
}

func (p *guardedProducer) Next(ctx context.Context) (schema.Tuple, error) {
	if !p.pulling.CompareAndSwap(false, true) {
		return schema.Tuple{}, ErrConcurrentPull
	}
	defer p.pulling.Store(false)

	if p.err != nil {
		return schema.Tuple{}, p.err
	}
	if p.exhausted.Load() || p.closed.Load() {
		return schema.Tuple{}, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return schema.Tuple{}, err
	}
	tuple, err := p.inner.Next(ctx)
	if err == ErrEndOfStream {
		p.exhausted.Store(true)
		return schema.Tuple{}, err
	} else if err != nil {
		p.err = err
		return schema.Tuple{}, err
	}
	return tuple, nil
}

func (p *guardedProducer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.inner.Close()
}

// Drain pulls all remaining tuples and closes the producer.
func Drain(ctx context.Context, p Producer) ([]schema.Tuple, error) {
	defer p.Close()
	var out []schema.Tuple
	for {
		tuple, err := p.Next(ctx)
		if err == ErrEndOfStream {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, tuple)
	}
}
