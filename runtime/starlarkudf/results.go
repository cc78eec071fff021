package starlarkudf

import (
	"context"

	"go.starlark.net/starlark"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/runtime"
	"github.com/cube2222/udfbridge/udferr"
)

// exhaustedValue is returned by generator functions once they have nothing more to emit.
type exhaustedValue struct{}

var exhausted = exhaustedValue{}

func (exhaustedValue) String() string        { return "EXHAUSTED" }
func (exhaustedValue) Type() string          { return "exhausted" }
func (exhaustedValue) Freeze()               {}
func (exhaustedValue) Truth() starlark.Bool  { return false }
func (exhaustedValue) Hash() (uint32, error) { return 0x45584855, nil }

// results walks whatever an entry point returned: a single value, None, an iterable, or a generator function.
type results struct {
	r    *Runtime
	fn   string
	done bool

	single    starlark.Value
	iter      starlark.Iterator
	generator starlark.Callable
}

func (r *Runtime) results(fn string, value starlark.Value) (*results, error) {
	out := &results{r: r, fn: fn}
	switch value := value.(type) {
	case starlark.NoneType:
		out.done = true
	case *starlark.Dict:
		out.single = value
	case starlark.Callable:
		out.generator = value
	case starlark.Iterable:
		out.iter = value.Iterate()
	default:
		return nil, udferr.New(udferr.KindSchemaViolation, "", "%s returned %s, expected a dict, None, a list or a generator", fn, value.Type())
	}
	return out, nil
}

// next returns the next emitted value, or false once there are none left.
func (s *results) next(ctx context.Context) (starlark.Value, bool, error) {
	if s.done {
		return nil, false, nil
	}
	switch {
	case s.single != nil:
		value := s.single
		s.single = nil
		s.done = true
		return value, true, nil

	case s.iter != nil:
		var value starlark.Value
		if s.iter.Next(&value) {
			return value, true, nil
		}
		s.close()
		return nil, false, nil

	case s.generator != nil:
		value, err := s.r.call(ctx, s.generator)
		if err != nil {
			s.close()
			return nil, false, err
		}
		if value == exhausted || value == starlark.None {
			s.close()
			return nil, false, nil
		}
		return value, true, nil
	}
	s.done = true
	return nil, false, nil
}

func (s *results) close() {
	if s.done {
		return
	}
	s.done = true
	if s.iter != nil {
		s.iter.Done()
	}
}

func (r *Runtime) rows(fn string, value starlark.Value) (runtime.RowIterator, error) {
	results, err := r.results(fn, value)
	if err != nil {
		return nil, err
	}
	return &rowIterator{results: results}, nil
}

type rowIterator struct {
	results *results
}

func (it *rowIterator) Next(ctx context.Context) (runtime.Row, error) {
	value, ok, err := it.results.next(ctx)
	if err != nil {
		return runtime.Row{}, err
	} else if !ok {
		return runtime.Row{}, execution.ErrEndOfStream
	}
	names, values, err := rowFromDict(value)
	if err != nil {
		it.results.close()
		return runtime.Row{}, err
	}
	return runtime.Row{Names: names, Values: values}, nil
}

func (it *rowIterator) Close() error {
	it.results.close()
	return nil
}
