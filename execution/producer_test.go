package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/schema"
)

var testSchema = schema.MustNewSchema(schema.Field{Name: "n", Type: schema.Int})

func tupleOf(t *testing.T, n int64) schema.Tuple {
	tuple, err := schema.NewTupleFromSlice(testSchema, []schema.Value{schema.NewInt(n)})
	require.NoError(t, err)
	return tuple
}

func TestSliceProducer(t *testing.T) {
	ctx := context.Background()
	p := SliceProducer(tupleOf(t, 1), tupleOf(t, 2))

	tuples, err := Drain(ctx, p)
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, int64(2), tuples[1].Value(0).Int)

	_, err = p.Next(ctx)
	assert.Equal(t, ErrEndOfStream, err)
	_, err = p.Next(ctx)
	assert.Equal(t, ErrEndOfStream, err, "stays exhausted")
}

func TestEmptyProducer(t *testing.T) {
	_, err := EmptyProducer().Next(context.Background())
	assert.Equal(t, ErrEndOfStream, err)
}

func TestGuardStopsPullingAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	pulls := 0
	p := Guard(&FuncProducer{
		NextFn: func(ctx context.Context) (schema.Tuple, error) {
			pulls++
			if pulls > 2 {
				return schema.Tuple{}, ErrEndOfStream
			}
			return tupleOf(t, int64(pulls)), nil
		},
	})

	tuples, err := Drain(ctx, p)
	require.NoError(t, err)
	assert.Len(t, tuples, 2)
	assert.Equal(t, 3, pulls)

	_, err = p.Next(ctx)
	assert.Equal(t, ErrEndOfStream, err)
	assert.Equal(t, 3, pulls)
}

func TestGuardKeepsReturningFailure(t *testing.T) {
	ctx := context.Background()
	failure := errors.New("division by zero")
	pulls := 0
	p := Guard(&FuncProducer{
		NextFn: func(ctx context.Context) (schema.Tuple, error) {
			pulls++
			if pulls == 2 {
				return schema.Tuple{}, failure
			}
			return tupleOf(t, int64(pulls)), nil
		},
	})

	_, err := p.Next(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = p.Next(ctx)
		assert.Equal(t, failure, err)
	}
	assert.Equal(t, 2, pulls, "the failed producer isn't pulled again")

	require.NoError(t, p.Close())
	_, err = p.Next(ctx)
	assert.Equal(t, failure, err, "closing doesn't turn the failure into end of stream")
}

func TestGuardRejectsConcurrentPull(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	p := Guard(&FuncProducer{
		NextFn: func(ctx context.Context) (schema.Tuple, error) {
			close(entered)
			<-release
			return schema.Tuple{}, ErrEndOfStream
		},
	})

	done := make(chan error)
	go func() {
		_, err := p.Next(ctx)
		done <- err
	}()
	<-entered

	_, err := p.Next(ctx)
	assert.Equal(t, ErrConcurrentPull, err)

	close(release)
	assert.Equal(t, ErrEndOfStream, <-done)
}

func TestGuardClose(t *testing.T) {
	closes := 0
	p := Guard(&FuncProducer{
		NextFn: func(ctx context.Context) (schema.Tuple, error) {
			return tupleOf(t, 1), nil
		},
		CloseFn: func() error {
			closes++
			return nil
		},
	})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, closes)

	_, err := p.Next(context.Background())
	assert.Equal(t, ErrEndOfStream, err)
}

func TestGuardCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Guard(SliceProducer(tupleOf(t, 1)))
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
