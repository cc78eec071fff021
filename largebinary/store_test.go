package largebinary

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

func newTestStore(t *testing.T) (*ObjectStore, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewObjectStore(backend, Options{TempDir: t.TempDir()}), backend
}

func TestCreateHandle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	first, err := store.Create(ctx)
	require.NoError(t, err)
	second, err := store.Create(ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.URI, "s3://texera-large-binaries/objects/"))
	assert.Equal(t, DefaultBucket, first.Bucket())
	assert.NotEqual(t, first.URI, second.URI)
	assert.False(t, first.Committed())
}

func TestCreateUnavailable(t *testing.T) {
	store, backend := newTestStore(t)
	backend.SetUnavailable(true)

	_, err := store.Create(context.Background())
	assert.True(t, errors.Is(err, udferr.ErrStorageUnavailable))
}

func TestWriteThenReadInChunks(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	payload := make([]byte, 10_000)
	rand.New(rand.NewSource(1)).Read(payload)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	for offset := 0; offset < len(payload); offset += 777 {
		end := offset + 777
		if end > len(payload) {
			end = len(payload)
		}
		_, err := w.Write(payload[offset:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	committed := w.Handle()
	assert.Equal(t, int64(len(payload)), committed.Size)

	for _, chunkSize := range []int{1, 7, 1000, 4096, 10_000, 20_000} {
		r, err := store.OpenRead(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), r.Handle().Size)

		var got bytes.Buffer
		for {
			chunk, err := r.ReadChunk(chunkSize)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.LessOrEqual(t, len(chunk), chunkSize)
			got.Write(chunk)
		}
		assert.Equal(t, payload, got.Bytes(), "chunk size %d", chunkSize)
		require.NoError(t, r.Close())
	}
}

func TestEmptyPayload(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := store.OpenRead(ctx, h)
	require.NoError(t, err)
	defer r.Close()
	data, err := r.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadUncommitted(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	_, err = store.OpenRead(ctx, h)
	assert.True(t, errors.Is(err, udferr.ErrHandleNotCommitted))
	require.NoError(t, w.Abort())

	_, err = store.OpenRead(ctx, schema.Handle{URI: "s3://texera-large-binaries/objects/1/missing", Size: -1})
	assert.True(t, errors.Is(err, udferr.ErrHandleNotCommitted))
}

func TestStreamClosed(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "closing twice is a no-op")

	_, err = w.Write([]byte("more"))
	assert.True(t, errors.Is(err, udferr.ErrStreamClosed))

	r, err := store.OpenRead(ctx, h)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.ReadChunk(10)
	assert.True(t, errors.Is(err, udferr.ErrStreamClosed))
}

func TestCommittedHandleIsImmutable(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = store.OpenWrite(ctx, h)
	assert.True(t, errors.Is(err, udferr.ErrHandleAlreadyCommitted))
}

func TestSingleWriterPerHandle(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	first, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = first.Write([]byte("first"))
	require.NoError(t, err)

	_, err = store.OpenWrite(ctx, h)
	assert.True(t, errors.Is(err, udferr.ErrHandleAlreadyCommitted), "%v", err)

	require.NoError(t, first.Close())
	assert.Equal(t, 1, backend.Objects())

	r, err := store.OpenRead(ctx, h)
	require.NoError(t, err)
	data, err := r.ReadAll()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "first", string(data))
}

func TestAbortedWriterReleasesHandle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	w, err = store.OpenWrite(ctx, h)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestCloseAfterCommitElsewhere(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("late writer"))
	require.NoError(t, err)

	require.NoError(t, backend.Put(ctx, h.Bucket(), h.Key(), strings.NewReader("winner"), 6))

	err = w.Close()
	assert.True(t, errors.Is(err, udferr.ErrHandleAlreadyCommitted), "%v", err)
	assert.False(t, w.Handle().Committed())

	r, err := store.OpenRead(ctx, h)
	require.NoError(t, err)
	data, err := r.ReadAll()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "winner", string(data))
}

func TestCancelledWriteDiscardsPayload(t *testing.T) {
	store, backend := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("half of it"))
	require.NoError(t, err)

	cancel()
	assert.Error(t, w.Close())
	assert.Equal(t, 0, backend.Objects())

	_, err = store.OpenRead(context.Background(), h)
	assert.True(t, errors.Is(err, udferr.ErrHandleNotCommitted))
}

func TestTrackerCloseAll(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	tracker := NewTracker(store)

	committed, err := tracker.Create(ctx)
	require.NoError(t, err)
	w, err := tracker.OpenWrite(ctx, committed)
	require.NoError(t, err)
	_, err = w.Write([]byte("done"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 0, tracker.Open())

	pending, err := tracker.Create(ctx)
	require.NoError(t, err)
	pendingWrite, err := tracker.OpenWrite(ctx, pending)
	require.NoError(t, err)
	_, err = pendingWrite.Write([]byte("never committed"))
	require.NoError(t, err)
	r, err := tracker.OpenRead(ctx, committed)
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Open())

	require.NoError(t, tracker.CloseAll())
	assert.Equal(t, 0, tracker.Open())
	assert.Equal(t, 1, backend.Objects())

	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, udferr.ErrStreamClosed))
	_, err = tracker.OpenRead(ctx, pending)
	assert.True(t, errors.Is(err, udferr.ErrHandleNotCommitted))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)

	h, err := store.Create(ctx)
	require.NoError(t, err)
	w, err := store.OpenWrite(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("short lived"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 1, backend.Objects())

	require.NoError(t, store.Delete(ctx, h))
	assert.Equal(t, 0, backend.Objects())
	_, err = store.OpenRead(ctx, h)
	assert.True(t, errors.Is(err, udferr.ErrHandleNotCommitted))

	err = store.Delete(ctx, schema.Handle{URI: "http://elsewhere/key"})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
}
