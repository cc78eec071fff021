package largebinary

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/cube2222/udfbridge/udferr"
)

// MemoryBackend keeps objects in process memory. It backs local runs and tests.
type MemoryBackend struct {
	mu          sync.Mutex
	buckets     map[string]map[string][]byte
	unavailable bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]map[string][]byte),
	}
}

// SetUnavailable makes every subsequent call fail as if the store couldn't be reached.
func (b *MemoryBackend) SetUnavailable(unavailable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = unavailable
}

func (b *MemoryBackend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return udferr.Storage(udferr.StorageOther, "", err, "operation cancelled")
	}
	if b.unavailable {
		return udferr.Storage(udferr.StorageNetwork, "", nil, "object store unreachable")
	}
	return nil
}

func (b *MemoryBackend) EnsureBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (b *MemoryBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return udferr.Storage(udferr.StorageOther, "", err, "couldn't read upload of '%s/%s'", bucket, key)
	}
	if int64(len(data)) != size {
		return udferr.Storage(udferr.StorageOther, "", nil, "upload of '%s/%s' is %d bytes, declared %d", bucket, key, len(data), size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	objects, ok := b.buckets[bucket]
	if !ok {
		return udferr.Storage(udferr.StorageNotFound, "", nil, "bucket '%s' doesn't exist", bucket)
	}
	objects[key] = data
	return nil
}

func (b *MemoryBackend) get(ctx context.Context, bucket, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	data, ok := b.buckets[bucket][key]
	if !ok {
		return nil, udferr.Storage(udferr.StorageNotFound, "", nil, "object '%s/%s' doesn't exist", bucket, key)
	}
	return data, nil
}

func (b *MemoryBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	data, err := b.get(ctx, bucket, key)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *MemoryBackend) Stat(ctx context.Context, bucket, key string) (int64, error) {
	data, err := b.get(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (b *MemoryBackend) Remove(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	delete(b.buckets[bucket], key)
	return nil
}

// Objects returns the number of stored objects across all buckets.
func (b *MemoryBackend) Objects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, objects := range b.buckets {
		count += len(objects)
	}
	return count
}
