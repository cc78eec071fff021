package largebinary

import (
	"context"
	"io"
)

// Backend is the object store holding large binary payloads.
// Errors returned are tagged StorageErrors with their storage kind already classified.
type Backend interface {
	// EnsureBucket creates the bucket if it doesn't exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
	// Put uploads size bytes read from r. The object only becomes visible once Put succeeds.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// Get opens the object for reading, returning its size.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
	Remove(ctx context.Context, bucket, key string) error
}
