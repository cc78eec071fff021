// Package largebinary moves payloads too large to travel inline between host and foreign code.
// Only handles cross the bridge, the bytes go through streams against an object store.
package largebinary

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

const DefaultBucket = "texera-large-binaries"

// Store creates handles and opens streams over their payloads.
type Store interface {
	// Create returns a fresh, uncommitted handle. Its payload doesn't exist until a write stream over it is closed.
	Create(ctx context.Context) (schema.Handle, error)
	// OpenWrite opens the single write stream of an uncommitted handle.
	OpenWrite(ctx context.Context, h schema.Handle) (*WriteStream, error)
	// OpenRead opens a read stream over a committed handle.
	OpenRead(ctx context.Context, h schema.Handle) (*ReadStream, error)
	Delete(ctx context.Context, h schema.Handle) error
}

type Options struct {
	Bucket string
	// TempDir is where write streams spool their payload before upload. Defaults to os.TempDir().
	TempDir string
}

// ObjectStore implements Store on top of a Backend.
type ObjectStore struct {
	backend Backend
	bucket  string
	tempDir string

	mu            sync.Mutex
	bucketEnsured bool
	// writing holds the keys of handles with an open write stream.
	writing map[string]bool
}

func NewObjectStore(backend Backend, opts Options) *ObjectStore {
	bucket := opts.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &ObjectStore{
		backend: backend,
		bucket:  bucket,
		tempDir: opts.TempDir,
		writing: make(map[string]bool),
	}
}

func (s *ObjectStore) Bucket() string {
	return s.bucket
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketEnsured {
		return nil
	}
	if err := s.backend.EnsureBucket(ctx, s.bucket); err != nil {
		return udferr.Storage(udferr.StorageUnavailable, "create", err, "couldn't ensure bucket '%s'", s.bucket)
	}
	s.bucketEnsured = true
	return nil
}

func (s *ObjectStore) Create(ctx context.Context) (schema.Handle, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return schema.Handle{}, err
	}
	now := time.Now()
	key := fmt.Sprintf("objects/%d/%s", now.UnixMilli(), ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()))
	return schema.NewHandle(s.bucket, key), nil
}

func (s *ObjectStore) OpenWrite(ctx context.Context, h schema.Handle) (*WriteStream, error) {
	if _, err := schema.ParseHandle(h.URI); err != nil {
		return nil, err
	}
	if h.Committed() {
		return nil, udferr.Storage(udferr.StorageHandleCommitted, "open_write", nil, "handle %s is already committed", h.URI)
	}
	_, err := s.backend.Stat(ctx, h.Bucket(), h.Key())
	if err == nil {
		return nil, udferr.Storage(udferr.StorageHandleCommitted, "open_write", nil, "handle %s is already committed", h.URI)
	}
	if udferr.StorageKindOf(err) != udferr.StorageNotFound {
		return nil, udferr.WithOp(err, "open_write")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writing[h.URI] {
		return nil, udferr.Storage(udferr.StorageHandleCommitted, "open_write", nil, "handle %s already has an open write stream", h.URI)
	}

	spool, err := os.CreateTemp(s.tempDir, "udfbridge-large-binary-*")
	if err != nil {
		return nil, udferr.Storage(udferr.StorageOther, "open_write", err, "couldn't create spool file")
	}
	s.writing[h.URI] = true
	uri := h.URI
	return &WriteStream{
		ctx:     ctx,
		backend: s.backend,
		handle:  h,
		spool:   spool,
		onDone: []func(){func() {
			s.mu.Lock()
			delete(s.writing, uri)
			s.mu.Unlock()
		}},
	}, nil
}

func (s *ObjectStore) OpenRead(ctx context.Context, h schema.Handle) (*ReadStream, error) {
	if _, err := schema.ParseHandle(h.URI); err != nil {
		return nil, err
	}
	body, size, err := s.backend.Get(ctx, h.Bucket(), h.Key())
	if err != nil {
		if udferr.StorageKindOf(err) == udferr.StorageNotFound {
			return nil, udferr.Storage(udferr.StorageHandleNotCommitted, "open_read", err, "handle %s has no committed payload", h.URI)
		}
		return nil, udferr.WithOp(err, "open_read")
	}
	h.Size = size
	return &ReadStream{
		handle: h,
		body:   body,
	}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, h schema.Handle) error {
	if _, err := schema.ParseHandle(h.URI); err != nil {
		return err
	}
	return udferr.WithOp(s.backend.Remove(ctx, h.Bucket(), h.Key()), "delete")
}
