package largebinary

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/cube2222/udfbridge/metrics"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// WriteStream is an append-only sink for a handle's payload.
// Bytes are spooled to a local file and uploaded when the stream is closed,
// so a payload is either fully visible to readers or not at all.
type WriteStream struct {
	ctx     context.Context
	backend Backend
	handle  schema.Handle

	mu     sync.Mutex
	spool  *os.File
	size   int64
	closed bool
	onDone []func()
}

func (w *WriteStream) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, udferr.Storage(udferr.StorageStreamClosed, "write", nil, "write stream of %s is closed", w.handle.URI)
	}
	n, err := w.spool.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, udferr.Storage(udferr.StorageOther, "write", err, "couldn't spool payload of %s", w.handle.URI)
	}
	return n, nil
}

// Close commits the payload. Closing an already closed stream is a no-op.
func (w *WriteStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	defer w.finish()

	// The handle may have been committed out of band since the stream was opened.
	if _, err := w.backend.Stat(w.ctx, w.handle.Bucket(), w.handle.Key()); err == nil {
		metrics.LargeBinaries.WithLabelValues("failed").Inc()
		return udferr.Storage(udferr.StorageHandleCommitted, "close", nil, "handle %s was committed by another writer", w.handle.URI)
	} else if udferr.StorageKindOf(err) != udferr.StorageNotFound {
		metrics.LargeBinaries.WithLabelValues("failed").Inc()
		return udferr.WithOp(err, "close")
	}

	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return udferr.Storage(udferr.StorageOther, "close", err, "couldn't rewind spool of %s", w.handle.URI)
	}
	if err := w.backend.Put(w.ctx, w.handle.Bucket(), w.handle.Key(), w.spool, w.size); err != nil {
		metrics.LargeBinaries.WithLabelValues("failed").Inc()
		return udferr.WithOp(err, "close")
	}
	w.handle.Size = w.size
	metrics.LargeBinaries.WithLabelValues("committed").Inc()
	metrics.LargeBinaryBytes.WithLabelValues("written").Add(float64(w.size))
	return nil
}

// Abort discards everything written so far. Nothing becomes visible in the store.
func (w *WriteStream) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.finish()
	metrics.LargeBinaries.WithLabelValues("aborted").Inc()
	return nil
}

func (w *WriteStream) finish() {
	w.closed = true
	name := w.spool.Name()
	w.spool.Close()
	os.Remove(name)
	for _, f := range w.onDone {
		f()
	}
}

// Handle returns the stream's handle, with its size set once the stream has been committed.
func (w *WriteStream) Handle() schema.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handle
}

func (w *WriteStream) abandon() error {
	return w.Abort()
}

// ReadStream reads a committed payload front to back.
type ReadStream struct {
	handle schema.Handle

	mu     sync.Mutex
	body   io.ReadCloser
	read   int64
	closed bool
	onDone []func()
}

func (r *ReadStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, udferr.Storage(udferr.StorageStreamClosed, "read", nil, "read stream of %s is closed", r.handle.URI)
	}
	n, err := r.body.Read(p)
	r.read += int64(n)
	if err != nil && err != io.EOF {
		return n, udferr.Storage(udferr.StorageNetwork, "read", err, "couldn't read payload of %s", r.handle.URI)
	}
	return n, err
}

// ReadChunk returns up to maxBytes, fewer only at the end of the payload.
// It returns io.EOF once the payload is exhausted.
func (r *ReadStream) ReadChunk(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, udferr.Storage(udferr.StorageOther, "read", nil, "chunk size must be positive, got %d", maxBytes)
	}
	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return buf[:n], nil
	case err != nil:
		return nil, err
	}
	return buf, nil
}

// ReadAll reads the rest of the payload.
func (r *ReadStream) ReadAll() ([]byte, error) {
	return io.ReadAll(r)
}

// Close releases the stream. Closing an already closed stream is a no-op.
func (r *ReadStream) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	metrics.LargeBinaryBytes.WithLabelValues("read").Add(float64(r.read))
	err := r.body.Close()
	for _, f := range r.onDone {
		f()
	}
	if err != nil {
		return udferr.Storage(udferr.StorageOther, "close", err, "couldn't close read stream of %s", r.handle.URI)
	}
	return nil
}

// Handle returns the stream's handle with its committed size.
func (r *ReadStream) Handle() schema.Handle {
	return r.handle
}

func (r *ReadStream) abandon() error {
	return r.Close()
}
