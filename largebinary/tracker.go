package largebinary

import (
	"context"
	"sync"

	"github.com/cube2222/udfbridge/schema"
)

type stream interface {
	abandon() error
}

// Tracker is a Store remembering the streams opened through it and not yet closed,
// so that a cancelled operator can release all of them at once.
type Tracker struct {
	Store

	mu   sync.Mutex
	open map[stream]struct{}
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		Store: store,
		open:  make(map[stream]struct{}),
	}
}

func (t *Tracker) OpenWrite(ctx context.Context, h schema.Handle) (*WriteStream, error) {
	w, err := t.Store.OpenWrite(ctx, h)
	if err != nil {
		return nil, err
	}
	t.add(w)
	w.onDone = append(w.onDone, func() { t.remove(w) })
	return w, nil
}

func (t *Tracker) OpenRead(ctx context.Context, h schema.Handle) (*ReadStream, error) {
	r, err := t.Store.OpenRead(ctx, h)
	if err != nil {
		return nil, err
	}
	t.add(r)
	r.onDone = append(r.onDone, func() { t.remove(r) })
	return r, nil
}

func (t *Tracker) add(s stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[s] = struct{}{}
}

func (t *Tracker) remove(s stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, s)
}

// Open returns the number of streams still open.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// CloseAll aborts open write streams, discarding their payloads, and closes open read streams.
func (t *Tracker) CloseAll() error {
	t.mu.Lock()
	streams := make([]stream, 0, len(t.open))
	for s := range t.open {
		streams = append(streams, s)
	}
	t.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.abandon(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
