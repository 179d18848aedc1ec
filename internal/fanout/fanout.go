// Package fanout multicasts a single upstream stream to any number of
// consumers.
//
// One goroutine (Run) reads the upstream and copies every item into each
// attachment's unbounded queue, so a slow consumer never delays the others
// or the upstream. Items are not replayed: an attachment sees only items
// emitted after it attached, in upstream order. When the upstream ends,
// every attachment's channel is closed after its queued items are delivered,
// and Err reports why the upstream ended.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is reported by attachments of a fanout closed by its owner.
var ErrClosed = errors.New("fanout closed")

// Upstream is a stream of items that ends by closing Items. Err is read after
// Items closes; nil means the stream completed normally.
type Upstream[T any] interface {
	Items() <-chan T
	Err() error
}

// Fanout distributes upstream items to attachments.
type Fanout[T any] struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]*Attachment[T]
	nextID  uint64
	closed  bool
	err     error
	emitted uint64

	done chan struct{}
}

// New creates a fanout. Attach consumers that must not miss items before
// calling Run.
func New[T any](name string, logger *slog.Logger) *Fanout[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout[T]{
		name:   name,
		logger: logger.With("fanout", name),
		subs:   make(map[uint64]*Attachment[T]),
		done:   make(chan struct{}),
	}
}

// Run pumps the upstream until it ends or ctx is cancelled. It returns the
// terminal error, which every attachment also reports.
func (f *Fanout[T]) Run(ctx context.Context, up Upstream[T]) error {
	items := up.Items()
	for {
		select {
		case <-ctx.Done():
			f.terminate(ctx.Err())
			return ctx.Err()

		case item, ok := <-items:
			if !ok {
				err := up.Err()
				f.terminate(err)
				return err
			}
			f.broadcast(item)
		}
	}
}

// Attach registers a consumer. Attaching to a terminated fanout returns an
// attachment whose channel is already closed.
func (f *Fanout[T]) Attach() *Attachment[T] {
	f.mu.Lock()
	f.nextID++
	a := newAttachment(f, f.nextID)
	if f.closed {
		err := f.err
		f.mu.Unlock()
		a.terminate(err)
		a.start()
		return a
	}
	f.subs[a.id] = a
	n := len(f.subs)
	f.mu.Unlock()

	a.start()
	f.logger.Debug("attached", "id", a.id, "attached", n)
	return a
}

// Close terminates the fanout with ErrClosed.
func (f *Fanout[T]) Close() {
	f.terminate(ErrClosed)
}

// Attached returns the number of live attachments.
func (f *Fanout[T]) Attached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Backlog returns the largest current and peak queue depth across live
// attachments.
func (f *Fanout[T]) Backlog() (pending, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.subs {
		st := a.Stats()
		pending = max(pending, st.Pending)
		peak = max(peak, st.Peak)
	}
	return pending, peak
}

// Emitted returns the number of items broadcast so far.
func (f *Fanout[T]) Emitted() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emitted
}

// Done is closed once the fanout has terminated.
func (f *Fanout[T]) Done() <-chan struct{} {
	return f.done
}

// Err returns the terminal error, nil while running or after normal completion.
func (f *Fanout[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fanout[T]) broadcast(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.emitted++
	for _, a := range f.subs {
		a.pending.Send(item)
	}
}

func (f *Fanout[T]) terminate(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.err = err
	subs := f.subs
	f.subs = make(map[uint64]*Attachment[T])
	f.mu.Unlock()

	for _, a := range subs {
		a.terminate(err)
	}
	close(f.done)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		f.logger.Error("upstream terminated", "error", err, "attachments", len(subs))
	} else {
		f.logger.Info("upstream ended", "attachments", len(subs))
	}
}

func (f *Fanout[T]) detach(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return len(f.subs)
}
