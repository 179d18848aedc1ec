package fanout

import (
	"sync"

	"github.com/rickgao/liquidity-gateway/internal/queue"
)

// Attachment is one consumer's view of a fanout.
type Attachment[T any] struct {
	id     uint64
	fanout *Fanout[T]

	pending *queue.Queue[T]
	out     chan T
	stop    chan struct{}

	mu  sync.Mutex
	err error

	startOnce  sync.Once
	detachOnce sync.Once
}

func newAttachment[T any](f *Fanout[T], id uint64) *Attachment[T] {
	return &Attachment[T]{
		id:      id,
		fanout:  f,
		pending: queue.New[T](64),
		out:     make(chan T),
		stop:    make(chan struct{}),
	}
}

// ID identifies the attachment within its fanout.
func (a *Attachment[T]) ID() uint64 { return a.id }

// C delivers items in upstream order. It is closed when the upstream ends
// (after queued items drain) or immediately after Detach.
func (a *Attachment[T]) C() <-chan T { return a.out }

// Err returns the upstream's terminal error once C is closed.
func (a *Attachment[T]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Pending returns the number of items queued but not yet received.
func (a *Attachment[T]) Pending() int {
	return a.pending.Len()
}

// Stats returns usage of the attachment's queue.
func (a *Attachment[T]) Stats() queue.Stats {
	return a.pending.Stats()
}

// Detach unregisters the consumer and drops anything still queued. When it
// returns the fanout no longer counts this attachment.
func (a *Attachment[T]) Detach() {
	a.detachOnce.Do(func() {
		n := a.fanout.detach(a.id)
		close(a.stop)
		a.pending.Discard()
		a.fanout.logger.Debug("detached", "id", a.id, "attached", n)
	})
}

func (a *Attachment[T]) start() {
	a.startOnce.Do(func() {
		go a.pump()
	})
}

func (a *Attachment[T]) pump() {
	defer close(a.out)

	for {
		item, ok := a.pending.Receive()
		if !ok {
			return
		}
		select {
		case a.out <- item:
		case <-a.stop:
			return
		}
	}
}

func (a *Attachment[T]) terminate(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.pending.Close()
}
