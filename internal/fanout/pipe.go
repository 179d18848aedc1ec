package fanout

import (
	"context"
	"sync"
)

// Pipe is an Upstream fed by a single producer goroutine.
type Pipe[T any] struct {
	ch   chan T
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewPipe creates a pipe with the given channel buffer.
func NewPipe[T any](buffer int) *Pipe[T] {
	return &Pipe[T]{ch: make(chan T, buffer)}
}

// Items implements Upstream.
func (p *Pipe[T]) Items() <-chan T { return p.ch }

// Err implements Upstream.
func (p *Pipe[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Emit sends an item, waiting for buffer space or ctx. Must not be called
// after Finish.
func (p *Pipe[T]) Emit(ctx context.Context, item T) error {
	select {
	case p.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish ends the stream with err (nil for normal completion).
func (p *Pipe[T]) Finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.ch)
	})
}
