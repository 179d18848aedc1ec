package graphql

import (
	"sync"

	"github.com/rickgao/liquidity-gateway/internal/queue"
)

// Subscription is a live GraphQL subscription. Results are queued without
// bound so a slow reader never stalls the shared connection.
type Subscription struct {
	id     string
	query  string
	client *Client

	pending  *queue.Queue[Result]
	results  chan Result
	stop     chan struct{}
	finished chan struct{}

	mu  sync.Mutex
	err error

	startOnce  sync.Once
	finishOnce sync.Once
	closeOnce  sync.Once
}

func newSubscription(c *Client, id, query string) *Subscription {
	return &Subscription{
		id:       id,
		query:    query,
		client:   c,
		pending:  queue.New[Result](16),
		results:  make(chan Result),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// ID returns the operation id.
func (s *Subscription) ID() string { return s.id }

// Results delivers results in arrival order. It is closed after the
// subscription ends and every queued result has been delivered, or
// immediately after Close.
func (s *Subscription) Results() <-chan Result { return s.results }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.finished }

// Err returns why the subscription ended. It is nil while running, after a
// server-side complete, and after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close completes the subscription on the server and stops delivery.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.client.removeSubscription(s.id) {
			s.client.sendComplete(s.id)
		}
		s.finish(nil)
		close(s.stop)
		s.pending.Discard()
	})
	return nil
}

func (s *Subscription) start() {
	s.startOnce.Do(func() {
		go s.pump()
	})
}

func (s *Subscription) pump() {
	defer close(s.results)

	for {
		r, ok := s.pending.Receive()
		if !ok {
			return
		}
		select {
		case s.results <- r:
		case <-s.stop:
			return
		}
	}
}

func (s *Subscription) push(r Result) {
	s.pending.Send(r)
}

func (s *Subscription) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.pending.Close()
		close(s.finished)
	})
}
