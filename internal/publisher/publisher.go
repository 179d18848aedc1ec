// Package publisher serves a feed to websocket clients.
//
// Every session first receives one frame holding the full snapshot keyed by
// record identity, then one frame per live record. The session attaches to
// the feed before reading the snapshot, so no record merged in between is
// lost. Records the session already holds at an equal or newer ordering
// value are not sent again.
package publisher

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options configures a publisher.
type Options[T any] struct {
	Name     string
	Source   Source[T]
	Version  Versioner[T] // Optional
	Config   Config
	Observer Observer // Optional
	Logger   *slog.Logger
}

// Publisher is an http.Handler upgrading requests to streaming sessions.
type Publisher[T any] struct {
	name     string
	source   Source[T]
	version  Versioner[T]
	cfg      Config
	obs      Observer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session[T]
	closed   bool

	wg sync.WaitGroup
}

// New creates a publisher.
func New[T any](opts Options[T]) *Publisher[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Publisher[T]{
		name:    opts.Name,
		source:  opts.Source,
		version: opts.Version,
		cfg:     cfg,
		obs:     obs,
		logger:  logger.With("publisher", opts.Name),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		sessions: make(map[string]*session[T]),
	}
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (p *Publisher[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		p.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(p, uuid.NewString(), conn)
	if !p.register(s) {
		s.closeWith(websocket.CloseGoingAway, ErrShuttingDown.Error())
		conn.Close()
		return
	}
	defer p.unregister(s)

	p.obs.SessionOpened(p.name)
	reason := s.run()
	p.obs.SessionClosed(p.name, reason)
}

// Sessions returns the number of open sessions.
func (p *Publisher[T]) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close ends every session and refuses new ones. It waits for sessions to
// finish or ctx.
func (p *Publisher[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*session[T], 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("publisher closed", "sessions", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher[T]) register(s *session[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.sessions[s.id] = s
	return true
}

func (p *Publisher[T]) unregister(s *session[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, s.id)
}
