package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Executor runs one-shot GraphQL operations.
type Executor interface {
	Execute(ctx context.Context, query string) (*Result, error)
}

// Client is a graphql-transport-ws client multiplexing queries and
// subscriptions over one websocket connection.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	started   bool
	connected bool
	closed    bool
	lastSeen  time.Time
	queries   map[string]*pendingQuery
	subs      map[string]*Subscription

	writeMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

type pendingQuery struct {
	result chan *Result
	err    chan error
}

// NewClient creates a client. Call Connect before issuing operations.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		queries: make(map[string]*pendingQuery),
		subs:    make(map[string]*Subscription),
		done:    make(chan struct{}),
	}
}

// Connect dials the indexer and completes the connection_init handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.attach(conn)

	c.wg.Add(1)
	go c.heartbeatLoop()

	c.logger.Info("graphql connected", "url", c.cfg.URL)
	return nil
}

// Close terminates all subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	close(c.done)

	for _, s := range subs {
		s.finish(ErrClosed)
	}

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.wg.Wait()
	c.logger.Debug("graphql client closed")
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscriptions returns the number of live subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Execute runs a one-shot operation and returns its first result. The
// server-side operation is completed when ctx ends first.
func (c *Client) Execute(ctx context.Context, query string) (*Result, error) {
	parent := ctx
	if _, ok := ctx.Deadline(); !ok && c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	q := &pendingQuery{
		result: make(chan *Result, 1),
		err:    make(chan error, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, &Error{Kind: KindTransport, OpID: id, Err: ErrNotConnected}
	}
	conn := c.conn
	c.queries[id] = q
	c.mu.Unlock()

	if err := c.write(conn, subscribeMessage(id, query)); err != nil {
		c.removeQuery(id)
		return nil, &Error{Kind: KindTransport, OpID: id, Err: err}
	}

	select {
	case res := <-q.result:
		return res, nil
	case err := <-q.err:
		return nil, err
	case <-ctx.Done():
		if c.removeQuery(id) {
			c.sendComplete(id)
		}
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, &Error{Kind: KindTransport, OpID: id, Err: ErrTimeout}
	}
}

// Subscribe starts a subscription. It lives until the server completes or
// rejects it, Close is called, ctx ends, or the client is closed. Connection
// loss does not end it; it is re-sent after reconnecting.
func (c *Client) Subscribe(ctx context.Context, query string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(c, uuid.NewString(), query)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return nil, &Error{Kind: KindTransport, OpID: sub.id, Err: ErrNotConnected}
	}
	c.subs[sub.id] = sub
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	sub.start()

	if connected {
		if err := c.write(conn, subscribeMessage(sub.id, query)); err != nil {
			// The read loop sees the same failure and re-sends on reconnect.
			c.logger.Warn("subscribe write failed", "op", sub.id, "error", err)
		}
	} else {
		c.logger.Debug("subscription queued until reconnect", "op", sub.id)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.finished:
		}
	}()

	return sub, nil
}

// dial opens a websocket and waits for connection_ack.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(message{Type: msgConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	conn.SetReadDeadline(deadline)
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrAckTimeout
			}
			return nil, fmt.Errorf("await connection_ack: %w", err)
		}

		switch msg.Type {
		case msgConnectionAck:
			conn.SetReadDeadline(time.Time{})
			conn.SetWriteDeadline(time.Time{})
			return conn, nil
		case msgPing:
			conn.WriteJSON(message{Type: msgPong})
		default:
			conn.Close()
			return nil, &Error{
				Kind: KindProtocol,
				Err:  fmt.Errorf("unexpected %q before connection_ack", msg.Type),
			}
		}
	}
}

// attach makes conn the active connection and starts reading from it.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeen = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed graphql frame", "error", err)
			continue
		}
		c.dispatch(conn, msg)
	}
}

func (c *Client) dispatch(conn *websocket.Conn, msg message) {
	switch msg.Type {
	case msgNext:
		var res Result
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			c.failOperation(msg.ID, &Error{Kind: KindProtocol, OpID: msg.ID, Err: err})
			return
		}
		c.deliver(msg.ID, &res)

	case msgError:
		var entries []ResultError
		if err := json.Unmarshal(msg.Payload, &entries); err != nil {
			entries = []ResultError{{Message: string(msg.Payload)}}
		}
		c.failOperation(msg.ID, rejected(msg.ID, entries))

	case msgComplete:
		c.completeOperation(msg.ID)

	case msgPing:
		if err := c.write(conn, message{Type: msgPong}); err != nil {
			c.logger.Debug("failed to send pong", "error", err)
		}

	case msgPong, msgConnectionAck:

	default:
		c.logger.Warn("unknown graphql message type", "type", msg.Type)
	}
}

func (c *Client) deliver(id string, res *Result) {
	c.mu.Lock()
	q, isQuery := c.queries[id]
	if isQuery {
		delete(c.queries, id)
	}
	sub := c.subs[id]
	c.mu.Unlock()

	switch {
	case isQuery:
		q.result <- res
	case sub != nil:
		sub.push(*res)
	default:
		c.logger.Debug("result for unknown operation", "op", id)
	}
}

func (c *Client) failOperation(id string, err error) {
	c.mu.Lock()
	q, isQuery := c.queries[id]
	if isQuery {
		delete(c.queries, id)
	}
	sub, isSub := c.subs[id]
	if isSub {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if isQuery {
		q.err <- err
	}
	if isSub {
		sub.finish(err)
	}
}

func (c *Client) completeOperation(id string) {
	c.mu.Lock()
	q, isQuery := c.queries[id]
	if isQuery {
		delete(c.queries, id)
	}
	sub, isSub := c.subs[id]
	if isSub {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if isQuery {
		q.err <- ErrNoResult
	}
	if isSub {
		sub.finish(nil)
	}
}

// handleDisconnect fails in-flight queries and schedules a reconnect that
// re-sends every open subscription.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	closed := c.closed
	queries := c.queries
	c.queries = make(map[string]*pendingQuery)
	subCount := len(c.subs)
	c.mu.Unlock()

	conn.Close()

	for id, q := range queries {
		q.err <- &Error{Kind: KindTransport, OpID: id, Err: cause}
	}

	if closed {
		return
	}

	c.logger.Warn("graphql connection lost",
		"error", cause,
		"failed_queries", len(queries),
		"subscriptions", subCount,
	)

	c.wg.Add(1)
	go c.reconnect()
}

// reconnect dials with exponential backoff until it succeeds or the client
// is closed.
func (c *Client) reconnect() {
	defer c.wg.Done()

	wait := c.cfg.ReconnectBaseWait

	for {
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		c.logger.Info("attempting graphql reconnection", "url", c.cfg.URL)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.dial(ctx)
		cancel()

		if err != nil {
			c.logger.Warn("graphql reconnection failed", "error", err, "next_wait", wait*2)
			wait *= 2
			if wait > c.cfg.ReconnectMaxWait {
				wait = c.cfg.ReconnectMaxWait
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.mu.Unlock()

		c.attach(conn)
		n := c.resubscribe(conn)

		c.logger.Info("graphql reconnected", "resubscribed", n)
		return
	}
}

func (c *Client) resubscribe(conn *websocket.Conn) int {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.write(conn, subscribeMessage(s.id, s.query)); err != nil {
			c.logger.Warn("resubscribe failed", "op", s.id, "error", err)
			break
		}
	}
	return len(subs)
}

// heartbeatLoop sends protocol pings and drops a silent connection so the
// read loop triggers a reconnect.
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		conn, connected, lastSeen := c.conn, c.connected, c.lastSeen
		c.mu.Unlock()

		if !connected {
			continue
		}

		if time.Since(lastSeen) > c.cfg.PongTimeout {
			c.logger.Warn("graphql connection stale",
				"last_seen", lastSeen,
				"timeout", c.cfg.PongTimeout,
			)
			conn.Close()
			continue
		}

		if err := c.write(conn, message{Type: msgPing}); err != nil {
			c.logger.Debug("failed to send ping", "error", err)
		}
	}
}

func (c *Client) write(conn *websocket.Conn, msg message) error {
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) sendComplete(id string) {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected {
		return
	}
	if err := c.write(conn, message{ID: id, Type: msgComplete}); err != nil {
		c.logger.Debug("failed to send complete", "op", id, "error", err)
	}
}

func (c *Client) removeQuery(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.queries[id]
	delete(c.queries, id)
	return ok
}

func (c *Client) removeSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

func subscribeMessage(id, query string) message {
	payload, _ := json.Marshal(subscribePayload{Query: query})
	return message{ID: id, Type: msgSubscribe, Payload: payload}
}
