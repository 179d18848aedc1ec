package graphql

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subprotocol is the websocket subprotocol spoken by the indexer.
const Subprotocol = "graphql-transport-ws"

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Errors
var (
	ErrNotConnected  = errors.New("graphql: not connected")
	ErrClosed        = errors.New("graphql: client closed")
	ErrAckTimeout    = errors.New("graphql: connection_ack timeout")
	ErrTimeout       = errors.New("graphql: operation timeout")
	ErrNoResult      = errors.New("graphql: operation completed without result")
	ErrCursorStalled = errors.New("graphql: pagination cursor did not advance")
)

// message is a protocol frame.
type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query string `json:"query"`
}

// Result is the payload of a "next" message.
type Result struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ResultError              `json:"errors,omitempty"`
}

// Field returns the raw value of a top-level data field. Missing and null
// fields both report false.
func (r *Result) Field(name string) (json.RawMessage, bool) {
	if r == nil || r.Data == nil {
		return nil, false
	}
	raw, ok := r.Data[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// ResultError is a GraphQL error entry.
type ResultError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ErrorKind classifies client errors.
type ErrorKind int

const (
	// KindTransport means the connection failed underneath the operation.
	// The operation may be retried.
	KindTransport ErrorKind = iota + 1

	// KindRejected means the server answered the operation with an error
	// message, typically a validation failure against its schema.
	KindRejected

	// KindProtocol means a frame could not be understood.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is returned for failed operations.
type Error struct {
	Kind     ErrorKind
	OpID     string
	Messages []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "graphql %s error", e.Kind)
	if e.OpID != "" {
		fmt.Fprintf(&b, " (op %s)", e.OpID)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable returns true if the operation may succeed when retried.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransport
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gqlErr *Error
	return errors.As(err, &gqlErr) && gqlErr.Kind == kind
}

func rejected(opID string, entries []ResultError) *Error {
	msgs := make([]string, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, e.Message)
	}
	return &Error{Kind: KindRejected, OpID: opID, Messages: msgs}
}

// Config configures a Client.
type Config struct {
	URL               string        // e.g. ws://localhost:4351/graphql
	HandshakeTimeout  time.Duration // Dial plus connection_ack wait
	WriteTimeout      time.Duration // Write deadline per frame
	PingInterval      time.Duration // Protocol-level ping period
	PongTimeout       time.Duration // Max silence before the connection is considered stale
	QueryTimeout      time.Duration // Default timeout for Execute when ctx has no deadline
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	UserAgent         string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      15 * time.Second,
		PongTimeout:       45 * time.Second,
		QueryTimeout:      30 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
	}
}
