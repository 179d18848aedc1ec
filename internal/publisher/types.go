package publisher

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/liquidity-gateway/internal/fanout"
)

// Errors
var (
	ErrBacklogExceeded = errors.New("session backlog exceeded")
	ErrUpstreamEnded   = errors.New("upstream ended")
	ErrShuttingDown    = errors.New("publisher shutting down")
)

// Close reasons reported to the Observer.
const (
	ReasonClient   = "client"
	ReasonWrite    = "write_error"
	ReasonBacklog  = "backlog"
	ReasonUpstream = "upstream"
	ReasonShutdown = "shutdown"
)

// Source is what a publisher serves: live records plus a snapshot of the
// current state.
type Source[T any] interface {
	Attach() *fanout.Attachment[T]
	Snapshot() (frame any, versions map[string]uint64)
}

// Versioner returns a record's key and ordering value. ok=false disables
// the freshness check for that record.
type Versioner[T any] func(record T) (key string, ordering uint64, ok bool)

// Observer receives session activity.
type Observer interface {
	SessionOpened(feed string)
	SessionClosed(feed, reason string)
	RecordSent(feed string)
	RecordSkipped(feed string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string)         {}
func (nopObserver) SessionClosed(string, string) {}
func (nopObserver) RecordSent(string)            {}
func (nopObserver) RecordSkipped(string)         {}

// Config holds per-session limits.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	MaxBacklog   int   // Queued records before a session is dropped; 0 disables
	ReadLimit    int64 // Max inbound message size
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConfig returns the default session limits.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		MaxBacklog:   4096,
		ReadLimit:    4096,
	}
}

// Keyed is a record with an identity and an ordering value.
type Keyed interface {
	Key() string
	Ordering() uint64
}

// ByKey returns the Versioner of a Keyed record type.
func ByKey[T Keyed]() Versioner[T] {
	return func(r T) (string, uint64, bool) {
		return r.Key(), r.Ordering(), true
	}
}
