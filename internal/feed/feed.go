// Package feed keeps one entity family in sync with the indexer.
//
// A feed bootstraps its sink with a paginated bulk read, commits to the
// schema generation the bulk read found, opens one live subscription in that
// generation and multicasts normalized records through a fanout. Records are
// merged into the sink before they are broadcast, so a consumer that attaches
// and then takes a snapshot never misses an update.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/liquidity-gateway/internal/fanout"
	"github.com/rickgao/liquidity-gateway/internal/graphql"
	"github.com/rickgao/liquidity-gateway/internal/schema"
)

// Errors
var (
	ErrAlreadyStarted     = errors.New("feed already started")
	ErrSubscriptionEnded  = errors.New("subscription completed by server")
	ErrSubscriptionFailed = errors.New("subscription returned errors")
	ErrNoSchema           = errors.New("no usable schema generation")
)

// State is a feed's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBootstrapping
	StateStreaming
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of a feed for health reporting.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	Schema       string    `json:"schema,omitempty"`
	Records      int       `json:"records"`
	Emitted      uint64    `json:"emitted"`
	Attached     int       `json:"attached"`
	Backlog      int       `json:"backlog"`
	PeakBacklog  int       `json:"peak_backlog"`
	Transitional uint64    `json:"transitional_frames"`
	LastError    string    `json:"last_error,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
}

// Options configures a feed.
type Options[T any] struct {
	Family   schema.Family[T]
	Source   Source   // Required for Start
	Sink     Sink[T]  // Nil for stream-only families
	Observer Observer // Optional
	Logger   *slog.Logger
	Buffer   int // Channel buffer between normalizer and fanout
}

// Feed synchronizes one entity family.
type Feed[T any] struct {
	family schema.Family[T]
	source Source
	sink   Sink[T]
	obs    Observer
	logger *slog.Logger
	buffer int
	fan    *fanout.Fanout[T]

	mu           sync.Mutex
	state        State
	committed    schema.Version
	lastErr      error
	startedAt    time.Time
	transitional uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle feed.
func New[T any](opts Options[T]) *Feed[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	logger = logger.With("feed", opts.Family.Name)
	return &Feed[T]{
		family: opts.Family,
		source: opts.Source,
		sink:   opts.Sink,
		obs:    obs,
		logger: logger,
		buffer: buffer,
		fan:    fanout.New[T](opts.Family.Name, logger),
	}
}

// Name returns the family name.
func (f *Feed[T]) Name() string {
	return f.family.Name
}

// Start bootstraps the sink, commits to a schema generation and begins
// streaming. It returns once the subscription is open; streaming continues
// until ctx ends, Stop is called or the stream fails.
func (f *Feed[T]) Start(ctx context.Context) error {
	if err := f.begin(); err != nil {
		return err
	}

	shape, err := f.bootstrap(ctx)
	if err != nil {
		f.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := f.source.Subscribe(runCtx, shape.Subscription.Render())
	if err != nil {
		cancel()
		err = fmt.Errorf("subscribe %s: %w", f.family.Name, err)
		f.fail(err)
		return err
	}

	pipe := fanout.NewPipe[T](f.buffer)
	f.streaming(shape.Version, cancel)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.normalize(runCtx, stream, shape, pipe)
	}()
	go func() {
		defer f.wg.Done()
		f.run(runCtx, pipe)
	}()

	f.logger.Info("feed streaming",
		"schema", shape.Version.String(),
		"records", f.records(),
		"subscription", shape.Subscription.Key(),
	)
	return nil
}

// StartFrom streams records from up instead of the indexer. Records are
// merged and broadcast exactly like subscription records.
func (f *Feed[T]) StartFrom(ctx context.Context, up fanout.Upstream[T]) error {
	if err := f.begin(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	pipe := fanout.NewPipe[T](f.buffer)
	f.streaming(schema.Unrecognized, cancel)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.relay(runCtx, up, pipe)
	}()
	go func() {
		defer f.wg.Done()
		f.run(runCtx, pipe)
	}()

	f.logger.Info("feed streaming from local source")
	return nil
}

// Attach registers a consumer of live records.
func (f *Feed[T]) Attach() *fanout.Attachment[T] {
	return f.fan.Attach()
}

// Attached returns the number of live consumers.
func (f *Feed[T]) Attached() int {
	return f.fan.Attached()
}

// Snapshot returns the sink's current state. Stream-only feeds return a nil
// frame.
func (f *Feed[T]) Snapshot() (any, map[string]uint64) {
	if s, ok := f.sink.(Snapshotter); ok {
		return s.Snapshot()
	}
	return nil, nil
}

// Done is closed when the feed stops streaming for any reason.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.fan.Done()
}

// Status reports the feed's state.
func (f *Feed[T]) Status() Status {
	f.mu.Lock()
	st := Status{
		Name:         f.family.Name,
		State:        f.state,
		Transitional: f.transitional,
		StartedAt:    f.startedAt,
	}
	if f.committed != schema.Unrecognized {
		st.Schema = f.committed.String()
	}
	if f.lastErr != nil {
		st.LastError = f.lastErr.Error()
	}
	f.mu.Unlock()

	st.Records = f.records()
	st.Emitted = f.fan.Emitted()
	st.Attached = f.fan.Attached()
	st.Backlog, st.PeakBacklog = f.fan.Backlog()
	return st
}

// Stop ends streaming and waits for the feed's goroutines or ctx.
func (f *Feed[T]) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel := f.cancel
	if f.state == StateStreaming || f.state == StateIdle {
		f.state = StateStopped
	}
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.fan.Close()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed[T]) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateIdle {
		return ErrAlreadyStarted
	}
	f.state = StateBootstrapping
	f.startedAt = time.Now()
	return nil
}

func (f *Feed[T]) streaming(v schema.Version, cancel context.CancelFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateStreaming
	f.committed = v
	f.cancel = cancel
}

func (f *Feed[T]) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateFailed
	f.lastErr = err
}

func (f *Feed[T]) records() int {
	if f.sink == nil {
		return 0
	}
	return f.sink.Len()
}

// bootstrap probes the generations in order and seeds the sink from the
// first one holding data. The last generation is committed unconditionally:
// a failed read there seeds whatever arrived and live merging corrects the
// rest.
func (f *Feed[T]) bootstrap(ctx context.Context) (schema.Shape, error) {
	shapes := f.family.Shapes
	if len(shapes) == 0 {
		return schema.Shape{}, fmt.Errorf("%s: %w", f.family.Name, ErrNoSchema)
	}

	last := len(shapes) - 1
	for i, shape := range shapes {
		if i == last && (!shape.Bootstrap() || f.sink == nil) {
			return shape, nil
		}
		nodes, err := graphql.ReadConnection(ctx, f.source, shape.Connection)
		if len(nodes) == 0 && i < last {
			if err != nil {
				f.logger.Info("bulk read failed, probing next schema", "schema", shape.Version.String(), "error", err)
			} else {
				f.logger.Info("bulk read empty, probing next schema", "schema", shape.Version.String())
			}
			continue
		}
		f.seed(shape, nodes, err)
		return shape, nil
	}
	return shapes[last], nil
}

// seed normalizes bulk-read nodes under shape and merges them. Nodes that
// fail to normalize are skipped; live merging corrects the state later.
func (f *Feed[T]) seed(shape schema.Shape, nodes []json.RawMessage, readErr error) {
	records := make([]T, 0, len(nodes))
	skipped := 0
	for _, n := range nodes {
		rec, err := f.family.Normalize(n, shape.Version)
		if err != nil {
			skipped++
			f.logger.Debug("skipping bulk record", "error", err)
			continue
		}
		records = append(records, rec)
	}

	changed := 0
	if f.sink != nil {
		changed = f.sink.Seed(records)
	}
	f.obs.ObserveSeed(f.family.Name, changed)

	attrs := []any{
		"schema", shape.Version.String(),
		"nodes", len(nodes),
		"merged", changed,
		"skipped", skipped,
	}
	if readErr != nil {
		f.logger.Warn("bulk read incomplete, seeded partial state", append(attrs, "error", readErr)...)
		return
	}
	f.logger.Info("seeded", attrs...)
}

// normalize turns subscription results into records until the stream ends,
// ctx ends, or a fatal frame arrives.
func (f *Feed[T]) normalize(ctx context.Context, stream Stream, shape schema.Shape, pipe *fanout.Pipe[T]) {
	defer stream.Close()

	results := stream.Results()
	for {
		select {
		case <-ctx.Done():
			pipe.Finish(ctx.Err())
			return

		case res, ok := <-results:
			if !ok {
				if ctx.Err() != nil {
					pipe.Finish(ctx.Err())
					return
				}
				err := stream.Err()
				if err == nil {
					err = ErrSubscriptionEnded
				}
				pipe.Finish(fmt.Errorf("%s subscription: %w", f.family.Name, err))
				return
			}
			if err := f.process(ctx, res, shape, pipe); err != nil {
				pipe.Finish(err)
				return
			}
		}
	}
}

func (f *Feed[T]) process(ctx context.Context, res graphql.Result, shape schema.Shape, pipe *fanout.Pipe[T]) error {
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Message
		}
		f.obs.ObserveFrame(f.family.Name, "fatal")
		return fmt.Errorf("%s: %w: %s", f.family.Name, ErrSubscriptionFailed, strings.Join(msgs, "; "))
	}

	raw, ok := res.Field(shape.Subscription.Key())
	if !ok {
		f.logger.Debug("result without records", "field", shape.Subscription.Key())
		return nil
	}
	frames, err := schema.Frames(raw)
	if err != nil {
		f.obs.ObserveFrame(f.family.Name, "fatal")
		return fmt.Errorf("%s: %w", f.family.Name, err)
	}

	for _, frame := range frames {
		rec, err := f.family.Normalize(frame, shape.Version)
		if err != nil {
			if schema.Classify(err) == schema.SeverityTransitional {
				f.mu.Lock()
				f.transitional++
				f.mu.Unlock()
				f.obs.ObserveFrame(f.family.Name, "transitional")
				f.logger.Debug("skipping transitional frame", "error", err)
				continue
			}
			f.obs.ObserveFrame(f.family.Name, "fatal")
			return err
		}
		if err := f.apply(ctx, rec, pipe); err != nil {
			return err
		}
	}
	return nil
}

// relay forwards a local upstream through the merge step.
func (f *Feed[T]) relay(ctx context.Context, up fanout.Upstream[T], pipe *fanout.Pipe[T]) {
	items := up.Items()
	for {
		select {
		case <-ctx.Done():
			pipe.Finish(ctx.Err())
			return
		case rec, ok := <-items:
			if !ok {
				pipe.Finish(up.Err())
				return
			}
			if err := f.apply(ctx, rec, pipe); err != nil {
				pipe.Finish(err)
				return
			}
		}
	}
}

// apply merges rec and broadcasts it. Stale records are still broadcast;
// publishers filter them per session.
func (f *Feed[T]) apply(ctx context.Context, rec T, pipe *fanout.Pipe[T]) error {
	outcome := "applied"
	if f.sink != nil && !f.sink.Merge(rec) {
		outcome = "stale"
	}
	f.obs.ObserveFrame(f.family.Name, outcome)
	return pipe.Emit(ctx, rec)
}

func (f *Feed[T]) run(ctx context.Context, pipe *fanout.Pipe[T]) {
	err := f.fan.Run(ctx, pipe)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.state == StateStopped:
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, fanout.ErrClosed):
		f.state = StateStopped
	default:
		f.state = StateFailed
		f.lastErr = err
	}
}
