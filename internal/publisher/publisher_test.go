package publisher

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/liquidity-gateway/internal/fanout"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// testSource merges before broadcasting, like a feed.
type testSource struct {
	fan  *fanout.Fanout[model.Pool]
	pipe *fanout.Pipe[model.Pool]

	mu    sync.Mutex
	pools map[string]model.Pool
}

func newTestSource(t *testing.T, seed ...model.Pool) *testSource {
	t.Helper()
	s := &testSource{
		fan:   fanout.New[model.Pool]("pools", nil),
		pipe:  fanout.NewPipe[model.Pool](16),
		pools: make(map[string]model.Pool),
	}
	for _, p := range seed {
		s.pools[p.ID] = p
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.fan.Run(ctx, s.pipe)
	return s
}

func (s *testSource) Attach() *fanout.Attachment[model.Pool] { return s.fan.Attach() }

func (s *testSource) Snapshot() (any, map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := make(map[string]model.Pool, len(s.pools))
	versions := make(map[string]uint64, len(s.pools))
	for id, p := range s.pools {
		frame[id] = p
		versions[id] = p.LastUpdateTimestamp
	}
	return frame, versions
}

func (s *testSource) emit(p model.Pool) {
	s.mu.Lock()
	if cur, ok := s.pools[p.ID]; !ok || p.LastUpdateTimestamp > cur.LastUpdateTimestamp {
		s.pools[p.ID] = p
	}
	s.mu.Unlock()
	s.pipe.Emit(context.Background(), p)
}

func newPool(id string, reserves0 int64, ts uint64) model.Pool {
	return model.Pool{
		ID:                  id,
		Token0:              "a",
		Token1:              "b",
		Reserves0:           decimal.NewFromInt(reserves0),
		Reserves1:           decimal.NewFromInt(1),
		LastUpdateTimestamp: ts,
	}
}

func startPublisher(t *testing.T, src Source[model.Pool], cfg Config) (*Publisher[model.Pool], string) {
	t.Helper()
	p := New(Options[model.Pool]{
		Name:    "pools",
		Source:  src,
		Version: ByKey[model.Pool](),
		Config:  cfg,
	})
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) map[string]model.Pool {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap map[string]model.Pool
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	return snap
}

func readPool(t *testing.T, conn *websocket.Conn) model.Pool {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p model.Pool
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("read record: %v", err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPublisher_SnapshotThenStream(t *testing.T) {
	src := newTestSource(t, newPool("P1", 100, 10))
	_, url := startPublisher(t, src, Config{})

	conn := dial(t, url)
	snap := readSnapshot(t, conn)
	if len(snap) != 1 || snap["P1"].LastUpdateTimestamp != 10 {
		t.Fatalf("snapshot = %+v, want P1 at 10", snap)
	}

	src.emit(newPool("P2", 5, 20))
	if got := readPool(t, conn); got.ID != "P2" || got.LastUpdateTimestamp != 20 {
		t.Errorf("record = %+v, want P2 at 20", got)
	}
}

func TestPublisher_SkipsRecordsNotNewerThanSnapshot(t *testing.T) {
	src := newTestSource(t, newPool("P1", 100, 10))
	_, url := startPublisher(t, src, Config{})

	conn := dial(t, url)
	readSnapshot(t, conn)

	src.emit(newPool("P1", 100, 10))
	src.emit(newPool("P1", 90, 9))
	src.emit(newPool("P1", 110, 11))

	got := readPool(t, conn)
	if got.LastUpdateTimestamp != 11 || !got.Reserves0.Equal(decimal.NewFromInt(110)) {
		t.Errorf("record = %+v, want P1 at 11 with reserves0 110", got)
	}
}

func TestPublisher_LateClientGetsCurrentSnapshot(t *testing.T) {
	src := newTestSource(t, newPool("P1", 100, 10))
	p, url := startPublisher(t, src, Config{})

	first := dial(t, url)
	readSnapshot(t, first)

	src.emit(newPool("P1", 120, 12))
	readPool(t, first)

	second := dial(t, url)
	snap := readSnapshot(t, second)
	if snap["P1"].LastUpdateTimestamp != 12 {
		t.Errorf("late snapshot P1 at %d, want 12", snap["P1"].LastUpdateTimestamp)
	}
	waitFor(t, "two sessions", func() bool { return p.Sessions() == 2 })

	src.emit(newPool("P1", 130, 13))
	if got := readPool(t, second); got.LastUpdateTimestamp != 13 {
		t.Errorf("second client record at %d, want 13", got.LastUpdateTimestamp)
	}
	if got := readPool(t, first); got.LastUpdateTimestamp != 13 {
		t.Errorf("first client record at %d, want 13", got.LastUpdateTimestamp)
	}
}

func TestPublisher_DisconnectDetaches(t *testing.T) {
	src := newTestSource(t)
	p, url := startPublisher(t, src, Config{})

	before := src.fan.Attached()

	conn := dial(t, url)
	readSnapshot(t, conn)
	waitFor(t, "attachment", func() bool { return src.fan.Attached() == before+1 })

	conn.Close()
	waitFor(t, "detach", func() bool { return src.fan.Attached() == before })
	waitFor(t, "session removal", func() bool { return p.Sessions() == 0 })
}

func TestPublisher_OneClientLeavingDoesNotAffectOthers(t *testing.T) {
	src := newTestSource(t)
	_, url := startPublisher(t, src, Config{})

	stay := dial(t, url)
	leave := dial(t, url)
	readSnapshot(t, stay)
	readSnapshot(t, leave)
	waitFor(t, "two attachments", func() bool { return src.fan.Attached() == 2 })

	leave.Close()
	waitFor(t, "one attachment", func() bool { return src.fan.Attached() == 1 })

	src.emit(newPool("P1", 1, 1))
	if got := readPool(t, stay); got.ID != "P1" {
		t.Errorf("record = %+v, want P1", got)
	}
}

func TestPublisher_UpstreamEndClosesSessions(t *testing.T) {
	src := newTestSource(t)
	_, url := startPublisher(t, src, Config{})

	conn := dial(t, url)
	readSnapshot(t, conn)
	waitFor(t, "attachment", func() bool { return src.fan.Attached() == 1 })

	src.pipe.Finish(nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going away close", err)
	}
}

func TestPublisher_CloseEndsSessions(t *testing.T) {
	src := newTestSource(t)
	p, url := startPublisher(t, src, Config{})

	conn := dial(t, url)
	readSnapshot(t, conn)
	waitFor(t, "session", func() bool { return p.Sessions() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() succeeded after Close")
	}
	if p.Sessions() != 0 {
		t.Errorf("Sessions() = %d, want 0", p.Sessions())
	}

	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("Dial() succeeded after Close")
	}
}

func TestPublisher_StreamOnlySourceSkipsSnapshot(t *testing.T) {
	fan := fanout.New[model.NativeTransfer]("transfers", nil)
	pipe := fanout.NewPipe[model.NativeTransfer](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fan.Run(ctx, pipe)

	p := New(Options[model.NativeTransfer]{Name: "transfers", Source: streamOnly{fan}})
	srv := httptest.NewServer(p)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitFor(t, "attachment", func() bool { return fan.Attached() == 1 })

	pipe.Emit(ctx, model.NativeTransfer{ExtrinsicHash: "0x1", Timestamp: 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var tr model.NativeTransfer
	if err := conn.ReadJSON(&tr); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if tr.ExtrinsicHash != "0x1" {
		t.Errorf("first frame = %+v, want transfer 0x1", tr)
	}
}

type streamOnly struct {
	fan *fanout.Fanout[model.NativeTransfer]
}

func (s streamOnly) Attach() *fanout.Attachment[model.NativeTransfer] { return s.fan.Attach() }
func (s streamOnly) Snapshot() (any, map[string]uint64)              { return nil, nil }
