package publisher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one websocket client.
type session[T any] struct {
	id       string
	p        *Publisher[T]
	conn     *websocket.Conn
	logger   *slog.Logger
	attached time.Time
	versions map[string]uint64 // Key -> newest ordering value the client holds

	stop     chan struct{}
	stopOnce sync.Once
	writeMu  sync.Mutex

	sent    uint64
	skipped uint64
}

func newSession[T any](p *Publisher[T], id string, conn *websocket.Conn) *session[T] {
	return &session[T]{
		id:     id,
		p:      p,
		conn:   conn,
		logger: p.logger.With("session_id", id, "remote", conn.RemoteAddr().String()),
		stop:   make(chan struct{}),
	}
}

// run drives the session: attach, snapshot, stream. It returns the close
// reason.
func (s *session[T]) run() string {
	defer s.conn.Close()

	att := s.p.source.Attach()
	defer att.Detach()
	s.attached = time.Now()

	frame, versions := s.p.source.Snapshot()
	s.versions = versions
	if s.versions == nil {
		s.versions = make(map[string]uint64)
	}
	if frame != nil {
		if err := s.write(frame); err != nil {
			s.logger.Debug("snapshot write failed", "error", err)
			return ReasonWrite
		}
	}
	s.logger.Debug("session streaming", "snapshot_records", len(s.versions))

	readDone := make(chan struct{})
	go s.readLoop(readDone)

	ping := time.NewTicker(s.p.cfg.PingInterval)
	defer ping.Stop()

	records := att.C()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				s.logger.Info("upstream ended, closing session", "error", att.Err())
				s.closeWith(websocket.CloseGoingAway, ErrUpstreamEnded.Error())
				return ReasonUpstream
			}
			if limit := s.p.cfg.MaxBacklog; limit > 0 && att.Pending() > limit {
				st := att.Stats()
				s.logger.Warn("session too slow, dropping",
					"backlog", st.Pending,
					"peak", st.Peak,
					"delivered", st.Delivered,
					"max", limit,
				)
				s.closeWith(websocket.ClosePolicyViolation, ErrBacklogExceeded.Error())
				return ReasonBacklog
			}
			if !s.fresh(rec) {
				s.skipped++
				s.p.obs.RecordSkipped(s.p.name)
				continue
			}
			if err := s.write(rec); err != nil {
				s.logger.Debug("write failed", "error", err)
				return ReasonWrite
			}
			s.sent++
			s.p.obs.RecordSent(s.p.name)

		case <-ping.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.p.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("ping failed", "error", err)
				return ReasonWrite
			}

		case <-readDone:
			s.logger.Debug("client disconnected",
				"sent", s.sent,
				"skipped", s.skipped,
				"duration", time.Since(s.attached),
			)
			return ReasonClient

		case <-s.stop:
			s.closeWith(websocket.CloseGoingAway, ErrShuttingDown.Error())
			return ReasonShutdown
		}
	}
}

// fresh reports whether rec is newer than what the session holds and
// records it if so.
func (s *session[T]) fresh(rec T) bool {
	if s.p.version == nil {
		return true
	}
	key, ordering, ok := s.p.version(rec)
	if !ok {
		return true
	}
	if have, seen := s.versions[key]; seen && ordering <= have {
		return false
	}
	s.versions[key] = ordering
	return true
}

// readLoop discards client messages and keeps the read deadline fresh.
func (s *session[T]) readLoop(done chan<- struct{}) {
	defer close(done)

	s.conn.SetReadLimit(s.p.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.p.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.p.cfg.PongTimeout))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", "error", err)
			}
			return
		}
		s.logger.Debug("ignoring client message", "bytes", len(msg))
		s.conn.SetReadDeadline(time.Now().Add(s.p.cfg.PongTimeout))
	}
}

func (s *session[T]) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.p.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *session[T]) closeWith(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, text)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.logger.Debug("close frame failed", "error", err)
	}
}

func (s *session[T]) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
