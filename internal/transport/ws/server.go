// Package ws hosts one simulation session per websocket connection. Frames
// are the JSON protocol messages, one per text message.
package ws

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	plog "draconia.gg/internal/persistence/log"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/engine"
	"draconia.gg/internal/sim/runner"
	"draconia.gg/internal/sim/tuning"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 75 * time.Second
	pingPeriod = 30 * time.Second
	maxFrame   = 16 * 1024
)

type Config struct {
	Tuning tuning.Tuning
	// Configs supplies the enemy config; sessions follow every reload.
	Configs *encounter.ConfigHolder
	Store   runner.StateStore
	// JournalDir, when set, gets one journal directory per session.
	JournalDir string
	// OnJournalClosed is called with a session's journal directory once the
	// session has ended and the journal is flushed.
	OnJournalClosed func(dir string)

	MaxSessions int
	InCap       int
	OutCap      int
	Log         *logrus.Entry
}

type Server struct {
	cfg Config
	log *logrus.Entry

	upgrader websocket.Upgrader

	active   atomic.Int64
	total    atomic.Uint64
	rejected atomic.Uint64

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	closing  bool
	sessions map[string]*runner.Session
	// Totals over ended sessions.
	perf     runner.Perf
	counters engine.Counters
}

type Stats struct {
	Active   int64
	Total    uint64
	Rejected uint64

	Frames          uint64
	Steps           uint64
	OverBudget      uint64
	Capped          uint64
	Hits            uint64
	Crits           uint64
	Deaths          uint64
	Spawns          uint64
	AbilityRejected uint64
}

func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Configs == nil {
		cfg.Configs = encounter.NewConfigHolder()
	}
	base, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:  cfg,
		log:  cfg.Log,
		base: base,
		stop: stop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*runner.Session{},
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Active:          s.active.Load(),
		Total:           s.total.Load(),
		Rejected:        s.rejected.Load(),
		Frames:          s.perf.Frames,
		Steps:           s.perf.Steps,
		OverBudget:      s.perf.OverBudget,
		Capped:          s.perf.Capped,
		Hits:            s.counters.Hits,
		Crits:           s.counters.Crits,
		Deaths:          s.counters.Deaths,
		Spawns:          s.counters.Spawns,
		AbilityRejected: s.counters.AbilityRejected,
	}
}

// Shutdown cancels every live session, which checkpoints it, and waits for
// the connections to close. New connections are refused from the first call.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) record(d runner.Diagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf.Frames += d.Perf.Frames
	s.perf.Steps += d.Perf.Steps
	s.perf.OverBudget += d.Perf.OverBudget
	s.perf.Capped += d.Perf.Capped
	s.counters.Hits += d.Counters.Hits
	s.counters.Crits += d.Counters.Crits
	s.counters.Deaths += d.Counters.Deaths
	s.counters.Spawns += d.Counters.Spawns
	s.counters.AbilityRejected += d.Counters.AbilityRejected
}

// Sessions returns the ids of the live sessions.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		if max := s.cfg.MaxSessions; max > 0 && s.active.Load() >= int64(max) {
			s.rejected.Add(1)
			http.Error(rw, "too many sessions", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrame)

		s.active.Add(1)
		s.total.Add(1)
		defer s.active.Add(-1)

		s.serve(conn)
	}
}

func (s *Server) serve(conn *websocket.Conn) {
	id := uuid.NewString()
	log := s.log.WithField("remote", conn.RemoteAddr().String())

	opts := runner.Options{
		Tuning: s.cfg.Tuning,
		Config: s.cfg.Configs.Config(),
		Store:  s.cfg.Store,
		Log:    log,
	}
	var journal *plog.Journal
	if s.cfg.JournalDir != "" {
		dir := filepath.Join(s.cfg.JournalDir, id)
		journal = plog.NewJournal(dir, log.WithField("session", id))
		opts.Journal = journal
		defer func() {
			if err := journal.Close(); err != nil {
				log.WithError(err).WithField("session", id).Warn("journal close")
			}
			if s.cfg.OnJournalClosed != nil {
				s.cfg.OnJournalClosed(dir)
			}
		}()
	}
	sess := runner.NewSessionWithID(id, opts, s.cfg.InCap, s.cfg.OutCap)
	unsub := s.cfg.Configs.Subscribe(func(cfg *encounter.Config, _ bool) { sess.UpdateConfig(cfg) })
	defer unsub()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		err := sess.Run(ctx)
		cancel()
		runDone <- err
	}()

	// Writer goroutine. Out closes when the session stops.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case b, ok := <-sess.Out():
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(time.Second))
					_ = conn.Close()
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					for range sess.Out() {
					}
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
				}
			}
		}
	}()

	// Reader loop.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := sess.Submit(ctx, msg); err != nil {
			break
		}
	}
	cancel()

	err := <-runDone
	<-writeDone
	diag := sess.Diagnostics()
	s.record(diag)
	fields := logrus.Fields{
		"session":       id,
		"dropped_ticks": sess.DroppedTicks(),
		"step":          diag.Step,
		"steps":         diag.Perf.Steps,
	}
	if diag.Profile != "" {
		fields["profile"] = diag.Profile
	}
	switch {
	case errors.Is(err, runner.ErrHalted):
		log.WithFields(fields).Warn("session halted")
	default:
		log.WithFields(fields).Info("session closed")
	}
}
