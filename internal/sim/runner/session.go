package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"draconia.gg/internal/protocol"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/engine"
)

// Session runs a Runner on its own goroutine. Host frames arrive on In; sim
// frames leave on Out, which Run closes on return. Ticks are dropped when Out
// is full; every other message waits.
type Session struct {
	ID string

	r      *Runner
	in     chan []byte
	out    chan []byte
	cfg    chan *encounter.Config
	ctx    context.Context
	log    *logrus.Entry
	frames func() time.Time

	droppedTicks atomic.Uint64
	started      atomic.Bool
}

func NewSession(opts Options, inCap, outCap int) *Session {
	return NewSessionWithID(uuid.NewString(), opts, inCap, outCap)
}

func NewSessionWithID(id string, opts Options, inCap, outCap int) *Session {
	if inCap <= 0 {
		inCap = 16
	}
	if outCap <= 0 {
		outCap = 256
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts.Log = opts.Log.WithField("session", id)
	s := &Session{
		ID:     id,
		in:     make(chan []byte, inCap),
		out:    make(chan []byte, outCap),
		cfg:    make(chan *encounter.Config, 1),
		log:    opts.Log,
		frames: time.Now,
	}
	s.r = New(opts, s.emit)
	return s
}

func (s *Session) In() chan<- []byte  { return s.in }
func (s *Session) Out() <-chan []byte { return s.out }

func (s *Session) DroppedTicks() uint64 { return s.droppedTicks.Load() }

// Diagnostics is what a finished session reports to its host.
type Diagnostics struct {
	Profile  string
	Step     uint64
	Perf     Perf
	Counters engine.Counters
}

// Diagnostics must only be called after Run has returned.
func (s *Session) Diagnostics() Diagnostics {
	d := Diagnostics{
		Profile: s.r.Profile(),
		Step:    s.r.LastSnapshot().Step,
		Perf:    s.r.Perf(),
	}
	if e := s.r.Engine(); e != nil {
		d.Counters = e.Counters()
	}
	return d
}

// Submit queues one host frame, waiting while the inbox is full.
func (s *Session) Submit(ctx context.Context, raw []byte) error {
	select {
	case s.in <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateConfig hands a new enemy config to the session goroutine; only the
// latest pending value is kept.
func (s *Session) UpdateConfig(cfg *encounter.Config) {
	for {
		select {
		case s.cfg <- cfg:
			return
		default:
		}
		select {
		case <-s.cfg:
		default:
		}
	}
}

func (s *Session) emit(m protocol.SimMsg) {
	b, err := protocol.Encode(m)
	if err != nil {
		s.log.WithError(err).Error("encode")
		return
	}
	if m.Kind() == protocol.TypeTick {
		select {
		case s.out <- b:
		default:
			s.droppedTicks.Add(1)
		}
		return
	}
	select {
	case s.out <- b:
	case <-s.ctx.Done():
	}
}

// Run owns the runner until ctx ends or the runner halts.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	s.ctx = ctx
	defer close(s.out)

	interval := s.r.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := s.frames()

	for {
		select {
		case <-ctx.Done():
			s.r.Suspend()
			return ctx.Err()
		case cfg := <-s.cfg:
			s.r.SetConfig(cfg)
		case raw := <-s.in:
			was := s.r.Phase()
			if err := s.r.HandleRaw(ctx, raw); errors.Is(err, ErrHalted) || s.r.Phase() == Halted {
				return ErrHalted
			}
			if was != Running && s.r.Phase() == Running {
				last = s.frames()
			}
			if iv := s.r.Interval(); iv != interval {
				interval = iv
				ticker.Reset(interval)
			}
		case <-ticker.C:
			now := s.frames()
			s.r.Advance(now.Sub(last))
			last = now
			if s.r.Phase() == Halted {
				return ErrHalted
			}
		}
	}
}
