// Package runner owns one game session: it validates host messages, drives
// the engine through the fixed-step accumulator and emits sim messages.
//
// A Runner is not safe for concurrent use. Session wraps it in a single
// goroutine fed by channels.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/protocol"
	"draconia.gg/internal/sim/clock"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/engine"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/tuning"
)

type Phase int

const (
	Uninitialized Phase = iota
	Booted
	Running
	Stopped
	Halted
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Booted:
		return "booted"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Halted:
		return "halted"
	}
	return "unknown"
}

// ErrHalted is returned for every message after a fatal.
var ErrHalted = errors.New("runner halted")

// StateStore persists snapshots per profile. SaveState must not block the
// step loop; implementations queue the write.
type StateStore interface {
	LoadState(ctx context.Context, profile string) (snapshot.Snapshot, error)
	SaveState(profile string, snap snapshot.Snapshot) error
}

// Journal records everything needed to replay a session. Boot receives the
// restored snapshot for a resumed profile and a zero Snapshot otherwise.
type Journal interface {
	Boot(seed uint64, profile string, from snapshot.Snapshot)
	Input(step uint64, msg protocol.HostMsg)
	Checkpoint(step uint64, checksum string)
}

// Observer is notified on every snapshot.
type Observer func(snap snapshot.Snapshot)

type Options struct {
	Tuning tuning.Tuning
	// Config is the enemy configuration; nil leaves spawning disabled.
	Config  *encounter.Config
	Store   StateStore
	Journal Journal
	Log     *logrus.Entry
	// Now is used only to measure frame cost.
	Now func() time.Time
}

type Runner struct {
	opts Options
	emit func(protocol.SimMsg)
	log  *logrus.Entry

	phase   Phase
	mode    clock.Mode
	acc     *clock.Accumulator
	eng     *engine.Engine
	profile string

	observers map[int]Observer
	nextObs   int

	lastSnap     snapshot.Snapshot
	lastPerfWarn uint64
	perf         Perf
}

// Perf aggregates frame cost.
type Perf struct {
	Frames     uint64
	Steps      uint64
	OverBudget uint64
	Capped     uint64
	DroppedMs  float64
	Max        time.Duration
}

func New(opts Options, emit func(protocol.SimMsg)) *Runner {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		opts:      opts,
		emit:      emit,
		log:       opts.Log,
		acc:       clock.New(opts.Tuning.StepHz, opts.Tuning.MaxFrame()),
		observers: map[int]Observer{},
	}
}

func (r *Runner) Phase() Phase           { return r.phase }
func (r *Runner) Mode() clock.Mode       { return r.mode }
func (r *Runner) Engine() *engine.Engine { return r.eng }
func (r *Runner) Perf() Perf             { return r.perf }
func (r *Runner) Profile() string        { return r.profile }

func (r *Runner) LastSnapshot() snapshot.Snapshot { return r.lastSnap }

// Subscribe registers fn for snapshots and returns its removal.
func (r *Runner) Subscribe(fn Observer) func() {
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	return func() { delete(r.observers, id) }
}

// SetConfig swaps the enemy configuration at a step boundary.
func (r *Runner) SetConfig(cfg *encounter.Config) {
	r.opts.Config = cfg
	if r.eng != nil {
		r.eng.SetConfig(cfg)
	}
}

// HandleRaw decodes and handles one host frame.
func (r *Runner) HandleRaw(ctx context.Context, raw []byte) error {
	if r.phase == Halted {
		return ErrHalted
	}
	msg, err := protocol.DecodeHost(raw)
	if err != nil {
		return r.fatal(err)
	}
	return r.Handle(ctx, msg)
}

// Handle applies one decoded host message. Out-of-state messages are fatal.
func (r *Runner) Handle(ctx context.Context, msg protocol.HostMsg) error {
	if r.phase == Halted {
		return ErrHalted
	}
	if r.eng != nil && r.opts.Journal != nil {
		if _, ok := msg.(protocol.BootMsg); !ok {
			r.opts.Journal.Input(r.eng.State().Step, msg)
		}
	}
	switch m := msg.(type) {
	case protocol.BootMsg:
		if r.phase != Uninitialized {
			return r.outOfState(m)
		}
		return r.boot(ctx, m)
	case protocol.StartMsg:
		if r.phase != Booted && r.phase != Stopped {
			return r.outOfState(m)
		}
		mode, ok := clock.ParseMode(m.Mode)
		if !ok {
			return r.fatal(simerr.Protocolf("runner.start", "unknown mode %q", m.Mode))
		}
		r.mode = mode
		r.phase = Running
		r.log.WithField("mode", mode).Debug("running")
	case protocol.SetModeMsg:
		if r.phase != Running {
			return r.outOfState(m)
		}
		mode, ok := clock.ParseMode(m.Mode)
		if !ok {
			return r.fatal(simerr.Protocolf("runner.setMode", "unknown mode %q", m.Mode))
		}
		r.mode = mode
	case protocol.StopMsg:
		if r.phase != Running {
			return r.outOfState(m)
		}
		r.phase = Stopped
		r.acc.Reset()
		r.checkpoint()
	case protocol.OfflineMsg:
		// Booted is only reachable straight from boot, so this also rules
		// out offline after any start.
		if r.phase != Booted {
			return r.outOfState(m)
		}
		return r.offline(m)
	case protocol.AbilityMsg:
		if r.phase != Running {
			return r.outOfState(m)
		}
		ok, err := r.eng.QueueAbility(m.ID)
		if err != nil {
			return r.fatal(err)
		}
		if !ok {
			r.log.WithField("ability", m.ID).Debug("ability on cooldown")
			r.emit(protocol.Log(protocol.LevelWarn, fmt.Sprintf("ability %s on cooldown", m.ID)))
		}
	default:
		return r.fatal(simerr.Protocolf("runner", "unhandled message %q", msg.Kind()))
	}
	return nil
}

func (r *Runner) outOfState(msg protocol.HostMsg) error {
	return r.fatal(simerr.Protocolf("runner", "%s not valid while %s", msg.Kind(), r.phase))
}

// fatal emits the reason and halts the session.
func (r *Runner) fatal(err error) error {
	r.phase = Halted
	r.log.WithError(err).Error("session halted")
	r.emit(protocol.Fatal(simerr.Reason(err)))
	return err
}

func (r *Runner) boot(ctx context.Context, m protocol.BootMsg) error {
	t := r.opts.Tuning
	if m.Version != t.ProtocolVersion {
		return r.fatal(simerr.Protocolf("runner.boot", "protocol version %d, want %d", m.Version, t.ProtocolVersion))
	}

	eng, resumed, err := r.load(ctx, m)
	if err != nil {
		if simerr.Is(err, simerr.KindIntegrity) {
			// The host chooses between retrying and a fresh profile.
			r.log.WithError(err).WithField("profile", m.Profile).Warn("saved state rejected")
			r.emit(protocol.IntegrityError(simerr.Reason(err)))
			return err
		}
		return r.fatal(err)
	}
	r.eng = eng
	r.profile = m.Profile
	r.phase = Booted
	r.acc.Reset()

	st := eng.State()
	if r.opts.Journal != nil {
		var from snapshot.Snapshot
		if resumed {
			from = r.lastSnap
		}
		r.opts.Journal.Boot(st.Seed, m.Profile, from)
	}
	ready := protocol.Ready(t.ProtocolVersion)
	if resumed {
		ready.Resumed = true
		ready.Step = st.Step
	}
	r.log.WithFields(logrus.Fields{"seed": st.Seed, "profile": m.Profile, "resumed": resumed, "step": st.Step}).Info("booted")
	r.emit(ready)
	return nil
}

func (r *Runner) load(ctx context.Context, m protocol.BootMsg) (*engine.Engine, bool, error) {
	t := r.opts.Tuning
	if m.Profile == "" || r.opts.Store == nil {
		eng, err := engine.Boot(t, r.opts.Config, m.Seed)
		return eng, false, err
	}
	snap, err := r.opts.Store.LoadState(ctx, m.Profile)
	if errors.Is(err, simerr.ErrNotFound) {
		eng, err := engine.Boot(t, r.opts.Config, m.Seed)
		return eng, false, err
	}
	if err != nil {
		return nil, false, err
	}
	st, err := snapshot.Restore(snap.Bytes, snap.Checksum)
	if err != nil {
		return nil, false, err
	}
	if st.Seed != m.Seed {
		r.log.WithFields(logrus.Fields{"profile": m.Profile, "saved_seed": st.Seed, "boot_seed": m.Seed}).Warn("resuming saved seed")
	}
	eng, err := engine.Resume(t, r.opts.Config, st)
	if err != nil {
		return nil, false, err
	}
	r.lastSnap = snap
	return eng, true, nil
}

// Advance feeds one frame of real time. Background frames are sliced so the
// per-call step cap is never hit.
func (r *Runner) Advance(elapsed time.Duration) {
	if r.phase != Running {
		return
	}
	start := r.opts.Now()
	steps := 0
	if r.mode == clock.Background {
		limit := 4 * r.cadence().Interval(clock.Background)
		if elapsed > limit {
			elapsed = limit
		}
		slice := r.acc.SafeFrame(r.opts.Tuning.MaxStepsPerFrame)
		for elapsed > 0 && r.phase == Running {
			d := elapsed
			if d > slice {
				d = slice
			}
			elapsed -= d
			steps += r.frame(d)
		}
	} else {
		steps = r.frame(elapsed)
	}
	r.observePerf(r.opts.Now().Sub(start), steps)
}

func (r *Runner) cadence() clock.Cadence {
	return clock.Cadence{FrameHz: r.opts.Tuning.FrameHz, BackgroundHz: r.opts.Tuning.BackgroundHz}
}

// Interval is how often the session should call Advance in the current mode.
func (r *Runner) Interval() time.Duration { return r.cadence().Interval(r.mode) }

func (r *Runner) frame(d time.Duration) int {
	res := r.acc.Advance(d, r.stepAndTick, r.opts.Tuning.MaxStepsPerFrame)
	if res.Capped {
		r.perf.Capped++
		r.perf.DroppedMs += float64(res.Dropped) / float64(time.Millisecond)
		r.log.WithField("dropped", res.Dropped).Debug("frame step cap hit")
	}
	return res.Steps
}

// StepN runs n steps without the accumulator; replay and tools use it.
func (r *Runner) StepN(n int) error {
	if r.eng == nil {
		return simerr.Protocolf("runner.step", "not booted")
	}
	for i := 0; i < n && r.phase != Halted; i++ {
		if err := r.step(); err != nil {
			return err
		}
	}
	if r.phase == Halted {
		return ErrHalted
	}
	return nil
}

func (r *Runner) stepAndTick() {
	if r.phase != Running {
		return
	}
	if err := r.step(); err != nil {
		return
	}
	r.emitTick()
}

// step runs one engine step and snapshots on the cadence. A failed step is a
// determinism breach and halts the session.
func (r *Runner) step() error {
	if err := r.eng.Step(); err != nil {
		return r.fatal(err)
	}
	r.perf.Steps++
	if r.eng.State().Step%r.opts.Tuning.SnapshotEverySteps() == 0 {
		r.checkpoint()
	}
	return nil
}

func (r *Runner) emitTick() {
	st := r.eng.State()
	stats := r.eng.Stats()
	tick := protocol.TickMsg{
		T:    protocol.TypeTick,
		Now:  r.eng.NowMs(),
		DtMs: r.acc.StepMs(),
		Mode: r.mode.String(),
		Stats: protocol.TickStats{
			Enemies:  stats.Enemies,
			Proj:     stats.Proj,
			Land:     stats.Land,
			Ward:     stats.Ward,
			Distance: stats.Distance,
			HPPct:    stats.HPPct,
			Gold:     stats.Gold.String(),
			Arcana:   stats.Arcana.String(),
			Soul:     stats.Soul.String(),
			Kills:    stats.Kills,
		},
	}
	if r.lastSnap.Step == st.Step && r.lastSnap.Checksum != "" {
		tick.Step = st.Step
		tick.Checksum = r.lastSnap.Checksum
	}
	r.emit(tick)
}

// checkpoint digests the state, hands it to the store and observers, and
// records it in the journal.
// Suspend checkpoints a booted runner so its profile save is current when the
// host tears the session down.
func (r *Runner) Suspend() {
	if r.phase == Uninitialized || r.phase == Halted {
		return
	}
	r.checkpoint()
}

func (r *Runner) checkpoint() {
	snap, err := r.eng.Digest()
	if err != nil {
		r.fatal(simerr.Wrap(simerr.KindDeterminism, "runner.snapshot", err))
		return
	}
	r.lastSnap = snap
	if r.opts.Journal != nil {
		r.opts.Journal.Checkpoint(snap.Step, snap.Checksum)
	}
	if r.opts.Store != nil && r.profile != "" {
		if err := r.opts.Store.SaveState(r.profile, snap); err != nil {
			r.log.WithError(err).WithField("profile", r.profile).Warn("snapshot not queued")
		}
	}
	for _, fn := range r.observers {
		fn(snap)
	}
}

func (r *Runner) observePerf(d time.Duration, steps int) {
	r.perf.Frames++
	if d > r.perf.Max {
		r.perf.Max = d
	}
	warn := time.Duration(r.opts.Tuning.PerfWarnMs) * time.Millisecond
	if warn <= 0 || d <= warn {
		return
	}
	r.perf.OverBudget++
	st := r.eng.State().Step
	if r.lastPerfWarn != 0 && st-r.lastPerfWarn < r.opts.Tuning.SnapshotEverySteps() {
		return
	}
	r.lastPerfWarn = st
	msg := fmt.Sprintf("frame took %s for %d steps (warn at %s)", d.Round(time.Microsecond), steps, warn)
	r.log.WithField("steps", steps).Warn(msg)
	r.emit(protocol.Log(protocol.LevelWarn, msg))
}
