package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"draconia.gg/internal/protocol"
	"draconia.gg/internal/sim/clock"
)

// offline replays elapsed time as fixed steps in capped batches, up to
// offline_max_steps. Time beyond that is fast-forwarded and reported as a
// partial catch-up. The runner then enters Running in the foreground.
func (r *Runner) offline(m protocol.OfflineMsg) error {
	t := r.opts.Tuning
	req := m.ElapsedMs
	maxMs := float64(t.OfflineMaxMs)
	ms := req
	if ms > maxMs || math.IsNaN(ms) {
		ms = maxMs
	}
	if ms < 0 {
		ms = 0
	}
	total := time.Duration(ms * float64(time.Millisecond))

	acc := clock.New(t.StepHz, t.MaxFrame())
	acc.Feed(total)
	batch := t.MaxStepsPerFrame
	limit := int(t.OfflineMaxSteps)
	steps := 0
	var failed bool
	stepFn := func() {
		if failed {
			return
		}
		if err := r.step(); err != nil {
			failed = true
		}
	}
	for steps < limit && !failed {
		n := batch
		if left := limit - steps; n > left {
			n = left
		}
		ran := acc.Drain(stepFn, n)
		if ran == 0 {
			break
		}
		steps += ran
	}
	if failed {
		return ErrHalted
	}

	simulated := time.Duration(int64(steps) * int64(time.Second) / int64(t.StepHz))
	approx := total - simulated
	if approx > 0 {
		r.eng.FastForward(approx)
	}
	r.checkpoint()
	if r.phase == Halted {
		return ErrHalted
	}
	r.phase = Running
	r.mode = clock.Foreground
	r.acc.Reset()

	partial := acc.Pending() > 0
	toMs := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	r.emit(protocol.BgCoveredMsg{
		T:              protocol.TypeBgCovered,
		CoveredMs:      ms,
		RequestedMs:    req,
		SimulatedMs:    toMs(simulated),
		ApproximatedMs: toMs(approx),
		Partial:        partial,
	})
	fields := logrus.Fields{"requested_ms": req, "steps": steps, "approximated": approx}
	if partial || req > maxMs {
		var msg string
		if req > maxMs {
			msg = fmt.Sprintf("offline catch-up capped at %s; stepped %s, approximated %s",
				total, simulated, approx.Round(time.Millisecond))
		} else {
			msg = fmt.Sprintf("offline catch-up partial: stepped %s, approximated %s of %s",
				simulated, approx.Round(time.Millisecond), total)
		}
		r.log.WithFields(fields).Warn(msg)
		r.emit(protocol.Log(protocol.LevelWarn, msg))
		return nil
	}
	r.log.WithFields(fields).Info("offline catch-up complete")
	return nil
}
