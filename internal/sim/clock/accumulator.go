// Package clock turns irregular frame callbacks into a strict sequence of fixed steps.
package clock

import (
	"math"
	"time"
)

const (
	DefaultHz           = 60
	DefaultMaxFrame     = 250 * time.Millisecond
	DefaultMaxSteps     = 8
	DefaultBackgroundHz = 2

	// Accumulator units are nanoseconds scaled by the step rate, so one step is
	// exactly one second's worth of nanoseconds regardless of rate.
	unitsPerStep = int64(time.Second)
)

type Result struct {
	Steps     int
	Remainder time.Duration
	// Dropped is whole-step time discarded because the per-call cap was hit.
	Dropped time.Duration
	Capped  bool
}

// Accumulator is not safe for concurrent use; it belongs to the runner goroutine.
type Accumulator struct {
	hz       int64
	maxFrame time.Duration
	acc      int64
}

func New(hz int, maxFrame time.Duration) *Accumulator {
	if hz <= 0 {
		hz = DefaultHz
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Accumulator{hz: int64(hz), maxFrame: maxFrame}
}

func (a *Accumulator) Hz() int { return int(a.hz) }

// StepMs is the nominal step length in milliseconds (16.666… at 60 Hz).
func (a *Accumulator) StepMs() float64 { return 1000 / float64(a.hz) }

// Step is the step length truncated to whole nanoseconds.
func (a *Accumulator) Step() time.Duration { return time.Second / time.Duration(a.hz) }

// Feed adds elapsed time without clamping. Negative values are ignored.
func (a *Accumulator) Feed(d time.Duration) {
	if d <= 0 {
		return
	}
	limit := (math.MaxInt64 - a.acc) / a.hz
	if int64(d) > limit {
		d = time.Duration(limit)
	}
	a.acc += int64(d) * a.hz
}

// Drain runs up to max pending steps (all of them when max <= 0) and returns the count.
func (a *Accumulator) Drain(step func(), max int) int {
	n := 0
	for a.acc >= unitsPerStep && (max <= 0 || n < max) {
		a.acc -= unitsPerStep
		step()
		n++
	}
	return n
}

// Advance is one frame: clamp, accumulate, run at most maxSteps steps, and
// drop whole steps left over when the cap was hit. The sub-step fraction
// always carries to the next call.
func (a *Accumulator) Advance(elapsed time.Duration, step func(), maxSteps int) Result {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > a.maxFrame {
		elapsed = a.maxFrame
	}
	a.Feed(elapsed)
	res := Result{Steps: a.Drain(step, maxSteps)}
	if a.acc >= unitsPerStep {
		excess := a.acc - a.acc%unitsPerStep
		a.acc -= excess
		res.Dropped = time.Duration(excess / a.hz)
		res.Capped = true
	}
	res.Remainder = a.Remainder()
	return res
}

// Pending is the number of whole steps accumulated but not yet run.
func (a *Accumulator) Pending() int64 { return a.acc / unitsPerStep }

func (a *Accumulator) Remainder() time.Duration { return time.Duration(a.acc / a.hz) }

func (a *Accumulator) Reset() { a.acc = 0 }

// SafeFrame is the longest frame that can never trip the per-call cap, used to
// slice coarse background frames into ordinary advance calls.
func (a *Accumulator) SafeFrame(maxSteps int) time.Duration {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	d := time.Duration(int64(maxSteps) * int64(time.Second) / a.hz)
	if d > a.maxFrame {
		d = a.maxFrame
	}
	return d
}

// StepsFor is the exact number of whole steps contained in d.
func (a *Accumulator) StepsFor(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d)/unitsPerStep*a.hz + (int64(d)%unitsPerStep)*a.hz/unitsPerStep
}
