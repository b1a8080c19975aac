package clock

import (
	"testing"
	"time"
)

func run(a *Accumulator, frames []time.Duration) (steps int) {
	for _, f := range frames {
		a.Advance(f, func() { steps++ }, DefaultMaxSteps)
	}
	return steps
}

func TestAdvance_ChunkingInvariance(t *testing.T) {
	one := New(60, 0)
	ten := New(60, 0)

	s1 := run(one, []time.Duration{100 * time.Millisecond})
	frames := make([]time.Duration, 10)
	for i := range frames {
		frames[i] = 10 * time.Millisecond
	}
	s2 := run(ten, frames)

	if s1 != 6 || s2 != 6 {
		t.Fatalf("steps: one call=%d ten calls=%d want 6", s1, s2)
	}
	if one.Remainder() != ten.Remainder() {
		t.Fatalf("remainder mismatch: %v vs %v", one.Remainder(), ten.Remainder())
	}
}

func TestAdvance_IrregularFramesSumExactly(t *testing.T) {
	a := New(60, 0)
	pattern := []time.Duration{7, 33, 16, 17, 50, 1, 99, 12, 5, 120}
	var total time.Duration
	var frames []time.Duration
	for total < 600*time.Millisecond {
		for _, p := range pattern {
			d := p * time.Millisecond
			if total+d > 600*time.Millisecond {
				d = 600*time.Millisecond - total
			}
			if d == 0 {
				break
			}
			frames = append(frames, d)
			total += d
		}
	}
	if got := run(a, frames); got != 36 {
		t.Fatalf("steps=%d want 36 for 600ms", got)
	}
	if a.Remainder() != 0 {
		t.Fatalf("remainder=%v want 0", a.Remainder())
	}
}

func TestAdvance_RemainderCarries(t *testing.T) {
	a := New(60, 0)
	var steps int
	res := a.Advance(10*time.Millisecond, func() { steps++ }, 8)
	if res.Steps != 0 || res.Remainder != 10*time.Millisecond {
		t.Fatalf("first: %+v", res)
	}
	res = a.Advance(10*time.Millisecond, func() { steps++ }, 8)
	if res.Steps != 1 || steps != 1 {
		t.Fatalf("second: %+v", res)
	}
	want := 20*time.Millisecond - time.Second/60
	if d := res.Remainder - want; d < -time.Nanosecond || d > time.Nanosecond {
		t.Fatalf("remainder=%v want≈%v", res.Remainder, want)
	}
}

func TestAdvance_ClampAndCapDropsExcess(t *testing.T) {
	a := New(60, 0)
	var steps int
	res := a.Advance(5*time.Second, func() { steps++ }, 8)
	if res.Steps != 8 || steps != 8 {
		t.Fatalf("steps=%d want cap 8", res.Steps)
	}
	if !res.Capped {
		t.Fatalf("expected capped")
	}
	// 250ms clamp = 15 steps; 8 ran, 7 dropped.
	if want := 7 * time.Second / 60; res.Dropped < want-time.Nanosecond || res.Dropped > want+time.Nanosecond {
		t.Fatalf("dropped=%v want≈%v", res.Dropped, want)
	}
	if a.Pending() != 0 {
		t.Fatalf("pending=%d after cap", a.Pending())
	}
}

func TestFeedDrain_BatchesWithoutDropping(t *testing.T) {
	a := New(60, 0)
	a.Feed(10 * time.Second)
	batches, steps := 0, 0
	for a.Pending() > 0 {
		steps += a.Drain(func() {}, 8)
		batches++
	}
	if steps != 600 {
		t.Fatalf("steps=%d want 600", steps)
	}
	if batches != 75 {
		t.Fatalf("batches=%d want 75", batches)
	}
}

func TestSafeFrameNeverCaps(t *testing.T) {
	a := New(60, 0)
	frame := a.SafeFrame(8)
	for i := 0; i < 200; i++ {
		if res := a.Advance(frame, func() {}, 8); res.Capped {
			t.Fatalf("safe frame capped at iteration %d", i)
		}
	}
	if got := a.StepsFor(time.Second); got != 60 {
		t.Fatalf("StepsFor(1s)=%d", got)
	}
	if got := a.StepsFor(7 * 24 * time.Hour); got != 36288000 {
		t.Fatalf("StepsFor(7d)=%d", got)
	}
}

func TestCadence(t *testing.T) {
	c := Cadence{FrameHz: 60, BackgroundHz: 2}
	if c.Interval(Background) != 500*time.Millisecond {
		t.Fatalf("bg interval=%v", c.Interval(Background))
	}
	if m, ok := ParseMode("bg"); !ok || m != Background || m.String() != "bg" {
		t.Fatalf("ParseMode bg")
	}
	if _, ok := ParseMode("x"); ok {
		t.Fatalf("ParseMode should reject x")
	}
}
