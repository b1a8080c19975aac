package rng

import (
	"testing"

	"draconia.gg/internal/sim/simerr"
)

func TestPCG32_ReferenceVector(t *testing.T) {
	// pcg32-demo: seed 42, sequence 54.
	p := NewPCG32(42, 54)
	want := []uint32{0xa15c02b7, 0x7b47f409, 0xba1d3330, 0x83d2f293, 0xbfa4784b, 0xcbed606e}
	for i, w := range want {
		if got := p.Uint32(); got != w {
			t.Fatalf("draw %d: got %#08x want %#08x", i, got, w)
		}
	}
	if p.Draws() != uint64(len(want)) {
		t.Fatalf("draws=%d", p.Draws())
	}
}

func TestIntRange_Bounds(t *testing.T) {
	p := NewPCG32(7, 1)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := p.IntRange(3, 9)
		if v < 3 || v > 9 {
			t.Fatalf("out of range: %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 7 {
		t.Fatalf("expected all 7 values, saw %d", len(seen))
	}
	if p.IntRange(5, 5) != 5 {
		t.Fatalf("degenerate range")
	}
	for i := 0; i < 1000; i++ {
		f := p.Float01()
		if f < 0 || f >= 1 {
			t.Fatalf("Float01 out of range: %v", f)
		}
	}
}

func TestStreams_IndependentOfOtherDraws(t *testing.T) {
	master := MasterSeed(42)
	a, err := SeedStreams(master)
	if err != nil {
		t.Fatalf("seed a: %v", err)
	}
	b, err := SeedStreams(master)
	if err != nil {
		t.Fatalf("seed b: %v", err)
	}

	for step := 0; step < 200; step++ {
		// Runner b burns extra crits draws between equivalent steps.
		for i := 0; i < step%7; i++ {
			b.Crits().Uint32()
		}
		b.Variance().Float01()
		if x, y := a.Spawns().Uint32(), b.Spawns().Uint32(); x != y {
			t.Fatalf("spawns diverged at step %d: %d vs %d", step, x, y)
		}
	}
}

func TestStreams_AddingStreamKeepsExistingSequences(t *testing.T) {
	master := MasterSeed(1337)
	base, _ := SeedStreams(master)
	more, err := SeedStreams(master, "weather")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 50; i++ {
		if base.Drops().Uint32() != more.Drops().Uint32() {
			t.Fatalf("drops changed after adding a stream")
		}
	}
	if _, err := more.Get("weather"); err != nil {
		t.Fatalf("extra stream missing: %v", err)
	}
}

func TestStreams_UnknownAndCollision(t *testing.T) {
	s, _ := SeedStreams(MasterSeed(1))
	if _, err := s.Get("loot"); !simerr.Is(err, simerr.KindDeterminism) {
		t.Fatalf("unknown stream err=%v", err)
	}
	if _, err := SeedStreams(1, StreamCrits); !simerr.Is(err, simerr.KindDeterminism) {
		t.Fatalf("collision err=%v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MustGet should panic")
		}
	}()
	s.MustGet("loot")
}

func TestStreams_CursorRestoreContinuesSequence(t *testing.T) {
	s, _ := SeedStreams(MasterSeed(99))
	for i := 0; i < 17; i++ {
		s.Crits().Uint32()
		s.Spawns().Float01()
	}
	restored, err := Restore(s.Seed(), s.Cursors())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	for i := 0; i < 20; i++ {
		if s.Crits().Uint32() != restored.Crits().Uint32() {
			t.Fatalf("crits diverged after restore at %d", i)
		}
	}
	if restored.Spawns().Draws() != 17 {
		t.Fatalf("draw count not restored: %d", restored.Spawns().Draws())
	}

	cur := s.Cursors()
	cur[0].Inc = 2
	if _, err := Restore(s.Seed(), cur); !simerr.Is(err, simerr.KindIntegrity) {
		t.Fatalf("even increment should fail integrity, got %v", err)
	}
	if _, err := Restore(s.Seed(), cur[1:]); err == nil {
		t.Fatalf("missing stream should fail")
	}
}
